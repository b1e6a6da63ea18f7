package encounterbilling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bucket is the isolation tag separating a patient's two billing
// collections. The reassignment bucket is cleared on every new reassignment
// and is never merged with the primary one.
type Bucket string

const (
	BucketPrimary      Bucket = "primary"
	BucketReassignment Bucket = "reassignment"
)

// ItemType classifies a billing line item.
type ItemType string

const (
	TypeConsultation ItemType = "consultation"
	TypeRegistration ItemType = "registration"
	TypeService      ItemType = "service"
	TypeTest         ItemType = "test"
	TypeMedication   ItemType = "medication"
)

// ItemStatus is the payment state of a line item.
type ItemStatus string

const (
	ItemPending           ItemStatus = "pending"
	ItemPaid              ItemStatus = "paid"
	ItemPartiallyPaid     ItemStatus = "partially_paid"
	ItemCancelled         ItemStatus = "cancelled"
	ItemRefunded          ItemStatus = "refunded"
	ItemPartiallyRefunded ItemStatus = "partially_refunded"
)

// PatientBehavior is recorded at refund time and drives the registration-fee
// penalty rule.
type PatientBehavior string

const (
	BehaviorOkay PatientBehavior = "okay"
	BehaviorRude PatientBehavior = "rude"
)

// RefundType distinguishes a full refund request from a partial one.
type RefundType string

const (
	RefundFull    RefundType = "full"
	RefundPartial RefundType = "partial"
)

// ConsultationType selects the consultation fee tier.
type ConsultationType string

const (
	ConsultOP ConsultationType = "OP"
	ConsultIP ConsultationType = "IP"
)

// LineItem is a single charge in a patient's billing collection. Collection
// order (created_at ascending) is the payment waterfall order.
type LineItem struct {
	ID          uuid.UUID       `json:"id"`
	PatientID   uuid.UUID       `json:"patient_id"`
	Bucket      Bucket          `json:"bucket"`
	Type        ItemType        `json:"type"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	// RefundAmount is cumulative across refunds. Invariant: never exceeds
	// PaidAmount.
	RefundAmount decimal.Decimal `json:"refund_amount"`
	Status       ItemStatus      `json:"status"`
	DoctorID     *uuid.UUID      `json:"doctor_id,omitempty"`

	InvoiceNumber     string     `json:"invoice_number"`
	IsFollowup        bool       `json:"is_followup"`
	IsReassignedEntry bool       `json:"is_reassigned_entry"`
	ReassignedEntryID *uuid.UUID `json:"reassigned_entry_id,omitempty"`

	// Penalty metadata, recorded on cancellation.
	PenaltyAmount   *decimal.Decimal `json:"penalty_amount,omitempty"`
	PenaltyType     *RefundType      `json:"penalty_refund_type,omitempty"`
	PenaltyBehavior *PatientBehavior `json:"penalty_behavior,omitempty"`

	CancelledReason *string `json:"cancelled_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Remaining returns the unpaid portion of the item.
func (li *LineItem) Remaining() decimal.Decimal {
	rem := li.Amount.Sub(li.PaidAmount)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// Available returns the refundable balance ignoring the penalty policy.
func (li *LineItem) Available() decimal.Decimal {
	avail := li.PaidAmount.Sub(li.RefundAmount)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

// Terminal reports whether the item can no longer take payments.
func (li *LineItem) Terminal() bool {
	return li.Status == ItemCancelled || li.Status == ItemRefunded
}

// PatientProfile tracks the per-patient billing state that drives
// reassignment eligibility.
type PatientProfile struct {
	PatientID                uuid.UUID  `json:"patient_id"`
	FirstConsultationDate    *time.Time `json:"first_consultation_date,omitempty"`
	LastPaidConsultationDate *time.Time `json:"last_paid_consultation_date,omitempty"`
	IsReassigned             bool       `json:"is_reassigned"`
	FollowupUsed             bool       `json:"followup_used"`
	CurrentReassignmentID    *uuid.UUID `json:"current_reassignment_id,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

// RefundRecord is appended for every line item touched by a refund. Never
// mutated after creation.
type RefundRecord struct {
	ID         uuid.UUID       `json:"id"`
	LineItemID uuid.UUID       `json:"line_item_id"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
	Reason     string          `json:"reason"`
	Behavior   PatientBehavior `json:"patient_behavior"`
	RefundType RefundType      `json:"refund_type"`
	AppliedBy  string          `json:"applied_by"`
	AppliedAt  time.Time       `json:"applied_at"`
}

// InvoiceSnapshot is the finalized view handed to the PDF rendering service.
type InvoiceSnapshot struct {
	InvoiceNumber string          `json:"invoice_number"`
	PatientID     uuid.UUID       `json:"patient_id"`
	Bucket        Bucket          `json:"bucket"`
	Items         []*LineItem     `json:"items"`
	Total         decimal.Decimal `json:"total"`
	GeneratedAt   time.Time       `json:"generated_at"`
}

// NotFoundError reports a missing patient profile or line item.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ValidationError reports malformed input. No mutation is attempted.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// AmountError reports a refund request exceeding the refundable balance,
// carrying requested vs available.
type AmountError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *AmountError) Error() string {
	return fmt.Sprintf("requested refund %s exceeds refundable %s",
		e.Requested.StringFixed(2), e.Available.StringFixed(2))
}
