package labbilling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BillStatus is the lifecycle state of a test-request bill.
type BillStatus string

const (
	StatusNotGenerated  BillStatus = "not_generated"
	StatusGenerated     BillStatus = "generated"
	StatusPartiallyPaid BillStatus = "partially_paid"
	StatusPaid          BillStatus = "paid"
	StatusCancelled     BillStatus = "cancelled"
	StatusRefunded      BillStatus = "refunded"
)

// Action is a billing operation applied to a bill.
type Action string

const (
	ActionGenerate Action = "generate"
	ActionPay      Action = "pay"
	ActionCancel   Action = "cancel"
	ActionRefund   Action = "refund"
)

// transitions is the explicit state table: which actions are legal from each
// status. The successor status of a payment depends on amounts and is derived
// by statusAfterPayment; cancel and refund have fixed successors.
var transitions = map[BillStatus]map[Action]bool{
	StatusNotGenerated:  {ActionGenerate: true},
	StatusGenerated:     {ActionPay: true, ActionCancel: true},
	StatusPartiallyPaid: {ActionPay: true, ActionCancel: true},
	// Paid bills still accept payments (top-up tolerance for under-reported
	// partial workflows) and may be cancelled; refund requires a prior cancel.
	StatusPaid:      {ActionPay: true, ActionCancel: true},
	StatusCancelled: {ActionRefund: true},
	StatusRefunded:  {},
}

// CanApply reports whether action is legal from status. It returns a
// StateConflictError naming the current status otherwise.
func CanApply(status BillStatus, action Action) error {
	if transitions[status][action] {
		return nil
	}
	return &StateConflictError{Current: status, Action: action}
}

// statusAfterPayment derives the post-payment status from the new cumulative
// paid amount.
func statusAfterPayment(paid, amount decimal.Decimal) BillStatus {
	if paid.GreaterThanOrEqual(amount) {
		return StatusPaid
	}
	return StatusPartiallyPaid
}

// RequestStatus is the outer workflow state of a test request.
type RequestStatus string

const (
	RequestPending          RequestStatus = "pending"
	RequestBillingGenerated RequestStatus = "billing_generated"
	RequestBillingPaid      RequestStatus = "billing_paid"
	RequestAssignedToLab    RequestStatus = "assigned_to_lab"
	RequestTestingCompleted RequestStatus = "testing_completed"
	RequestReportSent       RequestStatus = "report_sent"
	RequestCancelled        RequestStatus = "cancelled"
)

// TestRequest is a lab test order. It owns exactly one Bill.
type TestRequest struct {
	ID         uuid.UUID     `json:"id"`
	PatientID  uuid.UUID     `json:"patient_id"`
	TestType   string        `json:"test_type"`
	Status     RequestStatus `json:"status"`
	CenterCode string        `json:"center_code"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// BillItem is a single charge line inside a bill. Total is computed, never
// accepted from the caller.
type BillItem struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Total     decimal.Decimal `json:"total"`
}

// Bill is the financial record of a test request.
type Bill struct {
	ID            uuid.UUID       `json:"id"`
	RequestID     uuid.UUID       `json:"request_id"`
	Status        BillStatus      `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	Currency      string          `json:"currency"`
	Items         []BillItem      `json:"items"`
	Taxes         decimal.Decimal `json:"taxes"`
	Discounts     decimal.Decimal `json:"discounts"`
	InvoiceNumber string          `json:"invoice_number"`
	Notes         *string         `json:"notes,omitempty"`

	GeneratedBy *string    `json:"generated_by,omitempty"`
	GeneratedAt *time.Time `json:"generated_at,omitempty"`

	PaidBy        *string    `json:"paid_by,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	PaymentMethod *string    `json:"payment_method,omitempty"`

	CancelledBy     *string    `json:"cancelled_by,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CancelledReason *string    `json:"cancelled_reason,omitempty"`

	RefundedBy   *string          `json:"refunded_by,omitempty"`
	RefundedAt   *time.Time       `json:"refunded_at,omitempty"`
	RefundAmount *decimal.Decimal `json:"refund_amount,omitempty"`
	RefundMethod *string          `json:"refund_method,omitempty"`
	RefundReason *string          `json:"refund_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Balance returns the amount still owed on the bill.
func (b *Bill) Balance() decimal.Decimal {
	bal := b.Amount.Sub(b.PaidAmount)
	if bal.IsNegative() {
		return decimal.Zero
	}
	return bal
}

// RefundRecord is an append-only record of a refund applied to a bill.
type RefundRecord struct {
	ID        uuid.UUID       `json:"id"`
	BillID    uuid.UUID       `json:"bill_id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Reason    string          `json:"reason"`
	AppliedBy string          `json:"applied_by"`
	AppliedAt time.Time       `json:"applied_at"`
}

// NotFoundError reports a missing test request or bill.
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

// StateConflictError reports an action that is illegal for the bill's current
// status. The current status is included so the caller can reconcile.
type StateConflictError struct {
	Current BillStatus
	Action  Action
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("cannot %s bill in status %q", e.Action, e.Current)
}

// AmountError reports a refund or payment amount outside the permitted
// bounds, carrying requested vs available so the operator can correct the
// next attempt.
type AmountError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *AmountError) Error() string {
	return fmt.Sprintf("requested amount %s exceeds available %s",
		e.Requested.StringFixed(2), e.Available.StringFixed(2))
}
