package paymentlog

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a logged payment event.
type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// transitions lists the legal forward moves. failed, cancelled and refunded
// are terminal; history is never rewritten, only extended.
var transitions = map[Status]map[Status]bool{
	StatusInitiated:  {StatusProcessing: true, StatusCompleted: true, StatusFailed: true, StatusCancelled: true},
	StatusProcessing: {StatusCompleted: true, StatusFailed: true, StatusCancelled: true},
	StatusCompleted:  {StatusRefunded: true},
	StatusFailed:     {},
	StatusCancelled:  {},
	StatusRefunded:   {},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// StatusChange is one entry in an append-only status history.
type StatusChange struct {
	Status Status    `json:"status"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Refund is the optional refund sub-record attached when a completed payment
// is refunded.
type Refund struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method"`
	Reason string          `json:"reason,omitempty"`
	At     time.Time       `json:"at"`
}

// Entry is a write-once observational record of a billing event. It
// references but does not own its subject and is never a source of truth for
// current billing state.
type Entry struct {
	ID            uuid.UUID       `json:"id"`
	TransactionID string          `json:"transaction_id"`
	SubjectType   string          `json:"subject_type"`
	SubjectID     uuid.UUID       `json:"subject_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentType   string          `json:"payment_type"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	Status        Status          `json:"status"`
	History       []StatusChange  `json:"status_history"`
	Refund        *Refund         `json:"refund,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NotFoundError reports an unknown transaction id.
type NotFoundError struct {
	TransactionID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("payment log entry %s not found", e.TransactionID)
}

// TransitionError reports an illegal status move.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal payment status transition %s -> %s", e.From, e.To)
}

// DuplicateError reports a transaction id already logged.
type DuplicateError struct {
	TransactionID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("transaction %s already logged", e.TransactionID)
}
