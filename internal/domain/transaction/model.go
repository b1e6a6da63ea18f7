package transaction

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind classifies a transaction audit record.
type Kind string

const (
	KindReceipt      Kind = "receipt"
	KindConsultation Kind = "consultation"
	KindReassignment Kind = "reassignment"
)

// Record is a secondary best-effort audit entry, separate from the payment
// log. Negative amounts denote refunds.
type Record struct {
	ID            uuid.UUID       `json:"id"`
	TransactionID string          `json:"transaction_id"`
	Kind          Kind            `json:"kind"`
	SubjectID     uuid.UUID       `json:"subject_id"`
	Amount        decimal.Decimal `json:"amount"`
	CreatedAt     time.Time       `json:"created_at"`
}
