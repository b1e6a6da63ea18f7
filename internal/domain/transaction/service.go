package transaction

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var validKinds = map[Kind]bool{
	KindReceipt:      true,
	KindConsultation: true,
	KindReassignment: true,
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Record writes one audit record. Best effort: callers log and swallow
// failures rather than rolling back the billing mutation that produced it.
func (s *Service) Record(ctx context.Context, kind Kind, transactionID string, subjectID uuid.UUID, amount decimal.Decimal) (*Record, error) {
	if !validKinds[kind] {
		return nil, fmt.Errorf("unknown transaction kind: %s", kind)
	}
	if transactionID == "" {
		return nil, fmt.Errorf("transaction_id is required")
	}
	if subjectID == uuid.Nil {
		return nil, fmt.Errorf("subject_id is required")
	}

	r := &Record{
		TransactionID: transactionID,
		Kind:          kind,
		SubjectID:     subjectID,
		Amount:        amount,
	}
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) Get(ctx context.Context, transactionID string) (*Record, error) {
	return s.repo.GetByTransactionID(ctx, transactionID)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Record, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) ListBySubject(ctx context.Context, subjectID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	return s.repo.ListBySubject(ctx, subjectID, limit, offset)
}
