package paymentlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Record creates a new log entry. It is called after the primary billing
// mutation has been saved; the caller treats a failure here as non-fatal.
func (s *Service) Record(ctx context.Context, e *Entry) error {
	if e.TransactionID == "" {
		return fmt.Errorf("transaction_id is required")
	}
	if e.SubjectID == uuid.Nil {
		return fmt.Errorf("subject_id is required")
	}
	if e.Status == "" {
		e.Status = StatusInitiated
	}
	if _, ok := transitions[e.Status]; !ok {
		return fmt.Errorf("unknown payment status: %s", e.Status)
	}

	if _, err := s.repo.GetByTransactionID(ctx, e.TransactionID); err == nil {
		return &DuplicateError{TransactionID: e.TransactionID}
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	e.History = []StatusChange{{Status: e.Status, At: time.Now().UTC()}}
	return s.repo.Create(ctx, e)
}

// UpdateStatus moves an entry forward and appends to its history. History is
// never truncated or rewritten.
func (s *Service) UpdateStatus(ctx context.Context, transactionID string, newStatus Status, reason string) (*Entry, error) {
	e, err := s.get(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if !CanTransition(e.Status, newStatus) {
		return nil, &TransitionError{From: e.Status, To: newStatus}
	}

	e.History = append(e.History, StatusChange{Status: newStatus, Reason: reason, At: time.Now().UTC()})
	e.Status = newStatus
	if err := s.repo.Update(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// RecordRefund attaches the refund sub-record to a completed payment and
// transitions it to refunded.
func (s *Service) RecordRefund(ctx context.Context, transactionID string, amount decimal.Decimal, method, reason string) (*Entry, error) {
	e, err := s.get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(e.Status, StatusRefunded) {
		return nil, &TransitionError{From: e.Status, To: StatusRefunded}
	}

	now := time.Now().UTC()
	e.Refund = &Refund{Amount: amount, Method: method, Reason: reason, At: now}
	e.History = append(e.History, StatusChange{Status: StatusRefunded, Reason: reason, At: now})
	e.Status = StatusRefunded
	if err := s.repo.Update(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) Get(ctx context.Context, transactionID string) (*Entry, error) {
	return s.get(ctx, transactionID)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Entry, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) ListBySubject(ctx context.Context, subjectID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	return s.repo.ListBySubject(ctx, subjectID, limit, offset)
}

func (s *Service) get(ctx context.Context, transactionID string) (*Entry, error) {
	e, err := s.repo.GetByTransactionID(ctx, transactionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{TransactionID: transactionID}
	}
	return e, err
}
