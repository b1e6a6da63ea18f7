package transaction

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type mockRepo struct {
	mu      sync.Mutex
	records []*Record
}

func (m *mockRepo) Create(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.New()
	m.records = append(m.records, r)
	return nil
}

func (m *mockRepo) GetByTransactionID(_ context.Context, txnID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.TransactionID == txnID {
			return r, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records, len(m.records), nil
}

func (m *mockRepo) ListBySubject(_ context.Context, subjectID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Record
	for _, r := range m.records {
		if r.SubjectID == subjectID {
			out = append(out, r)
		}
	}
	return out, len(out), nil
}

func TestRecord_Valid(t *testing.T) {
	svc := NewService(&mockRepo{})
	amount, _ := decimal.NewFromString("850")

	rec, err := svc.Record(context.Background(), KindConsultation, "txn-1", uuid.New(), amount)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Kind != KindConsultation {
		t.Errorf("expected consultation, got %s", rec.Kind)
	}
	if rec.ID == uuid.Nil {
		t.Error("expected assigned id")
	}
}

func TestRecord_NegativeAmountAllowed(t *testing.T) {
	svc := NewService(&mockRepo{})
	amount, _ := decimal.NewFromString("-500")

	if _, err := svc.Record(context.Background(), KindReceipt, "txn-refund", uuid.New(), amount); err != nil {
		t.Fatalf("refund amounts are negative by convention: %v", err)
	}
}

func TestRecord_Validation(t *testing.T) {
	svc := NewService(&mockRepo{})
	amount, _ := decimal.NewFromString("100")

	if _, err := svc.Record(context.Background(), Kind("bogus"), "txn-1", uuid.New(), amount); err == nil {
		t.Error("expected error for unknown kind")
	}
	if _, err := svc.Record(context.Background(), KindReceipt, "", uuid.New(), amount); err == nil {
		t.Error("expected error for missing transaction_id")
	}
	if _, err := svc.Record(context.Background(), KindReceipt, "txn-1", uuid.Nil, amount); err == nil {
		t.Error("expected error for missing subject_id")
	}
}

func TestGet(t *testing.T) {
	svc := NewService(&mockRepo{})
	amount, _ := decimal.NewFromString("100")
	if _, err := svc.Record(context.Background(), KindReceipt, "txn-1", uuid.New(), amount); err != nil {
		t.Fatalf("record: %v", err)
	}

	rec, err := svc.Get(context.Background(), "txn-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.TransactionID != "txn-1" {
		t.Errorf("wrong record: %s", rec.TransactionID)
	}
}
