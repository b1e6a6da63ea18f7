package paymentlog

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type mockRepo struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

func newMockRepo() *mockRepo {
	return &mockRepo{entries: make(map[string]*Entry)}
}

func (m *mockRepo) Create(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uuid.New()
	m.entries[e.TransactionID] = e
	return nil
}

func (m *mockRepo) GetByTransactionID(_ context.Context, txnID string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[txnID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return e, nil
}

func (m *mockRepo) Update(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.TransactionID] = e
	return nil
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*Entry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Entry
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out, len(out), nil
}

func (m *mockRepo) ListBySubject(_ context.Context, subjectID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Entry
	for _, e := range m.entries {
		if e.SubjectID == subjectID {
			out = append(out, e)
		}
	}
	return out, len(out), nil
}

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func record(t *testing.T, svc *Service, txnID string) *Entry {
	t.Helper()
	e := &Entry{
		TransactionID: txnID,
		SubjectType:   "test_request",
		SubjectID:     uuid.New(),
		Amount:        d("500"),
		PaymentType:   "lab_test",
		PaymentMethod: "cash",
	}
	if err := svc.Record(context.Background(), e); err != nil {
		t.Fatalf("record: %v", err)
	}
	return e
}

func TestRecord_DefaultsToInitiated(t *testing.T) {
	svc := NewService(newMockRepo())
	e := record(t, svc, "txn-1")

	if e.Status != StatusInitiated {
		t.Errorf("expected initiated, got %s", e.Status)
	}
	if len(e.History) != 1 || e.History[0].Status != StatusInitiated {
		t.Errorf("expected single initiated history entry, got %v", e.History)
	}
}

func TestRecord_DuplicateTransactionID(t *testing.T) {
	svc := NewService(newMockRepo())
	record(t, svc, "txn-1")

	err := svc.Record(context.Background(), &Entry{
		TransactionID: "txn-1",
		SubjectID:     uuid.New(),
	})
	var de *DuplicateError
	if !errors.As(err, &de) {
		t.Errorf("expected duplicate error, got %v", err)
	}
}

func TestRecord_MissingTransactionID(t *testing.T) {
	svc := NewService(newMockRepo())
	if err := svc.Record(context.Background(), &Entry{SubjectID: uuid.New()}); err == nil {
		t.Error("expected error for missing transaction_id")
	}
}

func TestUpdateStatus_ForwardPath(t *testing.T) {
	svc := NewService(newMockRepo())
	record(t, svc, "txn-1")

	e, err := svc.UpdateStatus(context.Background(), "txn-1", StatusProcessing, "gateway accepted")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e, err = svc.UpdateStatus(context.Background(), "txn-1", StatusCompleted, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if e.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", e.Status)
	}
	if len(e.History) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(e.History))
	}
	// History is append-only: the original entry is untouched.
	if e.History[0].Status != StatusInitiated || e.History[1].Status != StatusProcessing {
		t.Errorf("history rewritten: %v", e.History)
	}
}

func TestUpdateStatus_BackwardRejected(t *testing.T) {
	svc := NewService(newMockRepo())
	record(t, svc, "txn-1")
	if _, err := svc.UpdateStatus(context.Background(), "txn-1", StatusCompleted, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, err := svc.UpdateStatus(context.Background(), "txn-1", StatusProcessing, "")
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected transition error, got %v", err)
	}
	if te.From != StatusCompleted || te.To != StatusProcessing {
		t.Errorf("unexpected transition error contents: %v", te)
	}
}

func TestUpdateStatus_TerminalStates(t *testing.T) {
	svc := NewService(newMockRepo())

	record(t, svc, "txn-f")
	if _, err := svc.UpdateStatus(context.Background(), "txn-f", StatusFailed, "declined"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if _, err := svc.UpdateStatus(context.Background(), "txn-f", StatusCompleted, ""); err == nil {
		t.Error("expected failed to be terminal")
	}

	record(t, svc, "txn-c")
	if _, err := svc.UpdateStatus(context.Background(), "txn-c", StatusCancelled, "user aborted"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := svc.UpdateStatus(context.Background(), "txn-c", StatusProcessing, ""); err == nil {
		t.Error("expected cancelled to be terminal")
	}
}

func TestUpdateStatus_RefundOnlyFromCompleted(t *testing.T) {
	svc := NewService(newMockRepo())
	record(t, svc, "txn-1")

	if _, err := svc.UpdateStatus(context.Background(), "txn-1", StatusRefunded, ""); err == nil {
		t.Error("expected refund from initiated to be rejected")
	}
}

func TestRecordRefund(t *testing.T) {
	svc := NewService(newMockRepo())
	record(t, svc, "txn-1")
	if _, err := svc.UpdateStatus(context.Background(), "txn-1", StatusCompleted, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}

	e, err := svc.RecordRefund(context.Background(), "txn-1", d("500"), "upi", "order cancelled")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Status != StatusRefunded {
		t.Errorf("expected refunded, got %s", e.Status)
	}
	if e.Refund == nil || !e.Refund.Amount.Equal(d("500")) {
		t.Errorf("expected refund sub-record, got %v", e.Refund)
	}

	if _, err := svc.RecordRefund(context.Background(), "txn-1", d("1"), "upi", "again"); err == nil {
		t.Error("expected second refund to be rejected")
	}
}

func TestUpdateStatus_UnknownTransaction(t *testing.T) {
	svc := NewService(newMockRepo())
	_, err := svc.UpdateStatus(context.Background(), "no-such", StatusCompleted, "")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestCanTransition_Table(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusInitiated, StatusProcessing, true},
		{StatusInitiated, StatusCompleted, true},
		{StatusInitiated, StatusRefunded, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusInitiated, false},
		{StatusCompleted, StatusRefunded, true},
		{StatusCompleted, StatusCancelled, false},
		{StatusRefunded, StatusCompleted, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.ok {
			t.Errorf("%s -> %s: expected %v", tc.from, tc.to, tc.ok)
		}
	}
}
