package labbilling

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/platform/invoice"
)

// ---- in-memory mocks ----

type mockRequestRepo struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*TestRequest
}

func newMockRequestRepo() *mockRequestRepo {
	return &mockRequestRepo{requests: make(map[uuid.UUID]*TestRequest)}
}

func (m *mockRequestRepo) Create(_ context.Context, r *TestRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	m.requests[r.ID] = r
	return nil
}

func (m *mockRequestRepo) GetByID(_ context.Context, id uuid.UUID) (*TestRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return r, nil
}

func (m *mockRequestRepo) UpdateStatus(_ context.Context, id uuid.UUID, status RequestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return pgx.ErrNoRows
	}
	r.Status = status
	return nil
}

func (m *mockRequestRepo) List(_ context.Context, limit, offset int) ([]*TestRequest, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*TestRequest
	for _, r := range m.requests {
		out = append(out, r)
	}
	return out, len(out), nil
}

type mockBillRepo struct {
	mu      sync.Mutex
	bills   map[uuid.UUID]*Bill // keyed by request ID
	refunds []*RefundRecord
}

func newMockBillRepo() *mockBillRepo {
	return &mockBillRepo{bills: make(map[uuid.UUID]*Bill)}
}

func (m *mockBillRepo) Create(_ context.Context, b *Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.ID = uuid.New()
	m.bills[b.RequestID] = b
	return nil
}

func (m *mockBillRepo) GetByRequestID(_ context.Context, requestID uuid.UUID) (*Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bills[requestID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return b, nil
}

func (m *mockBillRepo) Update(_ context.Context, b *Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bills[b.RequestID] = b
	return nil
}

func (m *mockBillRepo) AddRefundRecord(_ context.Context, r *RefundRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunds = append(m.refunds, r)
	return nil
}

func (m *mockBillRepo) ListRefundRecords(_ context.Context, billID uuid.UUID) ([]*RefundRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*RefundRecord
	for _, r := range m.refunds {
		if r.BillID == billID {
			out = append(out, r)
		}
	}
	return out, nil
}

type mockAuditor struct {
	mu         sync.Mutex
	events     []PaymentEvent
	ShouldFail bool
}

func (m *mockAuditor) RecordPayment(_ context.Context, e PaymentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return errors.New("audit store unavailable")
	}
	m.events = append(m.events, e)
	return nil
}

type mockTxnAuditor struct {
	mu    sync.Mutex
	kinds []string
}

func (m *mockTxnAuditor) RecordTransaction(_ context.Context, kind, _ string, _ uuid.UUID, _ decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kinds = append(m.kinds, kind)
	return nil
}

type mockNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (m *mockNotifier) Notify(_ context.Context, _ []string, title, _ string, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.titles = append(m.titles, title)
}

// ---- fixtures ----

type fixture struct {
	svc      *Service
	requests *mockRequestRepo
	bills    *mockBillRepo
	audit    *mockAuditor
	txns     *mockTxnAuditor
	notifier *mockNotifier
}

func newFixture() *fixture {
	f := &fixture{
		requests: newMockRequestRepo(),
		bills:    newMockBillRepo(),
		audit:    &mockAuditor{},
		txns:     &mockTxnAuditor{},
		notifier: &mockNotifier{},
	}
	f.svc = NewService(f.requests, f.bills, invoice.NewGenerator("main"), f.audit, f.txns, f.notifier, zerolog.Nop())
	return f
}

func (f *fixture) newRequest(t *testing.T) *TestRequest {
	t.Helper()
	req := &TestRequest{PatientID: uuid.New(), TestType: "cbc"}
	if err := f.svc.CreateTestRequest(context.Background(), req); err != nil {
		t.Fatalf("create request: %v", err)
	}
	return req
}

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func (f *fixture) generate(t *testing.T, requestID uuid.UUID, prices ...string) *Bill {
	t.Helper()
	items := make([]BillItemInput, 0, len(prices))
	for i, p := range prices {
		items = append(items, BillItemInput{Name: "test-" + string(rune('a'+i)), Quantity: 1, UnitPrice: d(p)})
	}
	bill, err := f.svc.GenerateBill(context.Background(), requestID, GenerateInput{Items: items, Currency: "INR"}, "tech-1")
	if err != nil {
		t.Fatalf("generate bill: %v", err)
	}
	return bill
}

// ---- generate ----

func TestGenerateBill_ComputesAmounts(t *testing.T) {
	f := newFixture()
	req := f.newRequest(t)

	bill, err := f.svc.GenerateBill(context.Background(), req.ID, GenerateInput{
		Items: []BillItemInput{
			{Name: "cbc", Quantity: 2, UnitPrice: d("150")},
			{Name: "lipid", Quantity: 1, UnitPrice: d("400")},
		},
		Taxes:     d("50"),
		Discounts: d("100"),
		Currency:  "INR",
	}, "tech-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !bill.Amount.Equal(d("650")) {
		t.Errorf("expected amount 650, got %s", bill.Amount)
	}
	if bill.Status != StatusGenerated {
		t.Errorf("expected generated, got %s", bill.Status)
	}
	if !strings.HasPrefix(bill.InvoiceNumber, "MAIN-LAB-") {
		t.Errorf("unexpected invoice number %q", bill.InvoiceNumber)
	}
	if got := f.requests.requests[req.ID].Status; got != RequestBillingGenerated {
		t.Errorf("expected request billing_generated, got %s", got)
	}
	if len(f.notifier.titles) != 1 || f.notifier.titles[0] != "Bill generated" {
		t.Errorf("expected bill-generated notification, got %v", f.notifier.titles)
	}
}

func TestGenerateBill_DiscountExceedsSubtotal(t *testing.T) {
	f := newFixture()
	req := f.newRequest(t)

	bill, err := f.svc.GenerateBill(context.Background(), req.ID, GenerateInput{
		Items:     []BillItemInput{{Name: "cbc", Quantity: 1, UnitPrice: d("100")}},
		Discounts: d("500"),
	}, "tech-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bill.Amount.IsZero() {
		t.Errorf("expected amount clamped to 0, got %s", bill.Amount)
	}
}

func TestGenerateBill_Validation(t *testing.T) {
	f := newFixture()
	req := f.newRequest(t)

	cases := []struct {
		name string
		in   GenerateInput
	}{
		{"empty items", GenerateInput{}},
		{"missing name", GenerateInput{Items: []BillItemInput{{UnitPrice: d("10")}}}},
		{"zero price", GenerateInput{Items: []BillItemInput{{Name: "cbc", UnitPrice: d("0")}}}},
		{"negative price", GenerateInput{Items: []BillItemInput{{Name: "cbc", UnitPrice: d("-5")}}}},
		{"negative taxes", GenerateInput{Items: []BillItemInput{{Name: "cbc", UnitPrice: d("10")}}, Taxes: d("-1")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.GenerateBill(context.Background(), req.ID, tc.in, "tech-1")
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestGenerateBill_AlreadyGenerated(t *testing.T) {
	f := newFixture()
	req := f.newRequest(t)
	f.generate(t, req.ID, "100")

	_, err := f.svc.GenerateBill(context.Background(), req.ID,
		GenerateInput{Items: []BillItemInput{{Name: "x", UnitPrice: d("10")}}}, "tech-1")
	var sc *StateConflictError
	if !errors.As(err, &sc) {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if sc.Current != StatusGenerated {
		t.Errorf("expected current status in error, got %s", sc.Current)
	}
}

func TestGenerateBill_UnknownRequest(t *testing.T) {
	f := newFixture()
	_, err := f.svc.GenerateBill(context.Background(), uuid.New(),
		GenerateInput{Items: []BillItemInput{{Name: "x", UnitPrice: d("10")}}}, "tech-1")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("expected not found, got %v", err)
	}
}

// ---- payments ----

func TestRecordPayment_PartialThenFull(t *testing.T) {
	f := newFixture()
	req := f.newRequest(t)
	f.generate(t, req.ID, "500")

	bill, err := f.svc.RecordPayment(context.Background(), req.ID, d("200"), "cash", "", "fd-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bill.Status != StatusPartiallyPaid {
		t.Errorf("expected partially_paid, got %s", bill.Status)
	}
	if got := f.requests.requests[req.ID].Status; got != RequestBillingGenerated {
		t.Errorf("partial payment should not advance request, got %s", got)
	}

	bill, err = f.svc.RecordPayment(context.Background(), req.ID, d("300"), "cash", "", "fd-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bill.Status != StatusPaid {
		t.Errorf("expected paid, got %s", bill.Status)
	}
	if !bill.PaidAmount.Equal(d("500")) {
		t.Errorf("expected paid 500, got %s", bill.PaidAmount)
	}
	if got := f.requests.requests[req.ID].Status; got != RequestAssignedToLab {
		t.Errorf("expected assigned_to_lab, got %s", got)
	}
}

// Paid amount stays within [0, amount] even when a top-up overshoots.
func TestRecordPayment_PaidBounds(t *testing.T) {
	f := newFixture()
	req := f.newRequest(t)
	f.generate(t, req.ID, "500")

	bill, err := f.svc.RecordPayment(context.Background(), req.ID, d("800"), "card", "", "fd-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bill.PaidAmount.Equal(bill.Amount) {
		t.Errorf("expected paid capped at %s, got %s", bill.Amount, bill.PaidAmount)
	}

	// Top-up against an already paid bill is tolerated and still capped.
	bill, err = f.svc.RecordPayment(context.Background(), req.ID, d("100"), "card", "", "fd-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bill.PaidAmount.GreaterThan(bill.Amount) || bill.PaidAmount.IsNegative() {
		t.Errorf("paid bounds violated: paid=%s amount=%s", bill.PaidAmount, bill.Amount)
	}
}

func TestRecordPayment_CompletedTestsGuard(t *testing.T) {
	f := newFixture()
	req := f.newRequest(t)
	f.generate(t, req.ID, "500")
	f.requests.requests[req.ID].Status = RequestTestingCompleted

	_, err := f.svc.RecordPayment(context.Background(), req.ID, d("500"), "cash", "", "fd-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.requests.requests[req.ID].Status; got != RequestReportSent {
		t.Errorf("expected report_sent, got %s", got)
	}
}

func TestRecordPayment_BeforeGenerate(t *testing.T) {
	f := newFixture()
	req := f.newRequest(t)

	_, err := f.svc.RecordPayment(context.Background(), req.ID, d("100"), "cash", "", "fd-1")
	var sc *StateConflictError
	if !errors.As(err, &sc) {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if sc.Current != StatusNotGenerated {
		t.Errorf("expected not_generated in error, got %s", sc.Current)
	}
}

func TestRecordPayment_NonPositiveAmount(t *testing.T) {
	f := newFixture()
	req := f.newRequest(t)
	f.generate(t, req.ID, "500")

	_, err := f.svc.RecordPayment(context.Background(), req.ID, d("0"), "cash", "", "fd-1")
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected validation error, got %v", err)
	}
}

// ---- cancel ----

func TestCancelBill_FromPaidResetsRequest(t *testing.T) {
	f := newFixture()
	req := f.newRequest(t)
	f.generate(t, req.ID, "500")
	if _, err := f.svc.RecordPayment(context.Background(), req.ID, d("500"), "cash", "", "fd-1"); err != nil {
		t.Fatalf("payment: %v", err)
	}

	bill, err := f.svc.CancelBill(context.Background(), req.ID, "duplicate order", "billing-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bill.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", bill.Status)
	}
	if got := f.requests.requests[req.ID].Status; got != RequestPending {
		t.Errorf("expected request reset to pending, got %s", got)
	}
}

func TestCancelBill_Twice(t *testing.T) {
	f := newFixture()
	req := f.newRequest(t)
	f.generate(t, req.ID, "500")
	if _, err := f.svc.CancelBill(context.Background(), req.ID, "dup", "billing-1"); err != nil {
		t.Fatalf("first cancel: %v", err)
	}

	_, err := f.svc.CancelBill(context.Background(), req.ID, "dup", "billing-1")
	var sc *StateConflictError
	if !errors.As(err, &sc) {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if sc.Current != StatusCancelled {
		t.Errorf("expected cancelled in error, got %s", sc.Current)
	}
}

func TestCancelBill_RequiresReason(t *testing.T) {
	f := newFixture()
	req := f.newRequest(t)
	f.generate(t, req.ID, "500")

	_, err := f.svc.CancelBill(context.Background(), req.ID, "", "billing-1")
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected validation error, got %v", err)
	}
}

// ---- refund ----

func TestRefundBill_RequiresCancelled(t *testing.T) {
	f := newFixture()
	req := f.newRequest(t)
	f.generate(t, req.ID, "500")
	if _, err := f.svc.RecordPayment(context.Background(), req.ID, d("500"), "cash", "", "fd-1"); err != nil {
		t.Fatalf("payment: %v", err)
	}

	_, err := f.svc.RefundBill(context.Background(), req.ID, d("500"), "cash", "overcharged", "billing-1")
	var sc *StateConflictError
	if !errors.As(err, &sc) {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if sc.Current != StatusPaid {
		t.Errorf("expected paid in error, got %s", sc.Current)
	}
}

func TestRefundBill_ExceedsPaid(t *testing.T) {
	f := newFixture()
	req := f.newRequest(t)
	f.generate(t, req.ID, "500")
	if _, err := f.svc.RecordPayment(context.Background(), req.ID, d("300"), "cash", "", "fd-1"); err != nil {
		t.Fatalf("payment: %v", err)
	}
	if _, err := f.svc.CancelBill(context.Background(), req.ID, "dup", "billing-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	_, err := f.svc.RefundBill(context.Background(), req.ID, d("400"), "cash", "refund", "billing-1")
	var ae *AmountError
	if !errors.As(err, &ae) {
		t.Fatalf("expected amount error, got %v", err)
	}
	if !ae.Available.Equal(d("300")) {
		t.Errorf("expected available 300 in error, got %s", ae.Available)
	}
}

func TestRefundBill_Success(t *testing.T) {
	f := newFixture()
	req := f.newRequest(t)
	f.generate(t, req.ID, "500")
	if _, err := f.svc.RecordPayment(context.Background(), req.ID, d("500"), "cash", "", "fd-1"); err != nil {
		t.Fatalf("payment: %v", err)
	}
	if _, err := f.svc.CancelBill(context.Background(), req.ID, "dup", "billing-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	bill, err := f.svc.RefundBill(context.Background(), req.ID, d("500"), "upi", "duplicate order", "billing-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bill.Status != StatusRefunded {
		t.Errorf("expected refunded, got %s", bill.Status)
	}
	if bill.RefundAmount == nil || !bill.RefundAmount.Equal(d("500")) {
		t.Errorf("expected refund amount 500, got %v", bill.RefundAmount)
	}
	if len(f.bills.refunds) != 1 {
		t.Fatalf("expected 1 refund record, got %d", len(f.bills.refunds))
	}

	// refunded is terminal
	_, err = f.svc.RefundBill(context.Background(), req.ID, d("1"), "upi", "again", "billing-1")
	var sc *StateConflictError
	if !errors.As(err, &sc) {
		t.Errorf("expected state conflict on second refund, got %v", err)
	}
}

// ---- audit decoupling ----

// A failed audit write never rolls back the billing mutation.
func TestAuditFailure_DoesNotAffectPayment(t *testing.T) {
	f := newFixture()
	f.audit.ShouldFail = true
	req := f.newRequest(t)
	f.generate(t, req.ID, "500")

	bill, err := f.svc.RecordPayment(context.Background(), req.ID, d("500"), "cash", "", "fd-1")
	if err != nil {
		t.Fatalf("payment should succeed despite audit failure: %v", err)
	}
	if bill.Status != StatusPaid {
		t.Errorf("expected paid, got %s", bill.Status)
	}
	stored, _ := f.bills.GetByRequestID(context.Background(), req.ID)
	if !stored.PaidAmount.Equal(d("500")) {
		t.Errorf("mutation not persisted: paid=%s", stored.PaidAmount)
	}
}

// ---- transition table ----

func TestCanApply(t *testing.T) {
	cases := []struct {
		status BillStatus
		action Action
		ok     bool
	}{
		{StatusNotGenerated, ActionGenerate, true},
		{StatusNotGenerated, ActionPay, false},
		{StatusGenerated, ActionPay, true},
		{StatusGenerated, ActionRefund, false},
		{StatusPartiallyPaid, ActionCancel, true},
		{StatusPaid, ActionPay, true},
		{StatusPaid, ActionCancel, true},
		{StatusPaid, ActionRefund, false},
		{StatusCancelled, ActionRefund, true},
		{StatusCancelled, ActionPay, false},
		{StatusRefunded, ActionRefund, false},
		{StatusRefunded, ActionCancel, false},
	}
	for _, tc := range cases {
		err := CanApply(tc.status, tc.action)
		if tc.ok && err != nil {
			t.Errorf("%s/%s: expected allowed, got %v", tc.status, tc.action, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s/%s: expected rejection", tc.status, tc.action)
		}
	}
}
