package labbilling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/platform/invoice"
)

// PaymentEvent is the audit payload handed to the payment log after a
// billing mutation has been saved.
type PaymentEvent struct {
	TransactionID string
	SubjectType   string
	SubjectID     uuid.UUID
	Amount        decimal.Decimal
	PaymentType   string
	Method        string
	Status        string
	Reason        string
}

// PaymentAuditor records payment events. Writes are best effort: a failure is
// logged and swallowed, never propagated into the billing mutation.
type PaymentAuditor interface {
	RecordPayment(ctx context.Context, e PaymentEvent) error
}

// TransactionAuditor is the secondary receipt/consultation audit trail, with
// the same asymmetric durability as PaymentAuditor.
type TransactionAuditor interface {
	RecordTransaction(ctx context.Context, kind, transactionID string, subjectID uuid.UUID, amount decimal.Decimal) error
}

// Notifier delivers stakeholder notifications. Fire and forget.
type Notifier interface {
	Notify(ctx context.Context, recipients []string, title, message string, data map[string]string)
}

type Service struct {
	requests RequestRepository
	bills    BillRepository
	invoices *invoice.Generator
	audit    PaymentAuditor
	txns     TransactionAuditor
	notifier Notifier
	log      zerolog.Logger
}

func NewService(requests RequestRepository, bills BillRepository, gen *invoice.Generator, audit PaymentAuditor, txns TransactionAuditor, notifier Notifier, log zerolog.Logger) *Service {
	return &Service{
		requests: requests,
		bills:    bills,
		invoices: gen,
		audit:    audit,
		txns:     txns,
		notifier: notifier,
		log:      log,
	}
}

// BillItemInput is a caller-supplied charge line. Totals are computed here.
type BillItemInput struct {
	Name      string          `json:"name" validate:"required"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"required"`
}

// GenerateInput carries the parameters of bill generation.
type GenerateInput struct {
	Items     []BillItemInput `json:"items" validate:"required,min=1,dive"`
	Taxes     decimal.Decimal `json:"taxes"`
	Discounts decimal.Decimal `json:"discounts"`
	Currency  string          `json:"currency"`
	Notes     *string         `json:"notes,omitempty"`
}

// CreateTestRequest registers a new lab test order in pending state.
func (s *Service) CreateTestRequest(ctx context.Context, r *TestRequest) error {
	if r.PatientID == uuid.Nil {
		return validationErrorf("patient_id is required")
	}
	if r.TestType == "" {
		return validationErrorf("test_type is required")
	}
	r.Status = RequestPending
	return s.requests.Create(ctx, r)
}

func (s *Service) GetTestRequest(ctx context.Context, id uuid.UUID) (*TestRequest, error) {
	req, err := s.requests.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Resource: "test request", ID: id.String()}
	}
	return req, err
}

func (s *Service) ListTestRequests(ctx context.Context, limit, offset int) ([]*TestRequest, int, error) {
	return s.requests.List(ctx, limit, offset)
}

// GetBill returns the bill for a test request. A request whose bill has not
// been generated yet reports a Bill in status not_generated rather than an
// error, so callers see the same closed status vocabulary everywhere.
func (s *Service) GetBill(ctx context.Context, requestID uuid.UUID) (*Bill, error) {
	if _, err := s.GetTestRequest(ctx, requestID); err != nil {
		return nil, err
	}
	bill, err := s.bills.GetByRequestID(ctx, requestID)
	if errors.Is(err, pgx.ErrNoRows) {
		return &Bill{RequestID: requestID, Status: StatusNotGenerated}, nil
	}
	return bill, err
}

// GenerateBill creates the bill for a test request and moves the request into
// billing_generated. Fails if a bill already exists for the request.
func (s *Service) GenerateBill(ctx context.Context, requestID uuid.UUID, in GenerateInput, actor string) (*Bill, error) {
	req, err := s.GetTestRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if existing, err := s.bills.GetByRequestID(ctx, requestID); err == nil {
		return nil, &StateConflictError{Current: existing.Status, Action: ActionGenerate}
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	if len(in.Items) == 0 {
		return nil, validationErrorf("at least one bill item is required")
	}

	items := make([]BillItem, 0, len(in.Items))
	subTotal := decimal.Zero
	for i, it := range in.Items {
		if it.Name == "" {
			return nil, validationErrorf("item %d: name is required", i)
		}
		if !it.UnitPrice.IsPositive() {
			return nil, validationErrorf("item %d: unit_price must be positive", i)
		}
		qty := it.Quantity
		if qty < 1 {
			qty = 1
		}
		total := it.UnitPrice.Mul(decimal.NewFromInt(int64(qty)))
		items = append(items, BillItem{Name: it.Name, Quantity: qty, UnitPrice: it.UnitPrice, Total: total})
		subTotal = subTotal.Add(total)
	}

	if in.Taxes.IsNegative() || in.Discounts.IsNegative() {
		return nil, validationErrorf("taxes and discounts must be non-negative")
	}

	amount := subTotal.Add(in.Taxes).Sub(in.Discounts)
	if amount.IsNegative() {
		amount = decimal.Zero
	}

	now := time.Now().UTC()
	bill := &Bill{
		RequestID:     requestID,
		Status:        StatusGenerated,
		Amount:        amount,
		PaidAmount:    decimal.Zero,
		Currency:      in.Currency,
		Items:         items,
		Taxes:         in.Taxes,
		Discounts:     in.Discounts,
		InvoiceNumber: s.invoices.Next(invoice.TypeLab),
		Notes:         in.Notes,
		GeneratedBy:   &actor,
		GeneratedAt:   &now,
	}
	if err := s.bills.Create(ctx, bill); err != nil {
		return nil, err
	}
	if err := s.requests.UpdateStatus(ctx, requestID, RequestBillingGenerated); err != nil {
		return nil, err
	}

	s.recordAudit(ctx, PaymentEvent{
		TransactionID: uuid.New().String(),
		SubjectType:   "test_request",
		SubjectID:     requestID,
		Amount:        amount,
		PaymentType:   "lab_test",
		Status:        "initiated",
	})
	s.sendNotification(ctx, req, "Bill generated",
		"Invoice "+bill.InvoiceNumber+" generated for lab tests",
		map[string]string{"invoice_number": bill.InvoiceNumber, "amount": amount.StringFixed(2)})

	return bill, nil
}

// RecordPayment applies a payment to a generated bill. The stored paid amount
// is capped at the bill amount so the paid bounds invariant holds even for
// top-ups against an already paid bill.
func (s *Service) RecordPayment(ctx context.Context, requestID uuid.UUID, amount decimal.Decimal, method, txnRef, actor string) (*Bill, error) {
	req, err := s.GetTestRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	bill, err := s.bills.GetByRequestID(ctx, requestID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &StateConflictError{Current: StatusNotGenerated, Action: ActionPay}
	} else if err != nil {
		return nil, err
	}

	if err := CanApply(bill.Status, ActionPay); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, validationErrorf("payment amount must be positive")
	}

	newPaid := bill.PaidAmount.Add(amount)
	bill.Status = statusAfterPayment(newPaid, bill.Amount)
	if newPaid.GreaterThan(bill.Amount) {
		newPaid = bill.Amount
	}
	bill.PaidAmount = newPaid

	now := time.Now().UTC()
	bill.PaidBy = &actor
	bill.PaidAt = &now
	bill.PaymentMethod = &method

	if err := s.bills.Update(ctx, bill); err != nil {
		return nil, err
	}

	if bill.Status == StatusPaid {
		// Completed-tests guard: once testing is finished the request moves
		// to report_sent instead of re-opening lab assignment, which would
		// create a duplicate request downstream.
		next := RequestAssignedToLab
		if req.Status == RequestTestingCompleted {
			next = RequestReportSent
		}
		if err := s.requests.UpdateStatus(ctx, requestID, next); err != nil {
			return nil, err
		}
	}

	if txnRef == "" {
		txnRef = uuid.New().String()
	}
	s.recordAudit(ctx, PaymentEvent{
		TransactionID: txnRef,
		SubjectType:   "test_request",
		SubjectID:     requestID,
		Amount:        amount,
		PaymentType:   "lab_test",
		Method:        method,
		Status:        "completed",
	})
	s.recordTransaction(ctx, "receipt", txnRef, requestID, amount)
	s.sendNotification(ctx, req, "Payment received",
		"Payment recorded against invoice "+bill.InvoiceNumber,
		map[string]string{"invoice_number": bill.InvoiceNumber, "amount": amount.StringFixed(2), "balance": bill.Balance().StringFixed(2)})

	return bill, nil
}

// CancelBill cancels a bill in any non-terminal state, including paid (a
// refund is a separate, later action), and resets the owning request to
// pending.
func (s *Service) CancelBill(ctx context.Context, requestID uuid.UUID, reason, actor string) (*Bill, error) {
	req, err := s.GetTestRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	bill, err := s.bills.GetByRequestID(ctx, requestID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &StateConflictError{Current: StatusNotGenerated, Action: ActionCancel}
	} else if err != nil {
		return nil, err
	}

	if err := CanApply(bill.Status, ActionCancel); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, validationErrorf("cancellation reason is required")
	}

	now := time.Now().UTC()
	bill.Status = StatusCancelled
	bill.CancelledBy = &actor
	bill.CancelledAt = &now
	bill.CancelledReason = &reason

	if err := s.bills.Update(ctx, bill); err != nil {
		return nil, err
	}
	if err := s.requests.UpdateStatus(ctx, requestID, RequestPending); err != nil {
		return nil, err
	}

	s.recordAudit(ctx, PaymentEvent{
		TransactionID: uuid.New().String(),
		SubjectType:   "test_request",
		SubjectID:     requestID,
		Amount:        bill.PaidAmount,
		PaymentType:   "lab_test",
		Status:        "cancelled",
		Reason:        reason,
	})
	s.sendNotification(ctx, req, "Bill cancelled",
		"Invoice "+bill.InvoiceNumber+" has been cancelled",
		map[string]string{"invoice_number": bill.InvoiceNumber, "reason": reason})

	return bill, nil
}

// RefundBill refunds part or all of the paid amount of a cancelled bill.
func (s *Service) RefundBill(ctx context.Context, requestID uuid.UUID, amount decimal.Decimal, method, reason, actor string) (*Bill, error) {
	req, err := s.GetTestRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	bill, err := s.bills.GetByRequestID(ctx, requestID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &StateConflictError{Current: StatusNotGenerated, Action: ActionRefund}
	} else if err != nil {
		return nil, err
	}

	if err := CanApply(bill.Status, ActionRefund); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, validationErrorf("refund amount must be positive")
	}
	if amount.GreaterThan(bill.PaidAmount) {
		return nil, &AmountError{Requested: amount, Available: bill.PaidAmount}
	}

	now := time.Now().UTC()
	bill.Status = StatusRefunded
	bill.RefundedBy = &actor
	bill.RefundedAt = &now
	bill.RefundAmount = &amount
	bill.RefundMethod = &method
	bill.RefundReason = &reason

	if err := s.bills.Update(ctx, bill); err != nil {
		return nil, err
	}
	if err := s.bills.AddRefundRecord(ctx, &RefundRecord{
		BillID:    bill.ID,
		Amount:    amount,
		Method:    method,
		Reason:    reason,
		AppliedBy: actor,
		AppliedAt: now,
	}); err != nil {
		return nil, err
	}

	txnID := uuid.New().String()
	s.recordAudit(ctx, PaymentEvent{
		TransactionID: txnID,
		SubjectType:   "test_request",
		SubjectID:     requestID,
		Amount:        amount,
		PaymentType:   "lab_test",
		Method:        method,
		Status:        "refunded",
		Reason:        reason,
	})
	s.recordTransaction(ctx, "receipt", txnID, requestID, amount.Neg())
	s.sendNotification(ctx, req, "Refund processed",
		"Refund processed against invoice "+bill.InvoiceNumber,
		map[string]string{"invoice_number": bill.InvoiceNumber, "amount": amount.StringFixed(2)})

	return bill, nil
}

// recordAudit writes the payment log entry for an already-saved mutation.
// Failures are logged and swallowed: the log is a secondary view of billing
// activity, not the source of truth.
func (s *Service) recordAudit(ctx context.Context, e PaymentEvent) {
	if s.audit == nil {
		return
	}
	if err := s.audit.RecordPayment(ctx, e); err != nil {
		s.log.Error().Err(err).
			Str("transaction_id", e.TransactionID).
			Str("subject_id", e.SubjectID.String()).
			Msg("payment audit write failed")
	}
}

func (s *Service) recordTransaction(ctx context.Context, kind, txnID string, subjectID uuid.UUID, amount decimal.Decimal) {
	if s.txns == nil {
		return
	}
	if err := s.txns.RecordTransaction(ctx, kind, txnID, subjectID, amount); err != nil {
		s.log.Error().Err(err).
			Str("transaction_id", txnID).
			Str("kind", kind).
			Msg("transaction audit write failed")
	}
}

func (s *Service) sendNotification(ctx context.Context, req *TestRequest, title, message string, data map[string]string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, []string{req.PatientID.String()}, title, message, data)
}
