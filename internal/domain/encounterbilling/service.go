package encounterbilling

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

// AuditEvent is the payload handed to the payment log after a collection
// mutation has been saved.
type AuditEvent struct {
	TransactionID string
	SubjectType   string
	SubjectID     uuid.UUID
	Amount        decimal.Decimal
	PaymentType   string
	Method        string
	Status        string
	Reason        string
}

// PaymentAuditor records payment events, best effort.
type PaymentAuditor interface {
	RecordPayment(ctx context.Context, e AuditEvent) error
}

// TransactionAuditor is the secondary transaction audit trail.
type TransactionAuditor interface {
	RecordTransaction(ctx context.Context, kind, transactionID string, subjectID uuid.UUID, amount decimal.Decimal) error
}

// Notifier delivers stakeholder notifications. Fire and forget.
type Notifier interface {
	Notify(ctx context.Context, recipients []string, title, message string, data map[string]string)
}

// FeeConfig carries the consultation fee tiers and the followup window.
type FeeConfig struct {
	OPFee              decimal.Decimal
	IPFee              decimal.Decimal
	FollowupWindowDays int
}

type Service struct {
	items    ItemRepository
	profiles ProfileRepository
	invoices *invoice.Generator
	fees     FeeConfig
	audit    PaymentAuditor
	txns     TransactionAuditor
	notifier Notifier
	log      zerolog.Logger
}

func NewService(items ItemRepository, profiles ProfileRepository, gen *invoice.Generator, fees FeeConfig, audit PaymentAuditor, txns TransactionAuditor, notifier Notifier, log zerolog.Logger) *Service {
	return &Service{
		items:    items,
		profiles: profiles,
		invoices: gen,
		fees:     fees,
		audit:    audit,
		txns:     txns,
		notifier: notifier,
		log:      log,
	}
}

var itemInvoiceTypes = map[ItemType]invoice.TypeCode{
	TypeConsultation: invoice.TypeConsultation,
	TypeRegistration: invoice.TypeRegistration,
	TypeService:      invoice.TypeService,
	TypeTest:         invoice.TypeLab,
	TypeMedication:   invoice.TypeService,
}

// AddItemInput carries a new line item.
type AddItemInput struct {
	Type        ItemType        `json:"type" validate:"required,oneof=consultation registration service test medication"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount" validate:"required"`
	DoctorID    *uuid.UUID      `json:"doctor_id,omitempty"`
	Bucket      Bucket          `json:"bucket"`
}

// AddLineItem appends a pending item to the patient's collection. A second
// non-refunded consultation for the same doctor in the same bucket is
// rejected as a duplicate.
func (s *Service) AddLineItem(ctx context.Context, patientID uuid.UUID, in AddItemInput) (*LineItem, error) {
	if patientID == uuid.Nil {
		return nil, validationErrorf("patient_id is required")
	}
	code, ok := itemInvoiceTypes[in.Type]
	if !ok {
		return nil, validationErrorf("unknown item type: %s", in.Type)
	}
	if !in.Amount.IsPositive() {
		return nil, validationErrorf("amount must be positive")
	}
	bucket := in.Bucket
	if bucket == "" {
		bucket = BucketPrimary
	}

	existing, err := s.items.ListByPatient(ctx, patientID, bucket)
	if err != nil {
		return nil, err
	}
	if in.Type == TypeConsultation && in.DoctorID != nil {
		for _, it := range existing {
			if it.Type == TypeConsultation && !it.Terminal() &&
				it.DoctorID != nil && *it.DoctorID == *in.DoctorID {
				return nil, validationErrorf("an open consultation for this doctor already exists")
			}
		}
	}

	li := &LineItem{
		PatientID:     patientID,
		Bucket:        bucket,
		Type:          in.Type,
		Description:   in.Description,
		Amount:        in.Amount,
		PaidAmount:    decimal.Zero,
		RefundAmount:  decimal.Zero,
		Status:        ItemPending,
		DoctorID:      in.DoctorID,
		InvoiceNumber: s.invoices.Next(code),
	}
	if err := s.items.Create(ctx, li); err != nil {
		return nil, err
	}

	if in.Type == TypeConsultation {
		profile, err := s.getOrCreateProfile(ctx, patientID)
		if err != nil {
			return nil, err
		}
		if profile.FirstConsultationDate == nil {
			now := time.Now().UTC()
			profile.FirstConsultationDate = &now
			if err := s.profiles.Upsert(ctx, profile); err != nil {
				return nil, err
			}
		}
	}

	return li, nil
}

// ApplyPayment runs the payment waterfall over the bucket's items in
// collection order. Leftover beyond the outstanding balance is dropped
// silently. Returns the amount applied.
func (s *Service) ApplyPayment(ctx context.Context, patientID uuid.UUID, bucket Bucket, total decimal.Decimal, method, txnRef, actor string) (decimal.Decimal, error) {
	if !total.IsPositive() {
		return decimal.Zero, validationErrorf("payment amount must be positive")
	}

	items, err := s.items.ListByPatient(ctx, patientID, bucket)
	if err != nil {
		return decimal.Zero, err
	}

	applied, touched := ApplyPaymentWaterfall(items, total)
	paidConsultation := false
	for _, it := range touched {
		if err := s.items.Update(ctx, it); err != nil {
			return decimal.Zero, err
		}
		if it.Type == TypeConsultation && it.Status == ItemPaid {
			paidConsultation = true
		}
	}

	if paidConsultation {
		profile, err := s.getOrCreateProfile(ctx, patientID)
		if err != nil {
			return decimal.Zero, err
		}
		now := time.Now().UTC()
		profile.LastPaidConsultationDate = &now
		if err := s.profiles.Upsert(ctx, profile); err != nil {
			return decimal.Zero, err
		}
	}

	if txnRef == "" {
		txnRef = uuid.New().String()
	}
	s.recordAudit(ctx, AuditEvent{
		TransactionID: txnRef,
		SubjectType:   "patient",
		SubjectID:     patientID,
		Amount:        applied,
		PaymentType:   string(bucket),
		Method:        method,
		Status:        "completed",
	})
	s.recordTransaction(ctx, "receipt", txnRef, patientID, applied)

	return applied, nil
}

// ApplyRefund runs the refund waterfall: cancelled items first, then higher
// paid amounts, with the registration penalty evaluated per item.
//
// There is no locking between concurrent refunds against the same patient.
// Two racing requests can both read the same available balance and
// over-refund; last write wins. Known correctness gap, kept as is.
func (s *Service) ApplyRefund(ctx context.Context, patientID uuid.UUID, bucket Bucket, total decimal.Decimal, method, reason string, behavior PatientBehavior, refundType RefundType, actor string) ([]RefundApplication, error) {
	if behavior != BehaviorOkay && behavior != BehaviorRude {
		return nil, validationErrorf("unknown patient behavior: %s", behavior)
	}
	if refundType != RefundFull && refundType != RefundPartial {
		return nil, validationErrorf("unknown refund type: %s", refundType)
	}

	items, err := s.items.ListByPatient(ctx, patientID, bucket)
	if err != nil {
		return nil, err
	}

	applications, err := ApplyRefundWaterfall(items, total, behavior, refundType)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, app := range applications {
		if err := s.items.Update(ctx, app.Item); err != nil {
			return nil, err
		}
		if err := s.items.AddRefundRecord(ctx, &RefundRecord{
			LineItemID: app.Item.ID,
			Amount:     app.Amount,
			Method:     method,
			Reason:     reason,
			Behavior:   behavior,
			RefundType: refundType,
			AppliedBy:  actor,
			AppliedAt:  now,
		}); err != nil {
			return nil, err
		}
	}

	txnID := uuid.New().String()
	s.recordAudit(ctx, AuditEvent{
		TransactionID: txnID,
		SubjectType:   "patient",
		SubjectID:     patientID,
		Amount:        total,
		PaymentType:   string(bucket),
		Method:        method,
		Status:        "refunded",
		Reason:        reason,
	})
	s.recordTransaction(ctx, "receipt", txnID, patientID, total.Neg())
	s.sendNotification(ctx, patientID, "Refund processed",
		"A refund has been processed to your original payment method",
		map[string]string{"amount": total.StringFixed(2)})

	return applications, nil
}

// CancelEncounter cancels every non-terminal item in the bucket and stamps
// the penalty metadata on the most recent item.
func (s *Service) CancelEncounter(ctx context.Context, patientID uuid.UUID, bucket Bucket, reason string, penalty decimal.Decimal, refundType RefundType, behavior PatientBehavior, actor string) ([]*LineItem, error) {
	if reason == "" {
		return nil, validationErrorf("cancellation reason is required")
	}
	if penalty.IsNegative() {
		return nil, validationErrorf("penalty must be non-negative")
	}

	items, err := s.items.ListByPatient(ctx, patientID, bucket)
	if err != nil {
		return nil, err
	}

	touched := CancelAll(items, reason, penalty, refundType, behavior)
	for _, it := range touched {
		if err := s.items.Update(ctx, it); err != nil {
			return nil, err
		}
	}

	s.recordAudit(ctx, AuditEvent{
		TransactionID: uuid.New().String(),
		SubjectType:   "patient",
		SubjectID:     patientID,
		Amount:        penalty,
		PaymentType:   string(bucket),
		Status:        "cancelled",
		Reason:        reason,
	})

	return touched, nil
}

// Reassign moves the patient to a new doctor: the reassignment bucket is
// cleared, a fresh reassignment id is stamped, and the consultation fee is
// computed by the followup eligibility rule. The free followup is consumed on
// first use.
func (s *Service) Reassign(ctx context.Context, patientID, newDoctorID uuid.UUID, ctype ConsultationType, actor string) (*LineItem, error) {
	if newDoctorID == uuid.Nil {
		return nil, validationErrorf("doctor_id is required")
	}
	var fee decimal.Decimal
	switch ctype {
	case ConsultOP:
		fee = s.fees.OPFee
	case ConsultIP:
		fee = s.fees.IPFee
	default:
		return nil, validationErrorf("unknown consultation type: %s", ctype)
	}

	profile, err := s.getOrCreateProfile(ctx, patientID)
	if err != nil {
		return nil, err
	}
	primary, err := s.items.ListByPatient(ctx, patientID, BucketPrimary)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	free := FreeReassignment(profile, len(primary), now, s.fees.FollowupWindowDays)
	if free {
		fee = decimal.Zero
	}

	// Each reassignment starts from an empty bucket.
	if err := s.items.DeleteBucket(ctx, patientID, BucketReassignment); err != nil {
		return nil, err
	}

	rid := uuid.New()
	li := &LineItem{
		PatientID:         patientID,
		Bucket:            BucketReassignment,
		Type:              TypeConsultation,
		Description:       "Reassigned consultation",
		Amount:            fee,
		PaidAmount:        decimal.Zero,
		RefundAmount:      decimal.Zero,
		Status:            ItemPending,
		DoctorID:          &newDoctorID,
		InvoiceNumber:     s.invoices.Next(invoice.TypeConsultation),
		IsFollowup:        free,
		IsReassignedEntry: true,
		ReassignedEntryID: &rid,
	}
	if fee.IsZero() {
		li.Status = ItemPaid
	}
	if err := s.items.Create(ctx, li); err != nil {
		return nil, err
	}

	if free {
		profile.FollowupUsed = true
		// Re-arm the window from the paid consultation date.
		if profile.LastPaidConsultationDate != nil {
			profile.FirstConsultationDate = profile.LastPaidConsultationDate
		}
	}
	profile.IsReassigned = true
	profile.CurrentReassignmentID = &rid
	if err := s.profiles.Upsert(ctx, profile); err != nil {
		return nil, err
	}

	s.recordTransaction(ctx, "reassignment", uuid.New().String(), patientID, fee)
	s.sendNotification(ctx, patientID, "Doctor reassigned",
		"Your consultation has been reassigned",
		map[string]string{"fee": fee.StringFixed(2)})

	return li, nil
}

// CreateInvoice produces the invoice snapshot consumed by the PDF service.
// A primary invoice never includes reassigned entries; a reassignment
// invoice includes only items stamped with the current reassignment id.
func (s *Service) CreateInvoice(ctx context.Context, patientID uuid.UUID, bucket Bucket) (*InvoiceSnapshot, error) {
	items, err := s.items.ListByPatient(ctx, patientID, bucket)
	if err != nil {
		return nil, err
	}

	code := invoice.TypeService
	var included []*LineItem

	switch bucket {
	case BucketPrimary:
		for _, it := range items {
			if it.IsReassignedEntry {
				continue
			}
			if it.Status == ItemCancelled || it.Status == ItemRefunded {
				continue
			}
			included = append(included, it)
		}
	case BucketReassignment:
		code = invoice.TypeReassignment
		profile, err := s.getOrCreateProfile(ctx, patientID)
		if err != nil {
			return nil, err
		}
		if profile.CurrentReassignmentID == nil {
			return nil, validationErrorf("patient has no active reassignment")
		}
		for _, it := range items {
			if it.ReassignedEntryID == nil || *it.ReassignedEntryID != *profile.CurrentReassignmentID {
				continue
			}
			if it.Status == ItemCancelled || it.Status == ItemRefunded {
				continue
			}
			included = append(included, it)
		}
	default:
		return nil, validationErrorf("unknown bucket: %s", bucket)
	}

	if len(included) == 0 {
		return nil, validationErrorf("no billable items for invoice")
	}

	total := decimal.Zero
	for _, it := range included {
		total = total.Add(it.Amount)
	}

	return &InvoiceSnapshot{
		InvoiceNumber: s.invoices.Next(code),
		PatientID:     patientID,
		Bucket:        bucket,
		Items:         included,
		Total:         total,
		GeneratedAt:   time.Now().UTC(),
	}, nil
}

func (s *Service) ListItems(ctx context.Context, patientID uuid.UUID, bucket Bucket) ([]*LineItem, error) {
	return s.items.ListByPatient(ctx, patientID, bucket)
}

func (s *Service) GetProfile(ctx context.Context, patientID uuid.UUID) (*PatientProfile, error) {
	return s.getOrCreateProfile(ctx, patientID)
}

func (s *Service) getOrCreateProfile(ctx context.Context, patientID uuid.UUID) (*PatientProfile, error) {
	profile, err := s.profiles.Get(ctx, patientID)
	if errors.Is(err, pgx.ErrNoRows) {
		profile = &PatientProfile{PatientID: patientID}
		if err := s.profiles.Upsert(ctx, profile); err != nil {
			return nil, err
		}
		return profile, nil
	}
	return profile, err
}

func (s *Service) recordAudit(ctx context.Context, e AuditEvent) {
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

func (s *Service) sendNotification(ctx context.Context, patientID uuid.UUID, title, message string, data map[string]string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, []string{patientID.String()}, title, message, data)
}
