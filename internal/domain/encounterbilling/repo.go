package encounterbilling

import (
	"context"

	"github.com/google/uuid"
)

type ItemRepository interface {
	Create(ctx context.Context, li *LineItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*LineItem, error)
	Update(ctx context.Context, li *LineItem) error
	// ListByPatient returns the bucket's items in collection (creation)
	// order, which is the payment waterfall order.
	ListByPatient(ctx context.Context, patientID uuid.UUID, bucket Bucket) ([]*LineItem, error)
	DeleteBucket(ctx context.Context, patientID uuid.UUID, bucket Bucket) error
	AddRefundRecord(ctx context.Context, r *RefundRecord) error
	ListRefundRecords(ctx context.Context, lineItemID uuid.UUID) ([]*RefundRecord, error)
}

type ProfileRepository interface {
	Get(ctx context.Context, patientID uuid.UUID) (*PatientProfile, error)
	Upsert(ctx context.Context, p *PatientProfile) error
}
