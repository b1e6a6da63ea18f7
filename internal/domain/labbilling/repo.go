package labbilling

import (
	"context"

	"github.com/google/uuid"
)

type RequestRepository interface {
	Create(ctx context.Context, r *TestRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*TestRequest, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status RequestStatus) error
	List(ctx context.Context, limit, offset int) ([]*TestRequest, int, error)
}

type BillRepository interface {
	Create(ctx context.Context, b *Bill) error
	GetByRequestID(ctx context.Context, requestID uuid.UUID) (*Bill, error)
	Update(ctx context.Context, b *Bill) error
	AddRefundRecord(ctx context.Context, r *RefundRecord) error
	ListRefundRecords(ctx context.Context, billID uuid.UUID) ([]*RefundRecord, error)
}
