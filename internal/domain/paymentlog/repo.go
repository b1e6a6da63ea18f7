package paymentlog

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, e *Entry) error
	GetByTransactionID(ctx context.Context, transactionID string) (*Entry, error)
	Update(ctx context.Context, e *Entry) error
	List(ctx context.Context, limit, offset int) ([]*Entry, int, error)
	ListBySubject(ctx context.Context, subjectID uuid.UUID, limit, offset int) ([]*Entry, int, error)
}
