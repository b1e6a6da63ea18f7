package transaction

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *Record) error
	GetByTransactionID(ctx context.Context, transactionID string) (*Record, error)
	List(ctx context.Context, limit, offset int) ([]*Record, int, error)
	ListBySubject(ctx context.Context, subjectID uuid.UUID, limit, offset int) ([]*Record, int, error)
}
