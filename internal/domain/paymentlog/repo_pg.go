package paymentlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const entryCols = `id, transaction_id, subject_type, subject_id, amount, payment_type,
	payment_method, status, status_history, refund, created_at, updated_at`

func (r *repoPG) scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var history, refund []byte
	err := row.Scan(&e.ID, &e.TransactionID, &e.SubjectType, &e.SubjectID, &e.Amount,
		&e.PaymentType, &e.PaymentMethod, &e.Status, &history, &refund, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &e.History); err != nil {
			return nil, fmt.Errorf("unmarshal status history: %w", err)
		}
	}
	if len(refund) > 0 {
		if err := json.Unmarshal(refund, &e.Refund); err != nil {
			return nil, fmt.Errorf("unmarshal refund: %w", err)
		}
	}
	return &e, nil
}

func (r *repoPG) Create(ctx context.Context, e *Entry) error {
	e.ID = uuid.New()
	history, err := json.Marshal(e.History)
	if err != nil {
		return fmt.Errorf("marshal status history: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO payment_logs (id, transaction_id, subject_type, subject_id, amount,
			payment_type, payment_method, status, status_history)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.TransactionID, e.SubjectType, e.SubjectID, e.Amount,
		e.PaymentType, e.PaymentMethod, e.Status, history)
	return err
}

func (r *repoPG) GetByTransactionID(ctx context.Context, transactionID string) (*Entry, error) {
	return r.scanEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+entryCols+` FROM payment_logs WHERE transaction_id = $1`, transactionID))
}

func (r *repoPG) Update(ctx context.Context, e *Entry) error {
	history, err := json.Marshal(e.History)
	if err != nil {
		return fmt.Errorf("marshal status history: %w", err)
	}
	var refund []byte
	if e.Refund != nil {
		refund, err = json.Marshal(e.Refund)
		if err != nil {
			return fmt.Errorf("marshal refund: %w", err)
		}
	}
	_, err = r.conn(ctx).Exec(ctx, `
		UPDATE payment_logs SET status=$2, status_history=$3, refund=$4, updated_at=NOW()
		WHERE id = $1`,
		e.ID, e.Status, history, refund)
	return err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Entry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM payment_logs`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+entryCols+` FROM payment_logs ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	return r.collect(rows, total)
}

func (r *repoPG) ListBySubject(ctx context.Context, subjectID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM payment_logs WHERE subject_id = $1`, subjectID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+entryCols+` FROM payment_logs WHERE subject_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		subjectID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	return r.collect(rows, total)
}

func (r *repoPG) collect(rows pgx.Rows, total int) ([]*Entry, int, error) {
	var out []*Entry
	for rows.Next() {
		e, err := r.scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}
