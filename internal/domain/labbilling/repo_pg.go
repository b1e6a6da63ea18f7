package labbilling

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

// =========== TestRequest Repository ===========

type requestRepoPG struct{ pool *pgxpool.Pool }

func NewRequestRepoPG(pool *pgxpool.Pool) RequestRepository { return &requestRepoPG{pool: pool} }

func (r *requestRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const requestCols = `id, patient_id, test_type, status, center_code, created_at, updated_at`

func (r *requestRepoPG) scanRequest(row pgx.Row) (*TestRequest, error) {
	var t TestRequest
	err := row.Scan(&t.ID, &t.PatientID, &t.TestType, &t.Status, &t.CenterCode, &t.CreatedAt, &t.UpdatedAt)
	return &t, err
}

func (r *requestRepoPG) Create(ctx context.Context, t *TestRequest) error {
	t.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO test_requests (id, patient_id, test_type, status, center_code)
		VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.PatientID, t.TestType, t.Status, t.CenterCode)
	return err
}

func (r *requestRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TestRequest, error) {
	return r.scanRequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+requestCols+` FROM test_requests WHERE id = $1`, id))
}

func (r *requestRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status RequestStatus) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE test_requests SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *requestRepoPG) List(ctx context.Context, limit, offset int) ([]*TestRequest, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM test_requests`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+requestCols+` FROM test_requests ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*TestRequest
	for rows.Next() {
		t, err := r.scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// =========== Bill Repository ===========

type billRepoPG struct{ pool *pgxpool.Pool }

func NewBillRepoPG(pool *pgxpool.Pool) BillRepository { return &billRepoPG{pool: pool} }

func (r *billRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const billCols = `id, request_id, status, amount, paid_amount, currency, items, taxes, discounts,
	invoice_number, notes, generated_by, generated_at, paid_by, paid_at, payment_method,
	cancelled_by, cancelled_at, cancelled_reason,
	refunded_by, refunded_at, refund_amount, refund_method, refund_reason,
	created_at, updated_at`

func (r *billRepoPG) scanBill(row pgx.Row) (*Bill, error) {
	var b Bill
	var items []byte
	err := row.Scan(&b.ID, &b.RequestID, &b.Status, &b.Amount, &b.PaidAmount, &b.Currency,
		&items, &b.Taxes, &b.Discounts,
		&b.InvoiceNumber, &b.Notes, &b.GeneratedBy, &b.GeneratedAt,
		&b.PaidBy, &b.PaidAt, &b.PaymentMethod,
		&b.CancelledBy, &b.CancelledAt, &b.CancelledReason,
		&b.RefundedBy, &b.RefundedAt, &b.RefundAmount, &b.RefundMethod, &b.RefundReason,
		&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &b.Items); err != nil {
			return nil, fmt.Errorf("unmarshal bill items: %w", err)
		}
	}
	return &b, nil
}

func (r *billRepoPG) Create(ctx context.Context, b *Bill) error {
	b.ID = uuid.New()
	items, err := json.Marshal(b.Items)
	if err != nil {
		return fmt.Errorf("marshal bill items: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO test_request_bills (id, request_id, status, amount, paid_amount, currency,
			items, taxes, discounts, invoice_number, notes, generated_by, generated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		b.ID, b.RequestID, b.Status, b.Amount, b.PaidAmount, b.Currency,
		items, b.Taxes, b.Discounts, b.InvoiceNumber, b.Notes, b.GeneratedBy, b.GeneratedAt)
	return err
}

func (r *billRepoPG) GetByRequestID(ctx context.Context, requestID uuid.UUID) (*Bill, error) {
	return r.scanBill(r.conn(ctx).QueryRow(ctx,
		`SELECT `+billCols+` FROM test_request_bills WHERE request_id = $1`, requestID))
}

func (r *billRepoPG) Update(ctx context.Context, b *Bill) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE test_request_bills SET status=$2, paid_amount=$3,
			paid_by=$4, paid_at=$5, payment_method=$6,
			cancelled_by=$7, cancelled_at=$8, cancelled_reason=$9,
			refunded_by=$10, refunded_at=$11, refund_amount=$12, refund_method=$13, refund_reason=$14,
			updated_at=NOW()
		WHERE id = $1`,
		b.ID, b.Status, b.PaidAmount,
		b.PaidBy, b.PaidAt, b.PaymentMethod,
		b.CancelledBy, b.CancelledAt, b.CancelledReason,
		b.RefundedBy, b.RefundedAt, b.RefundAmount, b.RefundMethod, b.RefundReason)
	return err
}

func (r *billRepoPG) AddRefundRecord(ctx context.Context, rec *RefundRecord) error {
	rec.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO refund_records (id, subject_type, subject_id, amount, method, reason, applied_by, applied_at)
		VALUES ($1, 'bill', $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.BillID, rec.Amount, rec.Method, rec.Reason, rec.AppliedBy, rec.AppliedAt)
	return err
}

func (r *billRepoPG) ListRefundRecords(ctx context.Context, billID uuid.UUID) ([]*RefundRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, subject_id, amount, method, reason, applied_by, applied_at
		FROM refund_records WHERE subject_type = 'bill' AND subject_id = $1
		ORDER BY applied_at`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RefundRecord
	for rows.Next() {
		var rec RefundRecord
		if err := rows.Scan(&rec.ID, &rec.BillID, &rec.Amount, &rec.Method, &rec.Reason, &rec.AppliedBy, &rec.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
