package encounterbilling

import (
	"context"

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

// =========== LineItem Repository ===========

type itemRepoPG struct{ pool *pgxpool.Pool }

func NewItemRepoPG(pool *pgxpool.Pool) ItemRepository { return &itemRepoPG{pool: pool} }

func (r *itemRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const itemCols = `id, patient_id, bucket, type, description, amount, paid_amount, refund_amount,
	status, doctor_id, invoice_number, is_followup, is_reassigned_entry, reassigned_entry_id,
	penalty_amount, penalty_refund_type, penalty_behavior, cancelled_reason, created_at, updated_at`

func (r *itemRepoPG) scanItem(row pgx.Row) (*LineItem, error) {
	var li LineItem
	err := row.Scan(&li.ID, &li.PatientID, &li.Bucket, &li.Type, &li.Description,
		&li.Amount, &li.PaidAmount, &li.RefundAmount,
		&li.Status, &li.DoctorID, &li.InvoiceNumber, &li.IsFollowup,
		&li.IsReassignedEntry, &li.ReassignedEntryID,
		&li.PenaltyAmount, &li.PenaltyType, &li.PenaltyBehavior,
		&li.CancelledReason, &li.CreatedAt, &li.UpdatedAt)
	return &li, err
}

func (r *itemRepoPG) Create(ctx context.Context, li *LineItem) error {
	li.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO billing_line_items (id, patient_id, bucket, type, description,
			amount, paid_amount, refund_amount, status, doctor_id, invoice_number,
			is_followup, is_reassigned_entry, reassigned_entry_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		li.ID, li.PatientID, li.Bucket, li.Type, li.Description,
		li.Amount, li.PaidAmount, li.RefundAmount, li.Status, li.DoctorID, li.InvoiceNumber,
		li.IsFollowup, li.IsReassignedEntry, li.ReassignedEntryID)
	return err
}

func (r *itemRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LineItem, error) {
	return r.scanItem(r.conn(ctx).QueryRow(ctx,
		`SELECT `+itemCols+` FROM billing_line_items WHERE id = $1`, id))
}

func (r *itemRepoPG) Update(ctx context.Context, li *LineItem) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE billing_line_items SET paid_amount=$2, refund_amount=$3, status=$4,
			penalty_amount=$5, penalty_refund_type=$6, penalty_behavior=$7,
			cancelled_reason=$8, updated_at=NOW()
		WHERE id = $1`,
		li.ID, li.PaidAmount, li.RefundAmount, li.Status,
		li.PenaltyAmount, li.PenaltyType, li.PenaltyBehavior, li.CancelledReason)
	return err
}

func (r *itemRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, bucket Bucket) ([]*LineItem, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+itemCols+` FROM billing_line_items
		 WHERE patient_id = $1 AND bucket = $2 ORDER BY created_at`,
		patientID, bucket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*LineItem
	for rows.Next() {
		li, err := r.scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, li)
	}
	return out, rows.Err()
}

func (r *itemRepoPG) DeleteBucket(ctx context.Context, patientID uuid.UUID, bucket Bucket) error {
	_, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM billing_line_items WHERE patient_id = $1 AND bucket = $2`,
		patientID, bucket)
	return err
}

func (r *itemRepoPG) AddRefundRecord(ctx context.Context, rec *RefundRecord) error {
	rec.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO refund_records (id, subject_type, subject_id, amount, method, reason,
			patient_behavior, refund_type, applied_by, applied_at)
		VALUES ($1, 'line_item', $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.LineItemID, rec.Amount, rec.Method, rec.Reason,
		rec.Behavior, rec.RefundType, rec.AppliedBy, rec.AppliedAt)
	return err
}

func (r *itemRepoPG) ListRefundRecords(ctx context.Context, lineItemID uuid.UUID) ([]*RefundRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, subject_id, amount, method, reason, patient_behavior, refund_type, applied_by, applied_at
		FROM refund_records WHERE subject_type = 'line_item' AND subject_id = $1
		ORDER BY applied_at`, lineItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RefundRecord
	for rows.Next() {
		var rec RefundRecord
		if err := rows.Scan(&rec.ID, &rec.LineItemID, &rec.Amount, &rec.Method, &rec.Reason,
			&rec.Behavior, &rec.RefundType, &rec.AppliedBy, &rec.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// =========== PatientProfile Repository ===========

type profileRepoPG struct{ pool *pgxpool.Pool }

func NewProfileRepoPG(pool *pgxpool.Pool) ProfileRepository { return &profileRepoPG{pool: pool} }

func (r *profileRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *profileRepoPG) Get(ctx context.Context, patientID uuid.UUID) (*PatientProfile, error) {
	var p PatientProfile
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT patient_id, first_consultation_date, last_paid_consultation_date,
			is_reassigned, followup_used, current_reassignment_id, created_at, updated_at
		FROM patient_billing_profiles WHERE patient_id = $1`, patientID).
		Scan(&p.PatientID, &p.FirstConsultationDate, &p.LastPaidConsultationDate,
			&p.IsReassigned, &p.FollowupUsed, &p.CurrentReassignmentID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *profileRepoPG) Upsert(ctx context.Context, p *PatientProfile) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_billing_profiles (patient_id, first_consultation_date,
			last_paid_consultation_date, is_reassigned, followup_used, current_reassignment_id)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (patient_id) DO UPDATE SET
			first_consultation_date = EXCLUDED.first_consultation_date,
			last_paid_consultation_date = EXCLUDED.last_paid_consultation_date,
			is_reassigned = EXCLUDED.is_reassigned,
			followup_used = EXCLUDED.followup_used,
			current_reassignment_id = EXCLUDED.current_reassignment_id,
			updated_at = NOW()`,
		p.PatientID, p.FirstConsultationDate, p.LastPaidConsultationDate,
		p.IsReassigned, p.FollowupUsed, p.CurrentReassignmentID)
	return err
}
