package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/redecare/redecare/internal/domain"
	"github.com/redecare/redecare/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// =========== Appointment Repository ===========

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const apptCols = `id, solicitation_id, provider_kind, provider_id, scheduled_at, status,
	tuss_code, amount, confirmed_at, confirmed_by, completed_at, completed_by,
	cancelled_at, cancelled_by, cancel_notes, patient_attended, attendance_notes,
	eligible_for_billing, billing_batch_id, guide_status,
	version_id, created_at, updated_at, deleted_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.SolicitationID, &a.Provider.Kind, &a.Provider.ID,
		&a.ScheduledAt, &a.Status, &a.TUSSCode, &a.Amount,
		&a.ConfirmedAt, &a.ConfirmedBy, &a.CompletedAt, &a.CompletedBy,
		&a.CancelledAt, &a.CancelledBy, &a.CancelNotes,
		&a.PatientAttended, &a.AttendanceNotes,
		&a.EligibleForBilling, &a.BillingBatchID, &a.GuideStatus,
		&a.VersionID, &a.CreatedAt, &a.UpdatedAt, &a.DeletedAt)
	return &a, err
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	if a.GuideStatus == "" {
		a.GuideStatus = GuidePending
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO appointments (id, solicitation_id, provider_kind, provider_id,
			scheduled_at, status, tuss_code, amount, guide_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.SolicitationID, a.Provider.Kind, a.Provider.ID,
		a.ScheduledAt, a.Status, a.TUSSCode, a.Amount, a.GuideStatus)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+apptCols+` FROM appointments WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *repoPG) Update(ctx context.Context, a *Appointment) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE appointments SET
			status = $3, scheduled_at = $4, amount = $5,
			confirmed_at = $6, confirmed_by = $7,
			completed_at = $8, completed_by = $9,
			cancelled_at = $10, cancelled_by = $11, cancel_notes = $12,
			patient_attended = $13, attendance_notes = $14,
			eligible_for_billing = $15, billing_batch_id = $16, guide_status = $17,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $2 AND deleted_at IS NULL`,
		a.ID, a.VersionID,
		a.Status, a.ScheduledAt, a.Amount,
		a.ConfirmedAt, a.ConfirmedBy,
		a.CompletedAt, a.CompletedBy,
		a.CancelledAt, a.CancelledBy, a.CancelNotes,
		a.PatientAttended, a.AttendanceNotes,
		a.EligibleForBilling, a.BillingBatchID, a.GuideStatus)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrVersionConflict
	}
	a.VersionID++
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE appointments SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repoPG) ListBySolicitation(ctx context.Context, solicitationID uuid.UUID) ([]*Appointment, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+apptCols+` FROM appointments
		WHERE solicitation_id = $1 AND deleted_at IS NULL
		ORDER BY scheduled_at`, solicitationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *repoPG) List(ctx context.Context, status string, limit, offset int) ([]*Appointment, int, error) {
	where := `deleted_at IS NULL`
	args := []interface{}{}
	if status != "" {
		where += ` AND status = $1`
		args = append(args, status)
	}

	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM appointments WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT %s FROM appointments WHERE %s
		ORDER BY scheduled_at DESC
		LIMIT $%d OFFSET $%d`, apptCols, where, len(args)-1, len(args))
	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	result, err := collectAppointments(rows)
	return result, total, err
}

func (r *repoPG) CountActiveBySolicitation(ctx context.Context, solicitationID uuid.UUID) (int, error) {
	var count int
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE solicitation_id = $1 AND status <> $2 AND deleted_at IS NULL`,
		solicitationID, StatusCancelled).Scan(&count)
	return count, err
}

func (r *repoPG) ListEligibleUnbatched(ctx context.Context, provider ProviderRef, from, to time.Time) ([]*Appointment, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+apptCols+` FROM appointments
		WHERE provider_kind = $1 AND provider_id = $2
		  AND eligible_for_billing AND billing_batch_id IS NULL
		  AND completed_at >= $3 AND completed_at < $4
		  AND deleted_at IS NULL
		ORDER BY completed_at`,
		provider.Kind, provider.ID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *repoPG) ListBillableProviders(ctx context.Context, from, to time.Time) ([]ProviderRef, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT DISTINCT provider_kind, provider_id FROM appointments
		WHERE eligible_for_billing AND billing_batch_id IS NULL
		  AND completed_at >= $1 AND completed_at < $2
		  AND deleted_at IS NULL`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ProviderRef
	for rows.Next() {
		var p ProviderRef
		if err := rows.Scan(&p.Kind, &p.ID); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *repoPG) AssignBatch(ctx context.Context, appointmentID, batchID uuid.UUID) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE appointments
		SET billing_batch_id = $2, version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND billing_batch_id IS NULL AND deleted_at IS NULL`,
		appointmentID, batchID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.Invariant("appointment %s is already in a batch", appointmentID)
	}
	return nil
}

func collectAppointments(rows pgx.Rows) ([]*Appointment, error) {
	var result []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// =========== Rescheduling Repository ===========

type reschedulingRepoPG struct{ pool *pgxpool.Pool }

func NewReschedulingRepoPG(pool *pgxpool.Pool) ReschedulingRepository {
	return &reschedulingRepoPG{pool: pool}
}

const reschedCols = `id, number, original_appointment_id, new_appointment_id,
	reason, reason_description, requested_by, notes,
	financial_impact, original_amount, new_amount,
	approval_status, decided_by, decided_at, decision_notes, whatsapp_sent_at,
	version_id, created_at, updated_at, deleted_at`

func scanRescheduling(row pgx.Row) (*Rescheduling, error) {
	var r Rescheduling
	err := row.Scan(&r.ID, &r.Number, &r.OriginalAppointmentID, &r.NewAppointmentID,
		&r.Reason, &r.ReasonDescription, &r.RequestedBy, &r.Notes,
		&r.FinancialImpact, &r.OriginalAmount, &r.NewAmount,
		&r.ApprovalStatus, &r.DecidedBy, &r.DecidedAt, &r.DecisionNotes, &r.WhatsAppSentAt,
		&r.VersionID, &r.CreatedAt, &r.UpdatedAt, &r.DeletedAt)
	return &r, err
}

func (r *reschedulingRepoPG) Create(ctx context.Context, re *Rescheduling) error {
	re.ID = uuid.New()
	if re.ApprovalStatus == "" {
		re.ApprovalStatus = ApprovalPending
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO appointment_reschedulings (id, number, original_appointment_id,
			new_appointment_id, reason, reason_description, requested_by, notes,
			financial_impact, original_amount, new_amount, approval_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		re.ID, re.Number, re.OriginalAppointmentID, re.NewAppointmentID,
		re.Reason, re.ReasonDescription, re.RequestedBy, re.Notes,
		re.FinancialImpact, re.OriginalAmount, re.NewAmount, re.ApprovalStatus)
	return err
}

func (r *reschedulingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Rescheduling, error) {
	re, err := scanRescheduling(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+reschedCols+` FROM appointment_reschedulings
		WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return re, nil
}

func (r *reschedulingRepoPG) Update(ctx context.Context, re *Rescheduling) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE appointment_reschedulings SET
			approval_status = $3, decided_by = $4, decided_at = $5,
			decision_notes = $6, whatsapp_sent_at = $7,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $2 AND deleted_at IS NULL`,
		re.ID, re.VersionID,
		re.ApprovalStatus, re.DecidedBy, re.DecidedAt,
		re.DecisionNotes, re.WhatsAppSentAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrVersionConflict
	}
	re.VersionID++
	return nil
}

func (r *reschedulingRepoPG) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Rescheduling, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+reschedCols+` FROM appointment_reschedulings
		WHERE (original_appointment_id = $1 OR new_appointment_id = $1) AND deleted_at IS NULL
		ORDER BY created_at`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Rescheduling
	for rows.Next() {
		re, err := scanRescheduling(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, re)
	}
	return result, rows.Err()
}

func (r *reschedulingRepoPG) List(ctx context.Context, approvalStatus string, limit, offset int) ([]*Rescheduling, int, error) {
	where := `deleted_at IS NULL`
	args := []interface{}{}
	if approvalStatus != "" {
		where += ` AND approval_status = $1`
		args = append(args, approvalStatus)
	}

	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM appointment_reschedulings WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT %s FROM appointment_reschedulings WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, reschedCols, where, len(args)-1, len(args))
	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []*Rescheduling
	for rows.Next() {
		re, err := scanRescheduling(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, re)
	}
	return result, total, rows.Err()
}
