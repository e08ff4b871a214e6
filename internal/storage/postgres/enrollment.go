package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"coursemarket/internal/enrollment"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// EnrollmentRepository implements enrollment.Repository.
type EnrollmentRepository struct {
	db *sqlx.DB
}

var _ enrollment.Repository = (*EnrollmentRepository)(nil)

func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `id, user_id, course_id, status, order_id, certificate_number, created_at, updated_at`

// GetOrCreate inserts unless the (user, course) pair exists. A row removed
// between the insert and the read is retried.
func (r *EnrollmentRepository) GetOrCreate(ctx context.Context, e *enrollment.Enrollment) (*enrollment.Enrollment, bool, error) {
	for attempt := 0; attempt < 3; attempt++ {
		var stored enrollment.Enrollment
		rows, err := r.db.NamedQueryContext(ctx, `
			INSERT INTO enrollments (`+enrollmentColumns+`)
			VALUES (:id, :user_id, :course_id, :status, :order_id, :certificate_number, :created_at, :updated_at)
			ON CONFLICT (user_id, course_id) DO NOTHING
			RETURNING `+enrollmentColumns, e)
		if err != nil {
			return nil, false, fmt.Errorf("insert enrollment: %w", err)
		}
		inserted := rows.Next()
		if inserted {
			err = rows.StructScan(&stored)
		}
		rows.Close()
		if err != nil {
			return nil, false, fmt.Errorf("scan enrollment: %w", err)
		}
		if inserted {
			return &stored, true, nil
		}

		err = r.db.GetContext(ctx, &stored, `
			SELECT `+enrollmentColumns+` FROM enrollments WHERE user_id = $1 AND course_id = $2
		`, e.UserID, e.CourseID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("get enrollment: %w", err)
		}
		return &stored, false, nil
	}
	return nil, false, errors.New("enrollment kept disappearing during get-or-create")
}

func (r *EnrollmentRepository) ReissueOrder(ctx context.Context, id uuid.UUID, orderID string) (*enrollment.Enrollment, error) {
	var e enrollment.Enrollment
	err := r.db.GetContext(ctx, &e, `
		UPDATE enrollments
		SET order_id = $2, status = 'pending', updated_at = NOW()
		WHERE id = $1 AND status <> 'success'
		RETURNING `+enrollmentColumns, id, orderID)
	if err == nil {
		return &e, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reissue order: %w", err)
	}
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	return nil, enrollment.ErrAlreadyEnrolled
}

// ApplyPaymentStatus locks the row for the order so concurrent callbacks
// apply one after another.
func (r *EnrollmentRepository) ApplyPaymentStatus(ctx context.Context, orderID string, status enrollment.Status) (enrollment.Status, *enrollment.Enrollment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var e enrollment.Enrollment
	err = tx.GetContext(ctx, &e, `SELECT `+enrollmentColumns+` FROM enrollments WHERE order_id = $1 FOR UPDATE`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, enrollment.ErrEnrollmentNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("lock enrollment: %w", err)
	}

	prev := e.Status
	if e.Paid() || prev == status {
		return prev, &e, tx.Commit()
	}

	err = tx.GetContext(ctx, &e, `
		UPDATE enrollments SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+enrollmentColumns, e.ID, status)
	if err != nil {
		return "", nil, fmt.Errorf("update status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", nil, fmt.Errorf("commit transaction: %w", err)
	}
	return prev, &e, nil
}

func (r *EnrollmentRepository) Get(ctx context.Context, id uuid.UUID) (*enrollment.Enrollment, error) {
	var e enrollment.Enrollment
	err := r.db.GetContext(ctx, &e, `SELECT `+enrollmentColumns+` FROM enrollments WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, enrollment.ErrEnrollmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	return &e, nil
}

func (r *EnrollmentRepository) DeleteUnpaid(ctx context.Context, userID, id uuid.UUID) (*enrollment.Enrollment, error) {
	var e enrollment.Enrollment
	err := r.db.GetContext(ctx, &e, `
		DELETE FROM enrollments
		WHERE id = $1 AND user_id = $2 AND status <> 'success'
		RETURNING `+enrollmentColumns, id, userID)
	if err == nil {
		return &e, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("delete enrollment: %w", err)
	}

	var status enrollment.Status
	err = r.db.GetContext(ctx, &status, `SELECT status FROM enrollments WHERE id = $1 AND user_id = $2`, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, enrollment.ErrEnrollmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get enrollment status: %w", err)
	}
	return nil, enrollment.ErrAlreadyPaid
}

func (r *EnrollmentRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*enrollment.Enrollment, error) {
	return r.List(ctx, enrollment.Filter{UserID: userID})
}

func (r *EnrollmentRepository) List(ctx context.Context, f enrollment.Filter) ([]*enrollment.Enrollment, error) {
	var (
		conds []string
		args  []interface{}
	)
	if f.UserID != uuid.Nil {
		args = append(args, f.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.CourseID != uuid.Nil {
		args = append(args, f.CourseID)
		conds = append(conds, fmt.Sprintf("course_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + enrollmentColumns + ` FROM enrollments`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at, id"

	out := []*enrollment.Enrollment{}
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	return out, nil
}

func (r *EnrollmentRepository) SetCertificate(ctx context.Context, id uuid.UUID, code string) (*enrollment.Enrollment, error) {
	_, err := r.db.ExecContext(ctx, `
		UPDATE enrollments SET certificate_number = $2, updated_at = NOW()
		WHERE id = $1 AND certificate_number IS NULL AND status = 'success'
	`, id, code)
	if _, ok := constraintViolation(err, uniqueViolation); ok {
		return nil, enrollment.ErrCertificateTaken
	}
	if err != nil {
		return nil, fmt.Errorf("set certificate: %w", err)
	}
	return r.Get(ctx, id)
}

func (r *EnrollmentRepository) CertificateExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM enrollments WHERE certificate_number = $1)`, code)
	if err != nil {
		return false, fmt.Errorf("check certificate: %w", err)
	}
	return exists, nil
}

func (r *EnrollmentRepository) FindByCertificate(ctx context.Context, code string) (*enrollment.Enrollment, error) {
	var e enrollment.Enrollment
	err := r.db.GetContext(ctx, &e, `SELECT `+enrollmentColumns+` FROM enrollments WHERE certificate_number = $1`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, enrollment.ErrEnrollmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find certificate: %w", err)
	}
	return &e, nil
}

func (r *EnrollmentRepository) HasEnrollments(ctx context.Context, courseID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM enrollments WHERE course_id = $1)`, courseID)
	if err != nil {
		return false, fmt.Errorf("check enrollments: %w", err)
	}
	return exists, nil
}
