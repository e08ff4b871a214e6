package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"coursemarket/internal/catalog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// CatalogRepository implements catalog.Repository.
type CatalogRepository struct {
	db *sqlx.DB
}

var _ catalog.Repository = (*CatalogRepository)(nil)

func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

const courseColumns = `id, name, description, hours, price_cents, start_date, end_date, img, created_at, updated_at`

const lessonColumns = `id, course_id, name, text_content, video_link, hours, created_at`

func (r *CatalogRepository) CreateCourse(ctx context.Context, c *catalog.Course) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO courses (`+courseColumns+`)
		VALUES (:id, :name, :description, :hours, :price_cents, :start_date, :end_date, :img, :created_at, :updated_at)
	`, c)
	if err != nil {
		return fmt.Errorf("insert course: %w", err)
	}
	return nil
}

func (r *CatalogRepository) UpdateCourse(ctx context.Context, c *catalog.Course) error {
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE courses
		SET name = :name, description = :description, hours = :hours, price_cents = :price_cents,
			start_date = :start_date, end_date = :end_date, img = :img, updated_at = :updated_at
		WHERE id = :id
	`, c)
	if err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return catalog.ErrCourseNotFound
	}
	return nil
}

func (r *CatalogRepository) GetCourse(ctx context.Context, id uuid.UUID) (*catalog.Course, error) {
	var c catalog.Course
	err := r.db.GetContext(ctx, &c, `SELECT `+courseColumns+` FROM courses WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}
	return &c, nil
}

func (r *CatalogRepository) ListCourses(ctx context.Context, limit, offset int) ([]*catalog.Course, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM courses`); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}

	courses := []*catalog.Course{}
	err := r.db.SelectContext(ctx, &courses, `
		SELECT `+courseColumns+`
		FROM courses
		ORDER BY created_at, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}
	return courses, total, nil
}

// DeleteCourse relies on ON DELETE CASCADE for lessons and ON DELETE RESTRICT
// for enrollments.
func (r *CatalogRepository) DeleteCourse(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if _, ok := constraintViolation(err, foreignKeyViolation); ok {
		return catalog.ErrReferentialConflict
	}
	if err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return catalog.ErrCourseNotFound
	}
	return nil
}

// AddLesson locks the course row so concurrent inserts for one course
// serialize on the count.
func (r *CatalogRepository) AddLesson(ctx context.Context, l *catalog.Lesson, max int) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var locked uuid.UUID
	err = tx.GetContext(ctx, &locked, `SELECT id FROM courses WHERE id = $1 FOR UPDATE`, l.CourseID)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.ErrCourseNotFound
	}
	if err != nil {
		return fmt.Errorf("lock course: %w", err)
	}

	var count int
	if err := tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM lessons WHERE course_id = $1`, l.CourseID); err != nil {
		return fmt.Errorf("count lessons: %w", err)
	}
	if count >= max {
		return catalog.ErrCapacityExceeded
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO lessons (`+lessonColumns+`)
		VALUES (:id, :course_id, :name, :text_content, :video_link, :hours, :created_at)
	`, l)
	if err != nil {
		return fmt.Errorf("insert lesson: %w", err)
	}
	return tx.Commit()
}

func (r *CatalogRepository) GetLesson(ctx context.Context, id uuid.UUID) (*catalog.Lesson, error) {
	var l catalog.Lesson
	err := r.db.GetContext(ctx, &l, `SELECT `+lessonColumns+` FROM lessons WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrLessonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lesson: %w", err)
	}
	return &l, nil
}

func (r *CatalogRepository) ListLessons(ctx context.Context, courseID uuid.UUID) ([]*catalog.Lesson, error) {
	lessons := []*catalog.Lesson{}
	err := r.db.SelectContext(ctx, &lessons, `
		SELECT `+lessonColumns+`
		FROM lessons
		WHERE course_id = $1
		ORDER BY created_at, id
	`, courseID)
	if err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	return lessons, nil
}

// DeleteLesson refuses in the same statement when the lesson's course has
// enrollments.
func (r *CatalogRepository) DeleteLesson(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM lessons l
		WHERE l.id = $1
		AND NOT EXISTS (SELECT 1 FROM enrollments e WHERE e.course_id = l.course_id)
	`, id)
	if err != nil {
		return fmt.Errorf("delete lesson: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := r.GetLesson(ctx, id); err != nil {
		return err
	}
	return catalog.ErrReferentialConflict
}
