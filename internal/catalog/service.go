package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the catalog service.
type Service interface {
	CreateCourse(ctx context.Context, in CourseInput) (*Course, error)
	UpdateCourse(ctx context.Context, id uuid.UUID, in CourseInput) (*Course, error)
	GetCourse(ctx context.Context, id uuid.UUID) (*Course, error)
	ListCourses(ctx context.Context, req PageRequest) (*Page, error)
	ListLessons(ctx context.Context, courseID uuid.UUID) ([]*Lesson, error)
	CreateLesson(ctx context.Context, courseID uuid.UUID, in LessonInput) (*Lesson, error)
	DeleteCourse(ctx context.Context, id uuid.UUID) error
	DeleteLesson(ctx context.Context, id uuid.UUID) error
}

// Repository persists courses and lessons.
type Repository interface {
	CreateCourse(ctx context.Context, c *Course) error
	// UpdateCourse returns ErrCourseNotFound for an unknown id.
	UpdateCourse(ctx context.Context, c *Course) error
	GetCourse(ctx context.Context, id uuid.UUID) (*Course, error)
	// ListCourses returns one window of courses and the total course count.
	ListCourses(ctx context.Context, limit, offset int) ([]*Course, int, error)
	// DeleteCourse removes the course together with its lessons.
	DeleteCourse(ctx context.Context, id uuid.UUID) error

	// AddLesson inserts l unless its course already owns max lessons, in
	// which case it returns ErrCapacityExceeded. Count and insert are atomic.
	AddLesson(ctx context.Context, l *Lesson, max int) error
	GetLesson(ctx context.Context, id uuid.UUID) (*Lesson, error)
	ListLessons(ctx context.Context, courseID uuid.UUID) ([]*Lesson, error)
	DeleteLesson(ctx context.Context, id uuid.UUID) error
}

// EnrollmentChecker answers whether any enrollment references a course.
type EnrollmentChecker interface {
	HasEnrollments(ctx context.Context, courseID uuid.UUID) (bool, error)
}
