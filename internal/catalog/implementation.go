package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"coursemarket/internal/eventstore"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const aggregateType = "course"

// service implements the Service interface.
type service struct {
	repo        Repository
	enrollments EnrollmentChecker
	events      eventstore.Recorder
	cache       ListCache
	maxPageSize int
	tracer      trace.Tracer
}

// NewService creates a new catalog service instance. A nil cache disables
// listing caching and a nil recorder discards events.
func NewService(repo Repository, enrollments EnrollmentChecker, events eventstore.Recorder, cache ListCache, maxPageSize int) Service {
	if cache == nil {
		cache = NoCache{}
	}
	if events == nil {
		events = eventstore.Discard
	}
	return &service{
		repo:        repo,
		enrollments: enrollments,
		events:      events,
		cache:       cache,
		maxPageSize: maxPageSize,
		tracer:      otel.Tracer("coursemarket/catalog"),
	}
}

// CreateCourse validates and stores a new course.
func (s *service) CreateCourse(ctx context.Context, in CourseInput) (*Course, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.create_course")
	defer span.End()

	if err := in.Validate(); err != nil {
		return nil, err
	}
	img, err := CoverImagePath(in.ImageName)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	course := &Course{
		ID:          uuid.New(),
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Hours:       in.Hours,
		Price:       in.Price,
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		Image:       img,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateCourse(ctx, course); err != nil {
		return nil, fmt.Errorf("failed to store course: %w", err)
	}
	span.SetAttributes(attribute.String("course.id", course.ID.String()))

	s.record(ctx, course.ID, "CourseCreated", CourseCreatedEvent{
		ID:        course.ID,
		Name:      course.Name,
		Price:     course.Price,
		StartDate: course.StartDate,
		EndDate:   course.EndDate,
	})
	s.invalidate(ctx)
	return course, nil
}

// UpdateCourse replaces the writable fields of a course. An empty image name
// keeps the current cover.
func (s *service) UpdateCourse(ctx context.Context, id uuid.UUID, in CourseInput) (*Course, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.update_course",
		trace.WithAttributes(attribute.String("course.id", id.String())))
	defer span.End()

	if err := in.Validate(); err != nil {
		return nil, err
	}
	course, err := s.repo.GetCourse(ctx, id)
	if err != nil {
		return nil, err
	}

	course.Name = strings.TrimSpace(in.Name)
	course.Description = in.Description
	course.Hours = in.Hours
	course.Price = in.Price
	course.StartDate = in.StartDate
	course.EndDate = in.EndDate
	course.UpdatedAt = time.Now().UTC()
	if in.ImageName != "" {
		if course.Image, err = CoverImagePath(in.ImageName); err != nil {
			return nil, err
		}
	}

	if err := s.repo.UpdateCourse(ctx, course); err != nil {
		return nil, err
	}

	s.record(ctx, course.ID, "CourseUpdated", CourseUpdatedEvent{ID: course.ID, Name: course.Name, Price: course.Price})
	s.invalidate(ctx)
	return course, nil
}

// GetCourse retrieves a course by its ID.
func (s *service) GetCourse(ctx context.Context, id uuid.UUID) (*Course, error) {
	return s.repo.GetCourse(ctx, id)
}

// ListCourses returns one page of the catalog.
func (s *service) ListCourses(ctx context.Context, req PageRequest) (*Page, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.list_courses")
	defer span.End()

	req = req.normalize(s.maxPageSize)
	if req.Page < 1 {
		return nil, ErrPageNotFound
	}
	span.SetAttributes(attribute.Int("page", req.Page), attribute.Int("page.size", req.Size))

	courses, count, err := s.cache.ListCourses(ctx, req.Size, req.offset(), s.repo.ListCourses)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}

	pages := totalPages(count, req.Size)
	if req.Page > pages {
		return nil, ErrPageNotFound
	}

	return &Page{
		Items:      courses,
		TotalPages: pages,
		Current:    req.Page,
		PerPage:    req.Size,
		Count:      count,
	}, nil
}

// ListLessons returns the lessons of an existing course.
func (s *service) ListLessons(ctx context.Context, courseID uuid.UUID) ([]*Lesson, error) {
	if _, err := s.repo.GetCourse(ctx, courseID); err != nil {
		return nil, err
	}
	return s.repo.ListLessons(ctx, courseID)
}

// CreateLesson attaches a lesson to a course that has room for it.
func (s *service) CreateLesson(ctx context.Context, courseID uuid.UUID, in LessonInput) (*Lesson, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.create_lesson",
		trace.WithAttributes(attribute.String("course.id", courseID.String())))
	defer span.End()

	if err := in.Validate(); err != nil {
		return nil, err
	}

	lesson := &Lesson{
		ID:          uuid.New(),
		CourseID:    courseID,
		Name:        strings.TrimSpace(in.Name),
		TextContent: in.TextContent,
		VideoLink:   in.VideoLink,
		Hours:       in.Hours,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.repo.AddLesson(ctx, lesson, MaxLessonsPerCourse); err != nil {
		if errors.Is(err, ErrCapacityExceeded) {
			span.SetAttributes(attribute.Bool("capacity.exceeded", true))
		}
		return nil, err
	}

	s.record(ctx, courseID, "LessonAdded", LessonAddedEvent{ID: lesson.ID, CourseID: courseID, Name: lesson.Name})
	return lesson, nil
}

// DeleteCourse removes a course and its lessons unless anyone is enrolled.
func (s *service) DeleteCourse(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "catalog.delete_course",
		trace.WithAttributes(attribute.String("course.id", id.String())))
	defer span.End()

	if _, err := s.repo.GetCourse(ctx, id); err != nil {
		return err
	}
	if err := s.guardEnrollments(ctx, id); err != nil {
		return err
	}
	if err := s.repo.DeleteCourse(ctx, id); err != nil {
		return err
	}

	s.record(ctx, id, "CourseDeleted", CourseDeletedEvent{ID: id})
	s.invalidate(ctx)
	return nil
}

// DeleteLesson removes a lesson unless anyone is enrolled in its course.
func (s *service) DeleteLesson(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "catalog.delete_lesson",
		trace.WithAttributes(attribute.String("lesson.id", id.String())))
	defer span.End()

	lesson, err := s.repo.GetLesson(ctx, id)
	if err != nil {
		return err
	}
	if err := s.guardEnrollments(ctx, lesson.CourseID); err != nil {
		return err
	}
	if err := s.repo.DeleteLesson(ctx, id); err != nil {
		return err
	}

	s.record(ctx, lesson.CourseID, "LessonDeleted", LessonDeletedEvent{ID: id, CourseID: lesson.CourseID})
	return nil
}

// guardEnrollments blocks deletion while any enrollment, in any status,
// references the course.
func (s *service) guardEnrollments(ctx context.Context, courseID uuid.UUID) error {
	enrolled, err := s.enrollments.HasEnrollments(ctx, courseID)
	if err != nil {
		return fmt.Errorf("failed to check enrollments: %w", err)
	}
	if enrolled {
		return ErrReferentialConflict
	}
	return nil
}

func (s *service) record(ctx context.Context, id uuid.UUID, eventType string, data any) {
	if err := s.events.Record(ctx, id, aggregateType, eventType, data); err != nil {
		log.Printf("record %s for course %s: %v", eventType, id, err)
	}
}

func (s *service) invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		log.Printf("invalidate course listing cache: %v", err)
	}
}
