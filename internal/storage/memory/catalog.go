package memory

import (
	"context"
	"sort"

	"coursemarket/internal/catalog"

	"github.com/google/uuid"
)

// CatalogRepository implements catalog.Repository.
type CatalogRepository struct {
	s *Store
}

var _ catalog.Repository = (*CatalogRepository)(nil)

func copyCourse(c *catalog.Course) *catalog.Course {
	cp := *c
	return &cp
}

func copyLesson(l *catalog.Lesson) *catalog.Lesson {
	cp := *l
	return &cp
}

func (r *CatalogRepository) CreateCourse(_ context.Context, c *catalog.Course) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.courses[c.ID] = copyCourse(c)
	return nil
}

func (r *CatalogRepository) UpdateCourse(_ context.Context, c *catalog.Course) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.courses[c.ID]; !ok {
		return catalog.ErrCourseNotFound
	}
	r.s.courses[c.ID] = copyCourse(c)
	return nil
}

func (r *CatalogRepository) GetCourse(_ context.Context, id uuid.UUID) (*catalog.Course, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.courses[id]
	if !ok {
		return nil, catalog.ErrCourseNotFound
	}
	return copyCourse(c), nil
}

// ListCourses orders by creation time, then id, matching the postgres query.
func (r *CatalogRepository) ListCourses(_ context.Context, limit, offset int) ([]*catalog.Course, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	all := make([]*catalog.Course, 0, len(r.s.courses))
	for _, c := range r.s.courses {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})

	total := len(all)
	if offset >= total {
		return []*catalog.Course{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	window := make([]*catalog.Course, 0, end-offset)
	for _, c := range all[offset:end] {
		window = append(window, copyCourse(c))
	}
	return window, total, nil
}

func (r *CatalogRepository) DeleteCourse(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.courses[id]; !ok {
		return catalog.ErrCourseNotFound
	}
	if r.s.courseHasEnrollments(id) {
		return catalog.ErrReferentialConflict
	}
	for lid, l := range r.s.lessons {
		if l.CourseID == id {
			delete(r.s.lessons, lid)
		}
	}
	delete(r.s.courses, id)
	return nil
}

func (r *CatalogRepository) AddLesson(_ context.Context, l *catalog.Lesson, max int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.courses[l.CourseID]; !ok {
		return catalog.ErrCourseNotFound
	}
	count := 0
	for _, existing := range r.s.lessons {
		if existing.CourseID == l.CourseID {
			count++
		}
	}
	if count >= max {
		return catalog.ErrCapacityExceeded
	}
	r.s.lessons[l.ID] = copyLesson(l)
	return nil
}

func (r *CatalogRepository) GetLesson(_ context.Context, id uuid.UUID) (*catalog.Lesson, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.lessons[id]
	if !ok {
		return nil, catalog.ErrLessonNotFound
	}
	return copyLesson(l), nil
}

func (r *CatalogRepository) ListLessons(_ context.Context, courseID uuid.UUID) ([]*catalog.Lesson, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	lessons := []*catalog.Lesson{}
	for _, l := range r.s.lessons {
		if l.CourseID == courseID {
			lessons = append(lessons, copyLesson(l))
		}
	}
	sort.Slice(lessons, func(i, j int) bool {
		if !lessons[i].CreatedAt.Equal(lessons[j].CreatedAt) {
			return lessons[i].CreatedAt.Before(lessons[j].CreatedAt)
		}
		return lessons[i].ID.String() < lessons[j].ID.String()
	})
	return lessons, nil
}

func (r *CatalogRepository) DeleteLesson(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.lessons[id]
	if !ok {
		return catalog.ErrLessonNotFound
	}
	if r.s.courseHasEnrollments(l.CourseID) {
		return catalog.ErrReferentialConflict
	}
	delete(r.s.lessons, id)
	return nil
}
