// Package memory keeps every repository in process behind a single lock. It
// backs local development and the test suites, and mirrors the constraints
// of the postgres schema: unique (user, course) enrollments, unique order ids
// and certificate numbers, and no course or lesson deletion while enrollments
// exist.
package memory

import (
	"sync"

	"coursemarket/internal/catalog"
	"coursemarket/internal/enrollment"
	"coursemarket/internal/membership"

	"github.com/google/uuid"
)

type pairKey struct {
	user, course uuid.UUID
}

// Store is the shared state of the memory repositories.
type Store struct {
	mu sync.Mutex

	courses     map[uuid.UUID]*catalog.Course
	lessons     map[uuid.UUID]*catalog.Lesson
	enrollments map[uuid.UUID]*enrollment.Enrollment
	byPair      map[pairKey]uuid.UUID
	byOrder     map[string]uuid.UUID
	byCode      map[string]uuid.UUID
	members     map[uuid.UUID]*membership.Member
	byEmail     map[string]uuid.UUID
}

func NewStore() *Store {
	return &Store{
		courses:     make(map[uuid.UUID]*catalog.Course),
		lessons:     make(map[uuid.UUID]*catalog.Lesson),
		enrollments: make(map[uuid.UUID]*enrollment.Enrollment),
		byPair:      make(map[pairKey]uuid.UUID),
		byOrder:     make(map[string]uuid.UUID),
		byCode:      make(map[string]uuid.UUID),
		members:     make(map[uuid.UUID]*membership.Member),
		byEmail:     make(map[string]uuid.UUID),
	}
}

// Catalog returns the course and lesson repository.
func (s *Store) Catalog() *CatalogRepository {
	return &CatalogRepository{s: s}
}

// Enrollments returns the enrollment repository.
func (s *Store) Enrollments() *EnrollmentRepository {
	return &EnrollmentRepository{s: s}
}

// Members returns the member repository.
func (s *Store) Members() *MemberRepository {
	return &MemberRepository{s: s}
}

func (s *Store) courseHasEnrollments(courseID uuid.UUID) bool {
	for _, e := range s.enrollments {
		if e.CourseID == courseID {
			return true
		}
	}
	return false
}
