package memory

import (
	"context"
	"sort"
	"time"

	"coursemarket/internal/enrollment"

	"github.com/google/uuid"
)

// EnrollmentRepository implements enrollment.Repository.
type EnrollmentRepository struct {
	s *Store
}

var _ enrollment.Repository = (*EnrollmentRepository)(nil)

func copyEnrollment(e *enrollment.Enrollment) *enrollment.Enrollment {
	cp := *e
	if e.CertificateNumber != nil {
		code := *e.CertificateNumber
		cp.CertificateNumber = &code
	}
	return &cp
}

func (r *EnrollmentRepository) GetOrCreate(_ context.Context, e *enrollment.Enrollment) (*enrollment.Enrollment, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := pairKey{user: e.UserID, course: e.CourseID}
	if id, ok := r.s.byPair[key]; ok {
		return copyEnrollment(r.s.enrollments[id]), false, nil
	}

	stored := copyEnrollment(e)
	r.s.enrollments[e.ID] = stored
	r.s.byPair[key] = e.ID
	r.s.byOrder[e.OrderID] = e.ID
	return copyEnrollment(stored), true, nil
}

func (r *EnrollmentRepository) ReissueOrder(_ context.Context, id uuid.UUID, orderID string) (*enrollment.Enrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.enrollments[id]
	if !ok {
		return nil, enrollment.ErrEnrollmentNotFound
	}
	if e.Paid() {
		return nil, enrollment.ErrAlreadyEnrolled
	}
	delete(r.s.byOrder, e.OrderID)
	e.OrderID = orderID
	e.Status = enrollment.StatusPending
	e.UpdatedAt = time.Now().UTC()
	r.s.byOrder[orderID] = id
	return copyEnrollment(e), nil
}

func (r *EnrollmentRepository) ApplyPaymentStatus(_ context.Context, orderID string, status enrollment.Status) (enrollment.Status, *enrollment.Enrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.byOrder[orderID]
	if !ok {
		return "", nil, enrollment.ErrEnrollmentNotFound
	}
	e := r.s.enrollments[id]
	prev := e.Status
	if !e.Paid() && prev != status {
		e.Status = status
		e.UpdatedAt = time.Now().UTC()
	}
	return prev, copyEnrollment(e), nil
}

func (r *EnrollmentRepository) Get(_ context.Context, id uuid.UUID) (*enrollment.Enrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.enrollments[id]
	if !ok {
		return nil, enrollment.ErrEnrollmentNotFound
	}
	return copyEnrollment(e), nil
}

func (r *EnrollmentRepository) DeleteUnpaid(_ context.Context, userID, id uuid.UUID) (*enrollment.Enrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.enrollments[id]
	if !ok || e.UserID != userID {
		return nil, enrollment.ErrEnrollmentNotFound
	}
	if e.Paid() {
		return nil, enrollment.ErrAlreadyPaid
	}
	delete(r.s.enrollments, id)
	delete(r.s.byPair, pairKey{user: e.UserID, course: e.CourseID})
	delete(r.s.byOrder, e.OrderID)
	return e, nil
}

func (r *EnrollmentRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*enrollment.Enrollment, error) {
	return r.List(ctx, enrollment.Filter{UserID: userID})
}

func (r *EnrollmentRepository) List(_ context.Context, f enrollment.Filter) ([]*enrollment.Enrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []*enrollment.Enrollment{}
	for _, e := range r.s.enrollments {
		if f.UserID != uuid.Nil && e.UserID != f.UserID {
			continue
		}
		if f.CourseID != uuid.Nil && e.CourseID != f.CourseID {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		out = append(out, copyEnrollment(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *EnrollmentRepository) SetCertificate(_ context.Context, id uuid.UUID, code string) (*enrollment.Enrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.enrollments[id]
	if !ok {
		return nil, enrollment.ErrEnrollmentNotFound
	}
	if e.CertificateNumber == nil && e.Paid() {
		if holder, taken := r.s.byCode[code]; taken && holder != id {
			return nil, enrollment.ErrCertificateTaken
		}
		c := code
		e.CertificateNumber = &c
		e.UpdatedAt = time.Now().UTC()
		r.s.byCode[code] = id
	}
	return copyEnrollment(e), nil
}

func (r *EnrollmentRepository) CertificateExists(_ context.Context, code string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.byCode[code]
	return ok, nil
}

func (r *EnrollmentRepository) FindByCertificate(_ context.Context, code string) (*enrollment.Enrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.byCode[code]
	if !ok {
		return nil, enrollment.ErrEnrollmentNotFound
	}
	return copyEnrollment(r.s.enrollments[id]), nil
}

func (r *EnrollmentRepository) HasEnrollments(_ context.Context, courseID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.courseHasEnrollments(courseID), nil
}
