package enrollment

import (
	"context"

	"coursemarket/internal/apperr"
	"coursemarket/internal/catalog"
	"coursemarket/internal/eventstore"

	"github.com/google/uuid"
)

var (
	ErrEnrollmentNotFound = apperr.NotFound("enrollment_not_found", "enrollment not found")
	ErrCourseUnavailable  = apperr.Conflict("course_unavailable", "Course unavailable")
	ErrAlreadyEnrolled    = apperr.Conflict("already_enrolled", "Already enrolled")
	ErrNotPaid            = apperr.Conflict("not_paid", "enrollment is not paid")
	// ErrAlreadyPaid is returned by Repository.DeleteUnpaid for a paid row.
	ErrAlreadyPaid = apperr.Conflict("already_paid", "enrollment was paid")
	// ErrCertificateTaken is returned by Repository.SetCertificate when the
	// code is already held by another enrollment.
	ErrCertificateTaken = apperr.Conflict("certificate_taken", "certificate number already issued")
	ErrCodeExhausted    = apperr.Internal("certificate_collision", "could not generate a unique certificate number")
)

// Service is the enrollment ledger together with the purchase, payment
// callback, cancellation and certificate flows that mutate it.
type Service interface {
	InitiatePurchase(ctx context.Context, userID, courseID uuid.UUID) (*Purchase, error)
	ProcessCallback(ctx context.Context, orderID, reported string) error
	Cancel(ctx context.Context, userID, enrollmentID uuid.UUID) (CancelOutcome, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]Order, error)
	ListEnrollments(ctx context.Context, filter Filter) ([]*Enrollment, error)
	GetEnrollment(ctx context.Context, id uuid.UUID) (*Enrollment, error)
	IssueCertificate(ctx context.Context, enrollmentID uuid.UUID) (string, error)
	VerifyCertificate(ctx context.Context, code string) VerifyResult
	History(ctx context.Context, enrollmentID uuid.UUID) ([]eventstore.Event, error)
	HasEnrollments(ctx context.Context, courseID uuid.UUID) (bool, error)
}

// Purchase is the result of a purchase attempt.
type Purchase struct {
	Enrollment *Enrollment
	PaymentURL string
	// Created is false when an existing pending or failed row was reused.
	Created bool
}

// Order is an enrollment together with the course it refers to.
type Order struct {
	Enrollment *Enrollment
	Course     *catalog.Course
}

// Repository persists enrollments. Every method that changes a row does so
// atomically with its precondition.
type Repository interface {
	// GetOrCreate returns the enrollment for (e.UserID, e.CourseID),
	// inserting e when there is none. created reports whether e was stored.
	GetOrCreate(ctx context.Context, e *Enrollment) (current *Enrollment, created bool, err error)
	// ReissueOrder resets an unpaid enrollment to pending under a new order
	// id. It returns ErrAlreadyEnrolled if the row is paid.
	ReissueOrder(ctx context.Context, id uuid.UUID, orderID string) (*Enrollment, error)
	// ApplyPaymentStatus sets the status of the enrollment holding orderID
	// unless it is already paid, and returns the status it had before.
	// An unknown order yields ErrEnrollmentNotFound.
	ApplyPaymentStatus(ctx context.Context, orderID string, status Status) (prev Status, current *Enrollment, err error)
	Get(ctx context.Context, id uuid.UUID) (*Enrollment, error)
	// DeleteUnpaid removes the user's enrollment unless it is paid, in which
	// case it returns ErrAlreadyPaid and leaves the row alone.
	DeleteUnpaid(ctx context.Context, userID, id uuid.UUID) (*Enrollment, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Enrollment, error)
	List(ctx context.Context, filter Filter) ([]*Enrollment, error)
	// SetCertificate assigns code to a paid enrollment that has none yet and
	// returns the row as stored. When another code won the race the returned
	// row carries that code.
	SetCertificate(ctx context.Context, id uuid.UUID, code string) (*Enrollment, error)
	CertificateExists(ctx context.Context, code string) (bool, error)
	FindByCertificate(ctx context.Context, code string) (*Enrollment, error)
	HasEnrollments(ctx context.Context, courseID uuid.UUID) (bool, error)
}

// CourseReader is the slice of the catalog the ledger depends on.
type CourseReader interface {
	GetCourse(ctx context.Context, id uuid.UUID) (*catalog.Course, error)
}

// PaymentGateway builds the provider-hosted payment page for an order.
type PaymentGateway interface {
	PaymentURL(orderID string) (string, error)
}

// HistoryReader loads the journal of an aggregate.
type HistoryReader interface {
	History(ctx context.Context, aggregateID uuid.UUID) ([]eventstore.Event, error)
}
