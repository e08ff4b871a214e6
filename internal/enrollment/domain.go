package enrollment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the payment state of an enrollment. The raw key is the wire and
// storage representation; Label is for display only.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

var statusLabels = map[Status]string{
	StatusPending: "Ожидает оплаты",
	StatusSuccess: "Оплачено",
	StatusFailed:  "Ошибка оплаты",
}

// Label returns the human readable name of the status.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// ParseStatus converts a raw key into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown payment status %q", raw)
	}
	return s, nil
}

// Enrollment links a user to a course and tracks the payment for it. There is
// at most one enrollment per (user, course).
type Enrollment struct {
	ID       uuid.UUID `json:"id" db:"id"`
	UserID   uuid.UUID `json:"user_id" db:"user_id"`
	CourseID uuid.UUID `json:"course_id" db:"course_id"`
	Status   Status    `json:"payment_status" db:"status"`
	// OrderID correlates the latest purchase attempt with payment callbacks.
	// It changes every time the purchase is retried.
	OrderID string `json:"order_id" db:"order_id"`
	// CertificateNumber is set at most once and never changes afterwards.
	CertificateNumber *string   `json:"certificate_number" db:"certificate_number"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// Paid reports whether the enrollment has a confirmed payment.
func (e *Enrollment) Paid() bool {
	return e.Status == StatusSuccess
}

// Filter narrows operator listings. Zero fields match everything.
type Filter struct {
	CourseID uuid.UUID
	UserID   uuid.UUID
	Status   Status
}

// CancelOutcome is the structured result of a cancellation request.
type CancelOutcome string

const (
	CancelOutcomeCancelled   CancelOutcome = "cancelled"
	CancelOutcomeAlreadyPaid CancelOutcome = "already_paid"
)

// VerifyResult is the outcome of a certificate check.
type VerifyResult string

const (
	VerifySuccess VerifyResult = "success"
	VerifyFailed  VerifyResult = "failed"
)

// Events

type EnrollmentCreatedEvent struct {
	EnrollmentID uuid.UUID `json:"enrollment_id"`
	UserID       uuid.UUID `json:"user_id"`
	CourseID     uuid.UUID `json:"course_id"`
	OrderID      string    `json:"order_id"`
}

type OrderReissuedEvent struct {
	EnrollmentID uuid.UUID `json:"enrollment_id"`
	OrderID      string    `json:"order_id"`
	PreviousID   string    `json:"previous_order_id"`
	From         Status    `json:"from"`
}

type PaymentStatusChangedEvent struct {
	EnrollmentID uuid.UUID `json:"enrollment_id"`
	OrderID      string    `json:"order_id"`
	From         Status    `json:"from"`
	To           Status    `json:"to"`
}

type EnrollmentCancelledEvent struct {
	EnrollmentID uuid.UUID `json:"enrollment_id"`
	UserID       uuid.UUID `json:"user_id"`
	CourseID     uuid.UUID `json:"course_id"`
	Status       Status    `json:"status"`
}

type CertificateIssuedEvent struct {
	EnrollmentID      uuid.UUID `json:"enrollment_id"`
	CertificateNumber string    `json:"certificate_number"`
}
