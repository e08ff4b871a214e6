package enrollment

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"coursemarket/internal/catalog"
	"coursemarket/internal/eventstore"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const aggregateType = "enrollment"

// issueAttempts bounds certificate code generation: one try plus one retry.
const issueAttempts = 2

// Deps wires the ledger to its collaborators. Events, History, Codes,
// Location and Now are optional.
type Deps struct {
	Repo     Repository
	Courses  CourseReader
	Payments PaymentGateway
	Events   eventstore.Recorder
	History  HistoryReader
	Codes    CodeSource
	// Location decides which calendar day "today" is for the purchase window.
	Location *time.Location
	Now      func() time.Time
}

// service implements the Service interface.
type service struct {
	repo     Repository
	courses  CourseReader
	payments PaymentGateway
	events   eventstore.Recorder
	history  HistoryReader
	codes    CodeSource
	loc      *time.Location
	now      func() time.Time

	tracer       trace.Tracer
	purchases    metric.Int64Counter
	callbacks    metric.Int64Counter
	certificates metric.Int64Counter
}

// NewService creates a new enrollment service instance.
func NewService(d Deps) (Service, error) {
	s := &service{
		repo:     d.Repo,
		courses:  d.Courses,
		payments: d.Payments,
		events:   d.Events,
		history:  d.History,
		codes:    d.Codes,
		loc:      d.Location,
		now:      d.Now,
		tracer:   otel.Tracer("coursemarket/enrollment"),
	}
	if s.events == nil {
		s.events = eventstore.Discard
	}
	if s.codes == nil {
		s.codes = NewRandomCodes(DefaultCertificatePrefix)
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}

	meter := otel.Meter("coursemarket/enrollment")
	var err error
	if s.purchases, err = meter.Int64Counter("enrollment.purchases",
		metric.WithDescription("Purchase attempts by outcome")); err != nil {
		return nil, fmt.Errorf("failed to create purchases counter: %w", err)
	}
	if s.callbacks, err = meter.Int64Counter("enrollment.payment_callbacks",
		metric.WithDescription("Payment provider callbacks by outcome")); err != nil {
		return nil, fmt.Errorf("failed to create callbacks counter: %w", err)
	}
	if s.certificates, err = meter.Int64Counter("enrollment.certificates_issued",
		metric.WithDescription("Certificate numbers minted")); err != nil {
		return nil, fmt.Errorf("failed to create certificates counter: %w", err)
	}
	return s, nil
}

// today returns the current calendar date in the configured location.
func (s *service) today() catalog.Date {
	return catalog.NewDate(s.now().In(s.loc))
}

// purchasable reports whether a course may still be bought on day. Purchases
// close on the start date itself but stay open through the end date; the
// asymmetry is intentional.
func purchasable(c *catalog.Course, day catalog.Date) bool {
	startsOnOrBefore := !day.Before(c.StartDate)
	return !(startsOnOrBefore || day.After(c.EndDate))
}

// newOrderID returns a random uuid as 32 hex digits.
func newOrderID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// InitiatePurchase opens or reuses the user's enrollment for a course and
// returns the payment page for a fresh order.
func (s *service) InitiatePurchase(ctx context.Context, userID, courseID uuid.UUID) (*Purchase, error) {
	ctx, span := s.tracer.Start(ctx, "enrollment.initiate_purchase", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
		attribute.String("course.id", courseID.String()),
	))
	defer span.End()

	purchase, err := s.initiatePurchase(ctx, userID, courseID)
	outcome := "created"
	switch {
	case err != nil:
		outcome = "rejected"
		span.RecordError(err)
	case !purchase.Created:
		outcome = "reissued"
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	s.purchases.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return purchase, err
}

func (s *service) initiatePurchase(ctx context.Context, userID, courseID uuid.UUID) (*Purchase, error) {
	course, err := s.courses.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !purchasable(course, s.today()) {
		return nil, ErrCourseUnavailable
	}

	now := s.now().UTC()
	candidate := &Enrollment{
		ID:        uuid.New(),
		UserID:    userID,
		CourseID:  courseID,
		Status:    StatusPending,
		OrderID:   newOrderID(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	current, created, err := s.repo.GetOrCreate(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("failed to open enrollment: %w", err)
	}

	if created {
		s.record(ctx, current.ID, "EnrollmentCreated", EnrollmentCreatedEvent{
			EnrollmentID: current.ID,
			UserID:       userID,
			CourseID:     courseID,
			OrderID:      current.OrderID,
		})
	} else {
		if current.Paid() {
			return nil, ErrAlreadyEnrolled
		}
		previous := *current
		current, err = s.repo.ReissueOrder(ctx, previous.ID, candidate.OrderID)
		if err != nil {
			return nil, err
		}
		s.record(ctx, current.ID, "OrderReissued", OrderReissuedEvent{
			EnrollmentID: current.ID,
			OrderID:      current.OrderID,
			PreviousID:   previous.OrderID,
			From:         previous.Status,
		})
	}

	url, err := s.payments.PaymentURL(current.OrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to build payment url: %w", err)
	}
	return &Purchase{Enrollment: current, PaymentURL: url, Created: created}, nil
}

// ProcessCallback applies a payment provider notification. Unknown orders
// and unrecognised statuses are ignored; only storage failures are returned.
func (s *service) ProcessCallback(ctx context.Context, orderID, reported string) error {
	ctx, span := s.tracer.Start(ctx, "enrollment.process_callback", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("reported", reported),
	))
	defer span.End()

	outcome, err := s.processCallback(ctx, orderID, reported)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "callback failed")
		outcome = "error"
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	s.callbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return err
}

func (s *service) processCallback(ctx context.Context, orderID, reported string) (string, error) {
	status := Status(reported)
	if orderID == "" || (status != StatusSuccess && status != StatusFailed) {
		return "ignored", nil
	}

	prev, current, err := s.repo.ApplyPaymentStatus(ctx, orderID, status)
	if errors.Is(err, ErrEnrollmentNotFound) {
		return "unknown_order", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to apply payment status: %w", err)
	}
	if prev == current.Status {
		return "unchanged", nil
	}

	s.record(ctx, current.ID, "PaymentStatusChanged", PaymentStatusChangedEvent{
		EnrollmentID: current.ID,
		OrderID:      orderID,
		From:         prev,
		To:           current.Status,
	})
	return "applied", nil
}

// Cancel voids an unpaid enrollment owned by userID. A paid enrollment is
// left untouched and reported as CancelOutcomeAlreadyPaid.
func (s *service) Cancel(ctx context.Context, userID, enrollmentID uuid.UUID) (CancelOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "enrollment.cancel", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
		attribute.String("enrollment.id", enrollmentID.String()),
	))
	defer span.End()

	removed, err := s.repo.DeleteUnpaid(ctx, userID, enrollmentID)
	switch {
	case errors.Is(err, ErrAlreadyPaid):
		span.SetAttributes(attribute.String("outcome", string(CancelOutcomeAlreadyPaid)))
		return CancelOutcomeAlreadyPaid, nil
	case err != nil:
		return "", err
	}

	s.record(ctx, removed.ID, "EnrollmentCancelled", EnrollmentCancelledEvent{
		EnrollmentID: removed.ID,
		UserID:       removed.UserID,
		CourseID:     removed.CourseID,
		Status:       removed.Status,
	})
	span.SetAttributes(attribute.String("outcome", string(CancelOutcomeCancelled)))
	return CancelOutcomeCancelled, nil
}

// ListForUser returns the user's orders with their courses.
func (s *service) ListForUser(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	enrollments, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}

	orders := make([]Order, 0, len(enrollments))
	for _, e := range enrollments {
		course, err := s.courses.GetCourse(ctx, e.CourseID)
		if err != nil {
			return nil, fmt.Errorf("failed to load course %s: %w", e.CourseID, err)
		}
		orders = append(orders, Order{Enrollment: e, Course: course})
	}
	return orders, nil
}

func (s *service) ListEnrollments(ctx context.Context, filter Filter) ([]*Enrollment, error) {
	return s.repo.List(ctx, filter)
}

func (s *service) GetEnrollment(ctx context.Context, id uuid.UUID) (*Enrollment, error) {
	return s.repo.Get(ctx, id)
}

// IssueCertificate returns the certificate number of a paid enrollment,
// minting one on first use.
func (s *service) IssueCertificate(ctx context.Context, enrollmentID uuid.UUID) (string, error) {
	ctx, span := s.tracer.Start(ctx, "enrollment.issue_certificate",
		trace.WithAttributes(attribute.String("enrollment.id", enrollmentID.String())))
	defer span.End()

	e, err := s.repo.Get(ctx, enrollmentID)
	if err != nil {
		return "", err
	}
	if !e.Paid() {
		return "", ErrNotPaid
	}
	if e.CertificateNumber != nil {
		return *e.CertificateNumber, nil
	}

	for attempt := 0; attempt < issueAttempts; attempt++ {
		code, err := s.codes.Next()
		if err != nil {
			return "", err
		}
		taken, err := s.repo.CertificateExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check certificate number: %w", err)
		}
		if taken {
			log.Printf("certificate number collision for enrollment %s (attempt %d)", enrollmentID, attempt+1)
			continue
		}

		stored, err := s.repo.SetCertificate(ctx, enrollmentID, code)
		if errors.Is(err, ErrCertificateTaken) {
			log.Printf("certificate number collision for enrollment %s (attempt %d)", enrollmentID, attempt+1)
			continue
		}
		if err != nil {
			return "", err
		}
		if stored.CertificateNumber == nil {
			// The row lost its paid status between the read and the write.
			return "", ErrNotPaid
		}

		if *stored.CertificateNumber == code {
			s.certificates.Add(ctx, 1)
			s.record(ctx, enrollmentID, "CertificateIssued", CertificateIssuedEvent{
				EnrollmentID:      enrollmentID,
				CertificateNumber: code,
			})
		}
		return *stored.CertificateNumber, nil
	}

	span.SetStatus(codes.Error, "certificate collision")
	return "", ErrCodeExhausted
}

// VerifyCertificate reports whether code belongs to a paid enrollment. It
// never fails: anything that cannot be confirmed is VerifyFailed.
func (s *service) VerifyCertificate(ctx context.Context, code string) VerifyResult {
	ctx, span := s.tracer.Start(ctx, "enrollment.verify_certificate")
	defer span.End()

	code = normalizeCode(code)
	if code == "" {
		return VerifyFailed
	}

	e, err := s.repo.FindByCertificate(ctx, code)
	if err != nil {
		if !errors.Is(err, ErrEnrollmentNotFound) {
			log.Printf("verify certificate: %v", err)
		}
		return VerifyFailed
	}
	if !e.Paid() {
		return VerifyFailed
	}
	return VerifySuccess
}

// History returns the journal of an existing enrollment.
func (s *service) History(ctx context.Context, enrollmentID uuid.UUID) ([]eventstore.Event, error) {
	if _, err := s.repo.Get(ctx, enrollmentID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return nil, nil
	}
	return s.history.History(ctx, enrollmentID)
}

func (s *service) HasEnrollments(ctx context.Context, courseID uuid.UUID) (bool, error) {
	return s.repo.HasEnrollments(ctx, courseID)
}

func (s *service) record(ctx context.Context, id uuid.UUID, eventType string, data any) {
	if err := s.events.Record(ctx, id, aggregateType, eventType, data); err != nil {
		log.Printf("record %s for enrollment %s: %v", eventType, id, err)
	}
}
