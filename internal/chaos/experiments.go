package chaos

import (
	"context"
	"fmt"
	"sync"
	"time"

	"coursemarket/internal/catalog"
	"coursemarket/internal/enrollment"
	"coursemarket/internal/membership"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Ledger is the system under test. Each experiment provisions its own
// member and course so experiments never share rows.
type Ledger struct {
	Catalog     catalog.Service
	Enrollments enrollment.Service
	Members     membership.Service
	// Concurrency is the number of simultaneous requests per injection.
	Concurrency int
	// Observe bounds each experiment's observation phase.
	Observe time.Duration
	Now     func() time.Time
}

type fixture struct {
	userID   uuid.UUID
	courseID uuid.UUID
}

func (l *Ledger) concurrency() int {
	if l.Concurrency <= 0 {
		return 50
	}
	return l.Concurrency
}

func (l *Ledger) observeFor() time.Duration {
	if l.Observe <= 0 {
		return 3 * time.Second
	}
	return l.Observe
}

func (l *Ledger) provision(ctx context.Context, tag string) (*fixture, error) {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	suffix := uuid.NewString()[:8]

	member, err := l.Members.Register(ctx, fmt.Sprintf("chaos-%s-%s@example.com", tag, suffix), "Chaos1_x")
	if err != nil {
		return nil, fmt.Errorf("register chaos member: %w", err)
	}
	start := catalog.NewDate(now().AddDate(0, 0, 30))
	course, err := l.Catalog.CreateCourse(ctx, catalog.CourseInput{
		Name:      "chaos-" + suffix,
		Hours:     1,
		Price:     catalog.MinPrice,
		StartDate: start,
		EndDate:   catalog.NewDate(start.AddDate(0, 1, 0)),
	})
	if err != nil {
		return nil, fmt.Errorf("create chaos course: %w", err)
	}
	return &fixture{userID: member.ID, courseID: course.ID}, nil
}

func (l *Ledger) countRows(f *fixture) func(context.Context) (float64, error) {
	return func(ctx context.Context) (float64, error) {
		rows, err := l.Enrollments.ListEnrollments(ctx, enrollment.Filter{UserID: f.userID, CourseID: f.courseID})
		return float64(len(rows)), err
	}
}

// fanOut runs fn n times concurrently. Every call runs even when an earlier
// one failed; the first error is returned.
func fanOut(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error { return fn(ctx, i) })
	}
	return g.Wait()
}

// Register provisions and registers every ledger experiment.
func (l *Ledger) Register(ctx context.Context, e *Engine) error {
	builders := []func(context.Context) (Experiment, error){
		l.PurchaseRaceExperiment,
		l.WebhookReplayExperiment,
		l.CertificateRaceExperiment,
	}
	for _, build := range builders {
		exp, err := build(ctx)
		if err != nil {
			return err
		}
		e.Register(exp)
	}
	return nil
}

// PurchaseRaceExperiment fires simultaneous purchases of one course by one
// member. At most one enrollment may exist for the pair.
func (l *Ledger) PurchaseRaceExperiment(ctx context.Context) (Experiment, error) {
	f, err := l.provision(ctx, "purchase")
	if err != nil {
		return Experiment{}, err
	}

	return Experiment{
		Name:       "concurrent-purchase-race",
		Hypothesis: "Simultaneous purchases of one course by one member leave exactly one enrollment",
		SteadyState: []Probe{{
			Name:      "enrollments_for_pair",
			Read:      l.countRows(f),
			Tolerance: Tolerance{Op: "<=", Value: 1},
		}},
		Method: []Action{{
			Kind:   "concurrent-requests",
			Target: "purchase-initiator",
			Execute: func(ctx context.Context) error {
				return fanOut(ctx, l.concurrency(), func(ctx context.Context, _ int) error {
					_, err := l.Enrollments.InitiatePurchase(ctx, f.userID, f.courseID)
					return err
				})
			},
		}},
		Validation: []Assertion{{
			Probe:   "enrollments_for_pair",
			Holds:   func(v float64) bool { return v == 1 },
			Message: "exactly one enrollment should exist for the member and course",
		}},
		Duration: l.observeFor(),
	}, nil
}

// WebhookReplayExperiment delivers a storm of replayed, contradictory and
// bogus callbacks for one order. A success must stick once delivered.
func (l *Ledger) WebhookReplayExperiment(ctx context.Context) (Experiment, error) {
	f, err := l.provision(ctx, "webhook")
	if err != nil {
		return Experiment{}, err
	}
	purchase, err := l.Enrollments.InitiatePurchase(ctx, f.userID, f.courseID)
	if err != nil {
		return Experiment{}, fmt.Errorf("start chaos purchase: %w", err)
	}
	enrollmentID, orderID := purchase.Enrollment.ID, purchase.Enrollment.OrderID

	paid := func(ctx context.Context) (float64, error) {
		e, err := l.Enrollments.GetEnrollment(ctx, enrollmentID)
		if err != nil {
			return 0, err
		}
		if e.Paid() {
			return 1, nil
		}
		return 0, nil
	}
	reports := []struct{ order, status string }{
		{orderID, "success"},
		{orderID, "failed"},
		{orderID, "refunded"},
		{"unknown-" + orderID, "success"},
	}

	return Experiment{
		Name:       "webhook-replay-storm",
		Hypothesis: "Replayed and contradictory payment callbacks converge on a paid enrollment",
		SteadyState: []Probe{
			{Name: "enrollment_paid", Read: paid, Tolerance: Tolerance{Op: ">=", Value: 0}},
			{Name: "enrollments_for_pair", Read: l.countRows(f), Tolerance: Tolerance{Op: "==", Value: 1}},
		},
		Method: []Action{{
			Kind:   "replay",
			Target: "payment-webhook",
			Execute: func(ctx context.Context) error {
				return fanOut(ctx, l.concurrency(), func(ctx context.Context, i int) error {
					r := reports[i%len(reports)]
					return l.Enrollments.ProcessCallback(ctx, r.order, r.status)
				})
			},
		}},
		Validation: []Assertion{
			{
				Probe:   "enrollment_paid",
				Holds:   func(v float64) bool { return v == 1 },
				Message: "a delivered success should never be downgraded",
			},
			{
				Probe:   "enrollments_for_pair",
				Holds:   func(v float64) bool { return v == 1 },
				Message: "callbacks should not create or delete enrollments",
			},
		},
		Duration: l.observeFor(),
	}, nil
}

// CertificateRaceExperiment issues a certificate for one paid enrollment from
// many callers at once. Every caller must receive the same code.
func (l *Ledger) CertificateRaceExperiment(ctx context.Context) (Experiment, error) {
	f, err := l.provision(ctx, "certificate")
	if err != nil {
		return Experiment{}, err
	}
	purchase, err := l.Enrollments.InitiatePurchase(ctx, f.userID, f.courseID)
	if err != nil {
		return Experiment{}, fmt.Errorf("start chaos purchase: %w", err)
	}
	if err := l.Enrollments.ProcessCallback(ctx, purchase.Enrollment.OrderID, string(enrollment.StatusSuccess)); err != nil {
		return Experiment{}, fmt.Errorf("pay chaos purchase: %w", err)
	}
	enrollmentID := purchase.Enrollment.ID

	var (
		mu    sync.Mutex
		codes = map[string]struct{}{}
	)
	distinct := func(context.Context) (float64, error) {
		mu.Lock()
		defer mu.Unlock()
		return float64(len(codes)), nil
	}
	verified := func(ctx context.Context) (float64, error) {
		e, err := l.Enrollments.GetEnrollment(ctx, enrollmentID)
		if err != nil {
			return 0, err
		}
		if e.CertificateNumber == nil {
			return 0, nil
		}
		if l.Enrollments.VerifyCertificate(ctx, *e.CertificateNumber) == enrollment.VerifySuccess {
			return 1, nil
		}
		return 0, nil
	}

	return Experiment{
		Name:       "concurrent-certificate-issuance",
		Hypothesis: "Concurrent issuance for one enrollment converges on a single verifiable code",
		SteadyState: []Probe{
			{Name: "distinct_codes", Read: distinct, Tolerance: Tolerance{Op: "<=", Value: 1}},
			{Name: "certificate_verifies", Read: verified, Tolerance: Tolerance{Op: ">=", Value: 0}},
		},
		Method: []Action{{
			Kind:   "concurrent-requests",
			Target: "certificate-issuer",
			Execute: func(ctx context.Context) error {
				return fanOut(ctx, l.concurrency(), func(ctx context.Context, _ int) error {
					code, err := l.Enrollments.IssueCertificate(ctx, enrollmentID)
					if err != nil {
						return err
					}
					mu.Lock()
					codes[code] = struct{}{}
					mu.Unlock()
					return nil
				})
			},
		}},
		Validation: []Assertion{
			{
				Probe:   "distinct_codes",
				Holds:   func(v float64) bool { return v == 1 },
				Message: "all issuers should observe the same certificate number",
			},
			{
				Probe:   "certificate_verifies",
				Holds:   func(v float64) bool { return v == 1 },
				Message: "the issued certificate should verify",
			},
		},
		Duration: l.observeFor(),
	}, nil
}
