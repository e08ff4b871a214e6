package membership

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"coursemarket/internal/eventstore"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const aggregateType = "member"

// Limits configures per-email throttling of register and login attempts.
type Limits struct {
	PerMinute int
	Burst     int
}

// service implements the Service interface.
type service struct {
	repo     Repository
	tokens   *TokenManager
	events   eventstore.Recorder
	limiters *limiterSet
	tracer   trace.Tracer
}

// NewService creates a new membership service instance.
func NewService(repo Repository, tokens *TokenManager, events eventstore.Recorder, limits Limits) Service {
	if events == nil {
		events = eventstore.Discard
	}
	return &service{
		repo:     repo,
		tokens:   tokens,
		events:   events,
		limiters: newLimiterSet(limits),
		tracer:   otel.Tracer("coursemarket/membership"),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a new member.
func (s *service) Register(ctx context.Context, email, password string) (*Member, error) {
	ctx, span := s.tracer.Start(ctx, "membership.register")
	defer span.End()

	email = normalizeEmail(email)
	if !s.limiters.allow("register:" + email) {
		return nil, ErrRateLimited
	}
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}

	passwordHash, salt, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	member := &Member{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		Salt:         salt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, member); err != nil {
		return nil, err
	}

	if err := s.events.Record(ctx, member.ID, aggregateType, "MemberRegistered", MemberRegisteredEvent{ID: member.ID, Email: email}); err != nil {
		log.Printf("record MemberRegistered for %s: %v", member.ID, err)
	}
	return member, nil
}

// Authenticate verifies a member's credentials and returns a bearer token.
func (s *service) Authenticate(ctx context.Context, email, password string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "membership.authenticate")
	defer span.End()

	email = normalizeEmail(email)
	if email == "" || password == "" {
		return "", ErrMissingCredentials
	}
	if !s.limiters.allow("auth:" + email) {
		return "", ErrRateLimited
	}

	member, err := s.repo.GetByEmail(ctx, email)
	if errors.Is(err, ErrMemberNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("authentication failed: %w", err)
	}

	ok, err := verifyPassword(password, member.Salt, member.PasswordHash)
	if err != nil {
		return "", fmt.Errorf("authentication failed: %w", err)
	}
	if !ok {
		return "", ErrInvalidCredentials
	}

	return s.tokens.Generate(member)
}

// GetMember retrieves a member by their ID.
func (s *service) GetMember(ctx context.Context, id uuid.UUID) (*Member, error) {
	return s.repo.Get(ctx, id)
}

// Promote grants admin rights. Tokens issued before promotion keep their
// original claims until they expire.
func (s *service) Promote(ctx context.Context, email string) (*Member, error) {
	member, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if member.Admin {
		return member, nil
	}
	if err := s.repo.SetAdmin(ctx, member.ID, true); err != nil {
		return nil, fmt.Errorf("failed to promote member: %w", err)
	}
	member.Admin = true

	if err := s.events.Record(ctx, member.ID, aggregateType, "MemberPromoted", MemberPromotedEvent{ID: member.ID}); err != nil {
		log.Printf("record MemberPromoted for %s: %v", member.ID, err)
	}
	return member, nil
}

// limiterSet keeps one token bucket per key. A bucket idle long enough to
// refill completely behaves like a new one, so such entries are swept when
// new keys arrive.
type limiterSet struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idle      time.Duration
	entries   map[string]*limiterEntry
	lastSweep time.Time
	now       func() time.Time
}

type limiterEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

func newLimiterSet(l Limits) *limiterSet {
	set := &limiterSet{limit: rate.Inf, entries: make(map[string]*limiterEntry), now: time.Now}
	if l.PerMinute > 0 {
		interval := time.Minute / time.Duration(l.PerMinute)
		set.limit = rate.Every(interval)
		set.burst = l.Burst
		if set.burst <= 0 {
			set.burst = l.PerMinute
		}
		set.idle = time.Duration(set.burst) * interval
	}
	return set
}

func (s *limiterSet) allow(key string) bool {
	if s.limit == rate.Inf {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok {
		s.sweep(now)
		e = &limiterEntry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.entries[key] = e
	}
	e.seen = now
	return e.limiter.AllowN(now, 1)
}

// sweep drops buckets untouched for longer than a full refill. Callers hold mu.
func (s *limiterSet) sweep(now time.Time) {
	if now.Sub(s.lastSweep) < s.idle {
		return
	}
	s.lastSweep = now
	for key, e := range s.entries {
		if now.Sub(e.seen) >= s.idle {
			delete(s.entries, key)
		}
	}
}
