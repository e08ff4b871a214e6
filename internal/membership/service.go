package membership

import (
	"context"

	"coursemarket/internal/apperr"

	"github.com/google/uuid"
)

var (
	ErrMemberNotFound = apperr.NotFound("member_not_found", "member not found")
	// ErrEmailTaken is returned by Repository.Create for a duplicate email.
	ErrEmailTaken         = apperr.Invalid("email", "user with this email already exists.")
	ErrInvalidCredentials = apperr.Invalid("email", "Invalid credentials")
	ErrMissingCredentials = apperr.Invalid("email", "Invalid data")
	ErrForbidden          = apperr.Unauthorized("forbidden", "Forbidden for you")
	ErrRateLimited        = apperr.RateLimited("rate_limited", "rate limit exceeded")
)

// Service defines the interface for the membership service.
type Service interface {
	Register(ctx context.Context, email, password string) (*Member, error)
	// Authenticate checks credentials and returns a signed bearer token.
	Authenticate(ctx context.Context, email, password string) (string, error)
	GetMember(ctx context.Context, id uuid.UUID) (*Member, error)
	Promote(ctx context.Context, email string) (*Member, error)
}

// Repository persists members.
type Repository interface {
	Create(ctx context.Context, m *Member) error
	Get(ctx context.Context, id uuid.UUID) (*Member, error)
	GetByEmail(ctx context.Context, email string) (*Member, error)
	SetAdmin(ctx context.Context, id uuid.UUID, admin bool) error
}
