package membership

import (
	"time"

	"github.com/google/uuid"
)

// Member is a registered user of the marketplace.
type Member struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Salt         string    `json:"-" db:"salt"`
	// Admin grants access to catalog management and operator endpoints.
	Admin     bool      `json:"admin" db:"admin"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Principal is the authenticated caller of a request.
type Principal struct {
	MemberID uuid.UUID
	Admin    bool
}

// MemberRegisteredEvent is published when a new member registers.
type MemberRegisteredEvent struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}

// MemberPromotedEvent is published when a member is granted admin rights.
type MemberPromotedEvent struct {
	ID uuid.UUID `json:"id"`
}
