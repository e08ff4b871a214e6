package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"coursemarket/internal/membership"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// MemberRepository implements membership.Repository.
type MemberRepository struct {
	db *sqlx.DB
}

var _ membership.Repository = (*MemberRepository)(nil)

func NewMemberRepository(db *sqlx.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

const memberColumns = `id, email, password_hash, salt, admin, created_at, updated_at`

func (r *MemberRepository) Create(ctx context.Context, m *membership.Member) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO members (`+memberColumns+`)
		VALUES (:id, :email, :password_hash, :salt, :admin, :created_at, :updated_at)
	`, m)
	if _, ok := constraintViolation(err, uniqueViolation); ok {
		return membership.ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

func (r *MemberRepository) Get(ctx context.Context, id uuid.UUID) (*membership.Member, error) {
	return r.get(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1`, id)
}

func (r *MemberRepository) GetByEmail(ctx context.Context, email string) (*membership.Member, error) {
	return r.get(ctx, `SELECT `+memberColumns+` FROM members WHERE email = $1`, email)
}

func (r *MemberRepository) get(ctx context.Context, query string, arg interface{}) (*membership.Member, error) {
	var m membership.Member
	err := r.db.GetContext(ctx, &m, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, membership.ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return &m, nil
}

func (r *MemberRepository) SetAdmin(ctx context.Context, id uuid.UUID, admin bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE members SET admin = $2, updated_at = NOW() WHERE id = $1`, id, admin)
	if err != nil {
		return fmt.Errorf("set admin: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return membership.ErrMemberNotFound
	}
	return nil
}
