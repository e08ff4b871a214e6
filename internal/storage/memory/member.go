package memory

import (
	"context"

	"coursemarket/internal/membership"

	"github.com/google/uuid"
)

// MemberRepository implements membership.Repository.
type MemberRepository struct {
	s *Store
}

var _ membership.Repository = (*MemberRepository)(nil)

func (r *MemberRepository) Create(_ context.Context, m *membership.Member) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, taken := r.s.byEmail[m.Email]; taken {
		return membership.ErrEmailTaken
	}
	cp := *m
	r.s.members[m.ID] = &cp
	r.s.byEmail[m.Email] = m.ID
	return nil
}

func (r *MemberRepository) Get(_ context.Context, id uuid.UUID) (*membership.Member, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.members[id]
	if !ok {
		return nil, membership.ErrMemberNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *MemberRepository) GetByEmail(_ context.Context, email string) (*membership.Member, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.byEmail[email]
	if !ok {
		return nil, membership.ErrMemberNotFound
	}
	cp := *r.s.members[id]
	return &cp, nil
}

func (r *MemberRepository) SetAdmin(_ context.Context, id uuid.UUID, admin bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.members[id]
	if !ok {
		return membership.ErrMemberNotFound
	}
	m.Admin = admin
	return nil
}
