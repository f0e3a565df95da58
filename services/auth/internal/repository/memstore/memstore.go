// Package memstore keeps members, communities and magic-link tokens in
// process memory. It backs STORE=memory and the service and handler tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/diagnosis/community-hub/pkg/access"
	"github.com/diagnosis/community-hub/services/auth/internal/domain"
	"github.com/diagnosis/community-hub/services/auth/internal/repository"
	"github.com/google/uuid"
)

var (
	_ repository.MemberRepository    = (*Store)(nil)
	_ repository.TokenRepository     = (*Store)(nil)
	_ repository.RateLimitRepository = (*Store)(nil)
)

type window struct {
	count int
	reset time.Time
}

type Store struct {
	mu          sync.Mutex
	now         func() time.Time
	members     map[string]*domain.Member
	byEmail     map[string]string
	communities map[string]domain.Community
	memberships map[string]*domain.Membership
	tokens      map[string]*domain.MagicLinkToken
	limits      map[string]*window
}

func New() *Store {
	return &Store{
		now:         time.Now,
		members:     make(map[string]*domain.Member),
		byEmail:     make(map[string]string),
		communities: make(map[string]domain.Community),
		memberships: make(map[string]*domain.Membership),
		tokens:      make(map[string]*domain.MagicLinkToken),
		limits:      make(map[string]*window),
	}
}

// WithClock replaces the clock used for expiry and timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// AddCommunity registers a community members can join.
func (s *Store) AddCommunity(c domain.Community) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.communities[c.ID] = c
}

// Token returns a copy of the stored token row.
func (s *Store) Token(token string) (domain.MagicLinkToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok {
		return domain.MagicLinkToken{}, false
	}
	return *t, true
}

func (s *Store) FindOrCreateByEmail(_ context.Context, email string) (*domain.Member, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byEmail[email]; ok {
		return s.memberLocked(id, false), false, nil
	}
	now := s.now()
	m := &domain.Member{
		ID:        uuid.NewString(),
		Email:     email,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.members[m.ID] = m
	s.byEmail[email] = m.ID
	return s.memberLocked(m.ID, false), true, nil
}

func (s *Store) FindByID(_ context.Context, id string) (*domain.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[id]; !ok {
		return nil, domain.ErrNotFound
	}
	return s.memberLocked(id, true), nil
}

// memberLocked returns a detached copy of the member, optionally with its
// memberships ordered primary first then by join date.
func (s *Store) memberLocked(id string, withMemberships bool) *domain.Member {
	m := *s.members[id]
	m.Memberships = nil
	if !withMemberships {
		return &m
	}
	m.Memberships = []domain.Membership{}
	for _, ms := range s.memberships {
		if ms.MemberID == id {
			m.Memberships = append(m.Memberships, s.membershipLocked(ms))
		}
	}
	sort.Slice(m.Memberships, func(i, j int) bool {
		a, b := m.Memberships[i], m.Memberships[j]
		if a.IsPrimary != b.IsPrimary {
			return a.IsPrimary
		}
		return a.JoinedAt.Before(b.JoinedAt)
	})
	return &m
}

func (s *Store) membershipLocked(ms *domain.Membership) domain.Membership {
	out := *ms
	if c, ok := s.communities[ms.CommunityID]; ok {
		out.Community = &c
	}
	return out
}

func (s *Store) UpdateProfile(_ context.Context, id string, req *domain.UpdateProfileRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[id]
	if !ok {
		return domain.ErrNotFound
	}
	if req.FirstName != nil {
		m.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		m.LastName = *req.LastName
	}
	if req.Phone != nil {
		m.Phone = nullIfEmpty(*req.Phone)
	}
	if req.WhatsApp != nil {
		m.WhatsApp = nullIfEmpty(*req.WhatsApp)
	}
	m.UpdatedAt = s.now()
	return nil
}

func nullIfEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func (s *Store) List(_ context.Context, limit, offset int) ([]domain.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]domain.Member, 0, len(s.members))
	for id := range s.members {
		all = append(all, *s.memberLocked(id, false))
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	if offset >= len(all) {
		return []domain.Member{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (s *Store) CommunityExists(_ context.Context, communityID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.communities[communityID]
	return ok, nil
}

func (s *Store) JoinCommunity(_ context.Context, memberID, communityID string) (*domain.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[memberID]; !ok {
		return nil, domain.ErrNotFound
	}
	if _, ok := s.communities[communityID]; !ok {
		return nil, domain.ErrNotFound
	}
	hasPrimary := false
	for _, ms := range s.memberships {
		if ms.MemberID != memberID {
			continue
		}
		if ms.CommunityID == communityID {
			return nil, fmt.Errorf("%w: already a member of this community", domain.ErrConflict)
		}
		hasPrimary = hasPrimary || ms.IsPrimary
	}
	ms := &domain.Membership{
		ID:          uuid.NewString(),
		MemberID:    memberID,
		CommunityID: communityID,
		Role:        access.RoleUser,
		IsPrimary:   !hasPrimary,
		Status:      access.StatusActive,
		JoinedAt:    s.now(),
	}
	s.memberships[ms.ID] = ms
	out := s.membershipLocked(ms)
	return &out, nil
}

func (s *Store) GetMembership(_ context.Context, membershipID string) (*domain.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.memberships[membershipID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := s.membershipLocked(ms)
	return &out, nil
}

func (s *Store) SetPrimaryMembership(_ context.Context, memberID, membershipID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.memberships[membershipID]
	if !ok || target.MemberID != memberID {
		return domain.ErrNotFound
	}
	for _, ms := range s.memberships {
		if ms.MemberID == memberID {
			ms.IsPrimary = ms.ID == membershipID
		}
	}
	return nil
}

func (s *Store) ListByCommunity(_ context.Context, communityID string) ([]domain.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := []domain.Member{}
	for _, ms := range s.memberships {
		if ms.CommunityID != communityID {
			continue
		}
		m := s.memberLocked(ms.MemberID, false)
		m.Memberships = []domain.Membership{s.membershipLocked(ms)}
		members = append(members, *m)
	}
	sort.Slice(members, func(i, j int) bool {
		a, b := members[i].Memberships[0], members[j].Memberships[0]
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return strings.Compare(members[i].Email, members[j].Email) < 0
	})
	return members, nil
}

func (s *Store) UpdateMembership(_ context.Context, membershipID string, status *access.MembershipStatus, role *access.Role) (*domain.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.memberships[membershipID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if status != nil {
		ms.Status = *status
	}
	if role != nil {
		ms.Role = *role
	}
	out := s.membershipLocked(ms)
	return &out, nil
}

func (s *Store) Create(_ context.Context, t *domain.MagicLinkToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[t.Token]; ok {
		return fmt.Errorf("%w: token already stored", domain.ErrConflict)
	}
	row := *t
	row.ConsumedAt = nil
	row.CreatedAt = s.now()
	s.tokens[t.Token] = &row
	return nil
}

func (s *Store) Claim(_ context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[token]
	now := s.now()
	if !ok || !t.IsLive(now) {
		return "", domain.ErrTokenNotFound
	}
	t.ConsumedAt = &now
	return t.MemberID, nil
}

func (s *Store) DeleteExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-24 * time.Hour)
	var n int64
	for k, t := range s.tokens {
		if (t.ConsumedAt != nil && t.ConsumedAt.Before(cutoff)) || (t.ConsumedAt == nil && t.ExpiresAt.Before(cutoff)) {
			delete(s.tokens, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) Allow(_ context.Context, key string, limit int, win time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.limits[key]
	if !ok || !now.Before(w.reset) {
		w = &window{reset: now.Add(win)}
		s.limits[key] = w
	}
	w.count++
	return w.count <= limit, nil
}
