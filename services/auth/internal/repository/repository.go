package repository

import (
	"context"
	"time"

	"github.com/diagnosis/community-hub/pkg/access"
	"github.com/diagnosis/community-hub/services/auth/internal/domain"
)

const queryTimeout = 3 * time.Second

type MemberRepository interface {
	// FindOrCreateByEmail returns the member for email, inserting an active
	// member with empty names when none exists. created reports the insert.
	FindOrCreateByEmail(ctx context.Context, email string) (member *domain.Member, created bool, err error)
	// FindByID loads the member with memberships, communities and organizations.
	FindByID(ctx context.Context, id string) (*domain.Member, error)
	UpdateProfile(ctx context.Context, id string, req *domain.UpdateProfileRequest) error
	List(ctx context.Context, limit, offset int) ([]domain.Member, error)

	CommunityExists(ctx context.Context, communityID string) (bool, error)
	JoinCommunity(ctx context.Context, memberID, communityID string) (*domain.Membership, error)
	GetMembership(ctx context.Context, membershipID string) (*domain.Membership, error)
	// SetPrimaryMembership flags membershipID primary and clears every other
	// primary flag of the member in one transaction.
	SetPrimaryMembership(ctx context.Context, memberID, membershipID string) error
	// ListByCommunity returns the community's members, each carrying only the
	// membership for that community.
	ListByCommunity(ctx context.Context, communityID string) ([]domain.Member, error)
	UpdateMembership(ctx context.Context, membershipID string, status *access.MembershipStatus, role *access.Role) (*domain.Membership, error)
}

type TokenRepository interface {
	Create(ctx context.Context, token *domain.MagicLinkToken) error
	// Claim consumes a live token and returns its member id. It fails with
	// domain.ErrTokenNotFound when the token is unknown, consumed or expired;
	// of any number of concurrent claims at most one succeeds.
	Claim(ctx context.Context, token string) (memberID string, err error)
	DeleteExpired(ctx context.Context) (int64, error)
}

type RateLimitRepository interface {
	// Allow counts one hit against key and reports whether the count is still
	// within limit for the current window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
