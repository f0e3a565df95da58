package service

import (
	"context"
	"fmt"
	"time"

	"github.com/diagnosis/community-hub/pkg/access"
	"github.com/diagnosis/community-hub/pkg/events"
	"github.com/diagnosis/community-hub/pkg/logger"
	"github.com/diagnosis/community-hub/pkg/metrics"
	"github.com/diagnosis/community-hub/services/auth/internal/domain"
	"github.com/diagnosis/community-hub/services/auth/internal/repository"
)

type MemberService interface {
	GetMember(ctx context.Context, id string) (*domain.Member, error)
	UpdateProfile(ctx context.Context, id string, req *domain.UpdateProfileRequest) (*domain.Member, error)
	JoinCommunity(ctx context.Context, memberID, communityID string) (*domain.Membership, error)
	SetPrimaryMembership(ctx context.Context, memberID, membershipID string) (*domain.Member, error)

	// ListCommunityMembers requires MANAGE_MEMBERS in communityID itself.
	ListCommunityMembers(ctx context.Context, actor *domain.Member, communityID string) ([]domain.Member, error)
	// UpdateMembership changes status and/or role of one membership in
	// communityID. Granting or revoking SUPER_ADMIN needs SUPER_ADMIN_ACCESS.
	UpdateMembership(ctx context.Context, actor *domain.Member, communityID, membershipID string, req *domain.UpdateMembershipRequest) (*domain.Membership, error)
	ListMembers(ctx context.Context, actor *domain.Member, limit, offset int) ([]domain.Member, error)
}

type memberService struct {
	members   repository.MemberRepository
	publisher events.Publisher
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewMemberService(members repository.MemberRepository, publisher events.Publisher, m *metrics.Metrics) MemberService {
	return &memberService{members: members, publisher: publisher, metrics: m, now: time.Now}
}

func (s *memberService) GetMember(ctx context.Context, id string) (*domain.Member, error) {
	return s.members.FindByID(ctx, id)
}

func (s *memberService) UpdateProfile(ctx context.Context, id string, req *domain.UpdateProfileRequest) (*domain.Member, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.members.UpdateProfile(ctx, id, req); err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return s.members.FindByID(ctx, id)
}

func (s *memberService) JoinCommunity(ctx context.Context, memberID, communityID string) (*domain.Membership, error) {
	if communityID == "" {
		return nil, domain.Invalid("communityId is required")
	}
	exists, err := s.members.CommunityExists(ctx, communityID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up community: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("community %s: %w", communityID, domain.ErrNotFound)
	}

	ms, err := s.members.JoinCommunity(ctx, memberID, communityID)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "Member joined community", "member_id", memberID, "community_id", communityID, "primary", ms.IsPrimary)
	s.publishMembership(ctx, ms, memberID)
	return ms, nil
}

func (s *memberService) SetPrimaryMembership(ctx context.Context, memberID, membershipID string) (*domain.Member, error) {
	if membershipID == "" {
		return nil, domain.Invalid("membershipId is required")
	}
	if err := s.members.SetPrimaryMembership(ctx, memberID, membershipID); err != nil {
		return nil, err
	}
	return s.members.FindByID(ctx, memberID)
}

// canManage is the community-scoped check. Super admins manage every
// community.
func canManage(actor *domain.Member, communityID string) bool {
	return access.HasCommunityPermission(actor, communityID, access.ManageMembers) ||
		access.HasPermission(actor, access.SuperAdminAccess)
}

func (s *memberService) ListCommunityMembers(ctx context.Context, actor *domain.Member, communityID string) ([]domain.Member, error) {
	if !canManage(actor, communityID) {
		return nil, domain.ErrForbidden
	}
	exists, err := s.members.CommunityExists(ctx, communityID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up community: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("community %s: %w", communityID, domain.ErrNotFound)
	}
	return s.members.ListByCommunity(ctx, communityID)
}

func (s *memberService) UpdateMembership(ctx context.Context, actor *domain.Member, communityID, membershipID string, req *domain.UpdateMembershipRequest) (*domain.Membership, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !canManage(actor, communityID) {
		return nil, domain.ErrForbidden
	}

	current, err := s.members.GetMembership(ctx, membershipID)
	if err != nil {
		return nil, err
	}
	if current.CommunityID != communityID {
		return nil, domain.ErrNotFound
	}

	if req.Role != nil && (*req.Role == access.RoleSuperAdmin || current.Role == access.RoleSuperAdmin) &&
		*req.Role != current.Role && !access.HasPermission(actor, access.SuperAdminAccess) {
		return nil, fmt.Errorf("%w: only super admins can grant or revoke SUPER_ADMIN", domain.ErrForbidden)
	}
	if req.Status != nil && !access.CanTransition(current.Status, *req.Status) {
		return nil, domain.Invalid("cannot change status from %s to %s", current.Status, *req.Status)
	}

	updated, err := s.members.UpdateMembership(ctx, membershipID, req.Status, req.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to update membership: %w", err)
	}
	logger.InfoContext(ctx, "Membership updated",
		"membership_id", membershipID,
		"community_id", communityID,
		"status", updated.Status,
		"role", updated.Role.String(),
		"updated_by", actor.ID,
	)
	s.publishMembership(ctx, updated, actor.ID)
	return updated, nil
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (s *memberService) ListMembers(ctx context.Context, actor *domain.Member, limit, offset int) ([]domain.Member, error) {
	if !access.CanAccessSuperAdminRoute(actor) {
		return nil, domain.ErrForbidden
	}
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.members.List(ctx, limit, offset)
}

func (s *memberService) publishMembership(ctx context.Context, ms *domain.Membership, updatedBy string) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.Publish(ctx, events.MembershipUpdated, events.MembershipUpdatedEvent{
		MembershipID: ms.ID,
		MemberID:     ms.MemberID,
		CommunityID:  ms.CommunityID,
		Status:       string(ms.Status),
		Role:         ms.Role.String(),
		UpdatedBy:    updatedBy,
		UpdatedAt:    s.now(),
	})
	s.metrics.EventPublished(events.MembershipUpdated, err)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to publish event", "subject", events.MembershipUpdated, "error", err)
	}
}
