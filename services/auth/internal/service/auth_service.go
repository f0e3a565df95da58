package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diagnosis/community-hub/pkg/auth"
	"github.com/diagnosis/community-hub/pkg/config"
	"github.com/diagnosis/community-hub/pkg/events"
	"github.com/diagnosis/community-hub/pkg/logger"
	"github.com/diagnosis/community-hub/pkg/metrics"
	"github.com/diagnosis/community-hub/services/auth/internal/domain"
	"github.com/diagnosis/community-hub/services/auth/internal/repository"
	"github.com/google/go-querystring/query"
)

type AuthService interface {
	// RequestMagicLink finds or creates the member for email and issues a
	// single-use login token.
	RequestMagicLink(ctx context.Context, email string) (*domain.MagicLinkResult, error)
	// Verify consumes a magic-link token and mints a session token.
	Verify(ctx context.Context, token string) (*domain.VerifyResult, error)
}

type authService struct {
	members   repository.MemberRepository
	tokens    repository.TokenRepository
	limiter   repository.RateLimitRepository
	signer    *auth.Signer
	publisher events.Publisher
	metrics   *metrics.Metrics
	config    *config.Config
}

// NewAuthService wires the issuer and verifier. limiter, publisher and m may
// be nil: requests are then unlimited, no events are published and nothing
// is measured.
func NewAuthService(
	members repository.MemberRepository,
	tokens repository.TokenRepository,
	limiter repository.RateLimitRepository,
	signer *auth.Signer,
	publisher events.Publisher,
	m *metrics.Metrics,
	cfg *config.Config,
) AuthService {
	return &authService{
		members:   members,
		tokens:    tokens,
		limiter:   limiter,
		signer:    signer,
		publisher: publisher,
		metrics:   m,
		config:    cfg,
	}
}

func (s *authService) RequestMagicLink(ctx context.Context, email string) (*domain.MagicLinkResult, error) {
	req := domain.MagicLinkRequest{Email: email}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if s.limiter != nil && s.config.Auth.MagicLinkPerMin > 0 {
		ok, err := s.limiter.Allow(ctx, "magic-link:"+req.Email, s.config.Auth.MagicLinkPerMin, time.Minute)
		if err != nil {
			logger.WarnContext(ctx, "Rate limit check failed", "error", err)
		} else if !ok {
			return nil, domain.ErrRateLimited
		}
	}

	member, created, err := s.members.FindOrCreateByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find or create member: %w", err)
	}
	if created {
		logger.InfoContext(ctx, "Member created", "member_id", member.ID)
		s.publish(ctx, events.MemberCreated, events.MemberCreatedEvent{
			MemberID:  member.ID,
			Email:     member.Email,
			CreatedAt: member.CreatedAt,
		})
	}

	token, expiresAt, err := s.signer.NewMagicLinkToken(member.ID, member.Email, s.config.Auth.MagicLinkTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to mint magic link: %w", err)
	}

	if err := s.tokens.Create(ctx, &domain.MagicLinkToken{
		Token:     token,
		MemberID:  member.ID,
		Purpose:   auth.PurposeAuth,
		ExpiresAt: expiresAt,
	}); err != nil {
		return nil, fmt.Errorf("failed to store magic link: %w", err)
	}

	link, err := s.buildMagicLinkURL(token)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.MagicLinkRequested, events.MagicLinkRequestedEvent{
		MemberID:  member.ID,
		Email:     member.Email,
		FirstName: member.FirstName,
		Link:      link,
		ExpiresAt: expiresAt,
	})
	s.metrics.MagicLinkIssued()

	return &domain.MagicLinkResult{
		Email:     member.Email,
		Token:     token,
		ExpiresAt: expiresAt,
		Created:   created,
	}, nil
}

func (s *authService) Verify(ctx context.Context, token string) (*domain.VerifyResult, error) {
	req := domain.VerifyRequest{Token: token}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	claims, err := s.signer.ParseMagicLinkToken(token)
	if err != nil {
		s.metrics.Verification("invalid_token")
		logger.DebugContext(ctx, "Magic link rejected", "error", err)
		return nil, domain.ErrInvalidToken
	}

	memberID, err := s.tokens.Claim(ctx, token)
	if errors.Is(err, domain.ErrTokenNotFound) {
		s.metrics.Verification("already_used")
		return nil, domain.ErrTokenNotFound
	}
	if err != nil {
		s.metrics.Verification("error")
		return nil, fmt.Errorf("failed to claim magic link: %w", err)
	}
	if memberID != claims.UserID {
		s.metrics.Verification("invalid_token")
		logger.WarnContext(ctx, "Magic link owner mismatch", "member_id", memberID, "claim_user_id", claims.UserID)
		return nil, domain.ErrInvalidToken
	}

	member, err := s.members.FindByID(ctx, memberID)
	if err != nil {
		s.metrics.Verification("error")
		return nil, fmt.Errorf("failed to load member: %w", err)
	}

	session, expiresAt, err := s.signer.NewSessionToken(member.ID, member.Email, s.config.Auth.SessionTTL)
	if err != nil {
		s.metrics.Verification("error")
		return nil, fmt.Errorf("failed to mint session: %w", err)
	}

	s.metrics.Verification("success")
	logger.InfoContext(ctx, "Member signed in", "member_id", member.ID)

	return &domain.VerifyResult{
		Member:           member,
		SessionToken:     session,
		SessionExpiresAt: expiresAt,
	}, nil
}

type verifyLinkParams struct {
	Token string `url:"token"`
}

func (s *authService) buildMagicLinkURL(token string) (string, error) {
	v, err := query.Values(verifyLinkParams{Token: token})
	if err != nil {
		return "", fmt.Errorf("failed to build magic link: %w", err)
	}
	return strings.TrimRight(s.config.WebURL, "/") + "/auth/verify?" + v.Encode(), nil
}

// publish logs and counts failures; callers never see them.
func (s *authService) publish(ctx context.Context, subject string, payload any) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.Publish(ctx, subject, payload)
	s.metrics.EventPublished(subject, err)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to publish event", "subject", subject, "error", err)
	}
}
