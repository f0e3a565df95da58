package domain

import "time"

// MagicLinkToken is the stored half of a magic link. Token holds the signed
// JWT exactly as handed to the member.
type MagicLinkToken struct {
	Token      string     `json:"-"`
	MemberID   string     `json:"memberId"`
	Purpose    string     `json:"purpose"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	ConsumedAt *time.Time `json:"consumedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func (t *MagicLinkToken) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

func (t *MagicLinkToken) IsConsumed() bool {
	return t.ConsumedAt != nil
}

// IsLive mirrors the claim condition: unconsumed and not yet expired.
func (t *MagicLinkToken) IsLive(now time.Time) bool {
	return !t.IsConsumed() && !t.IsExpired(now)
}

type MagicLinkResult struct {
	Email     string
	Token     string
	ExpiresAt time.Time
	Created   bool
}

type VerifyResult struct {
	Member           *Member
	SessionToken     string
	SessionExpiresAt time.Time
}
