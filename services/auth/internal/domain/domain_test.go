package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/diagnosis/community-hub/pkg/access"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

func TestMagicLinkRequest_Validate(t *testing.T) {
	tests := []struct {
		name  string
		email string
		msg   string
	}{
		{"empty", "   ", "email is required"},
		{"missing @", "testemailcom", "invalid email format"},
		{"missing tld", "a@b", "invalid email format"},
		{"ok", " A@B.com ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := MagicLinkRequest{Email: tt.email}
			req.Normalize()
			err := req.Validate()
			if tt.msg == "" {
				require.NoError(t, err)
				assert.Equal(t, "a@b.com", req.Email)
				return
			}
			require.ErrorIs(t, err, ErrValidation)
			assert.EqualError(t, err, tt.msg)
		})
	}
}

func TestUpdateProfileRequest(t *testing.T) {
	req := UpdateProfileRequest{FirstName: strp("  Ada "), Phone: strp("+1 (555) 010-9999")}
	req.Normalize()
	require.NoError(t, req.Validate())
	assert.Equal(t, "Ada", *req.FirstName)
	assert.Equal(t, "+15550109999", *req.Phone)

	empty := UpdateProfileRequest{}
	assert.ErrorIs(t, empty.Validate(), ErrValidation)

	bad := UpdateProfileRequest{WhatsApp: strp("12")}
	bad.Normalize()
	assert.EqualError(t, bad.Validate(), "invalid whatsapp format")

	clear := UpdateProfileRequest{Phone: strp("")}
	assert.NoError(t, clear.Validate())
}

func TestUpdateMembershipRequest_Validate(t *testing.T) {
	assert.ErrorIs(t, (&UpdateMembershipRequest{}).Validate(), ErrValidation)

	bogus := access.MembershipStatus("GONE")
	assert.ErrorIs(t, (&UpdateMembershipRequest{Status: &bogus}).Validate(), ErrValidation)

	paused := access.StatusPaused
	assert.NoError(t, (&UpdateMembershipRequest{Status: &paused}).Validate())

	lower := access.MembershipStatus(" paused ")
	req := &UpdateMembershipRequest{Status: &lower}
	require.NoError(t, req.Validate())
	assert.Equal(t, access.StatusPaused, *req.Status)
}

func TestUpdateProfileRequest_NameLength(t *testing.T) {
	long := UpdateProfileRequest{LastName: strp(strings.Repeat("x", 101))}
	assert.EqualError(t, long.Validate(), "lastName must be at most 100 characters")

	ok := UpdateProfileRequest{LastName: strp(strings.Repeat("x", 100))}
	assert.NoError(t, ok.Validate())
}

func TestMember_Grants(t *testing.T) {
	var nilMember *Member
	assert.Nil(t, nilMember.Grants())
	assert.False(t, access.HasPermission(nilMember, access.ViewDashboard))

	m := &Member{Memberships: []Membership{
		{ID: "m1", CommunityID: "c1", Role: access.RoleUser, IsPrimary: true},
		{ID: "m2", CommunityID: "c2", Role: access.RoleCommunityAdmin},
	}}
	assert.Equal(t, access.RoleCommunityAdmin, access.EffectiveRole(m))
	assert.Equal(t, "m1", m.PrimaryMembership().ID)
	assert.Equal(t, "c2", m.MembershipByID("m2").CommunityID)
	assert.Nil(t, m.MembershipByID("nope"))
}

func TestMagicLinkToken_Liveness(t *testing.T) {
	now := time.Now()
	tok := MagicLinkToken{ExpiresAt: now.Add(time.Minute)}
	assert.True(t, tok.IsLive(now))
	assert.False(t, tok.IsLive(now.Add(time.Minute)))

	consumed := now
	tok.ConsumedAt = &consumed
	assert.False(t, tok.IsLive(now))
}

func TestInvalid_Unwraps(t *testing.T) {
	err := Invalid("%s is required", "email")
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "email is required", err.Error())
}
