package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/diagnosis/community-hub/pkg/access"
	validation "github.com/go-ozzo/ozzo-validation"
)

type Member struct {
	ID          string       `json:"id"`
	Email       string       `json:"email"`
	FirstName   string       `json:"firstName"`
	LastName    string       `json:"lastName"`
	Phone       *string      `json:"phone"`
	WhatsApp    *string      `json:"whatsapp"`
	IsActive    bool         `json:"isActive"`
	Memberships []Membership `json:"communities"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Community struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Slug         string        `json:"slug"`
	Organization *Organization `json:"organization"`
}

type Membership struct {
	ID          string                  `json:"id"`
	MemberID    string                  `json:"memberId"`
	CommunityID string                  `json:"communityId"`
	Community   *Community              `json:"community,omitempty"`
	Role        access.Role             `json:"role"`
	IsPrimary   bool                    `json:"isPrimary"`
	Status      access.MembershipStatus `json:"status"`
	JoinedAt    time.Time               `json:"joinedAt"`
}

// Grants lets a member be used directly with the access resolver.
func (m *Member) Grants() []access.Grant {
	if m == nil {
		return nil
	}
	grants := make([]access.Grant, 0, len(m.Memberships))
	for _, ms := range m.Memberships {
		grants = append(grants, access.Grant{CommunityID: ms.CommunityID, Role: ms.Role})
	}
	return grants
}

// PrimaryMembership returns the membership flagged primary, or nil.
func (m *Member) PrimaryMembership() *Membership {
	for i := range m.Memberships {
		if m.Memberships[i].IsPrimary {
			return &m.Memberships[i]
		}
	}
	return nil
}

// MembershipByID returns the member's membership with the given id, or nil.
func (m *Member) MembershipByID(id string) *Membership {
	for i := range m.Memberships {
		if m.Memberships[i].ID == id {
			return &m.Memberships[i]
		}
	}
	return nil
}

type MagicLinkRequest struct {
	Email string `json:"email"`
}

type VerifyRequest struct {
	Token string `json:"token"`
}

type UpdateProfileRequest struct {
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	WhatsApp  *string `json:"whatsapp,omitempty"`
}

type SetPrimaryMembershipRequest struct {
	MembershipID string `json:"membershipId"`
}

// UpdateMembershipRequest is an admin change to one membership. Nil fields are
// left untouched.
type UpdateMembershipRequest struct {
	Status *access.MembershipStatus `json:"status,omitempty"`
	Role   *access.Role             `json:"role,omitempty"`
}

func (r *MagicLinkRequest) Normalize() {
	r.Email = NormalizeEmail(r.Email)
}

func (r *MagicLinkRequest) Validate() error {
	return check(r.Email,
		validation.Required.Error("email is required"),
		validation.Match(emailRegex).Error("invalid email format"),
	)
}

func (r *VerifyRequest) Validate() error {
	return check(strings.TrimSpace(r.Token), validation.Required.Error("token is required"))
}

func (r *UpdateProfileRequest) Normalize() {
	trim := func(p *string) {
		if p != nil {
			*p = strings.TrimSpace(*p)
		}
	}
	trim(r.FirstName)
	trim(r.LastName)
	if r.Phone != nil {
		*r.Phone = NormalizePhone(*r.Phone)
	}
	if r.WhatsApp != nil {
		*r.WhatsApp = NormalizePhone(*r.WhatsApp)
	}
}

// Validate runs after Normalize. An empty phone or whatsapp clears the field,
// so only non-empty values are format-checked.
func (r *UpdateProfileRequest) Validate() error {
	if r.FirstName == nil && r.LastName == nil && r.Phone == nil && r.WhatsApp == nil {
		return Invalid("at least one field is required")
	}
	if err := check(r.FirstName, validation.Length(0, 100).Error("firstName must be at most 100 characters")); err != nil {
		return err
	}
	if err := check(r.LastName, validation.Length(0, 100).Error("lastName must be at most 100 characters")); err != nil {
		return err
	}
	if err := check(r.Phone, validation.Match(phoneRegex).Error("invalid phone format")); err != nil {
		return err
	}
	return check(r.WhatsApp, validation.Match(phoneRegex).Error("invalid whatsapp format"))
}

// Validate also canonicalizes Status, so "paused" becomes PAUSED before any
// transition check.
func (r *UpdateMembershipRequest) Validate() error {
	if r.Status == nil && r.Role == nil {
		return Invalid("status or role is required")
	}
	if r.Status != nil {
		st, err := access.ParseMembershipStatus(string(*r.Status))
		if err != nil {
			return Invalid("invalid status")
		}
		*r.Status = st
	}
	return nil
}

// check runs ozzo rules against one value and reports the first failure as a
// ValidationError carrying the rule's message.
func check(value any, rules ...validation.Rule) error {
	if err := validation.Validate(value, rules...); err != nil {
		return Invalid("%s", err.Error())
	}
	return nil
}

var (
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phoneRegex = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
)

// NormalizeEmail normalizes email addresses (lowercase and trim)
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func IsValidEmail(email string) bool {
	return emailRegex.MatchString(email)
}

// NormalizePhone keeps a leading + and digits only.
func NormalizePhone(phone string) string {
	cleaned := strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range cleaned {
		if (i == 0 && r == '+') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func IsValidPhone(phone string) bool {
	return phoneRegex.MatchString(phone)
}
