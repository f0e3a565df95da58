package access

import (
	"fmt"
	"strings"
)

// MembershipStatus is the lifecycle state of a community membership.
type MembershipStatus string

const (
	StatusActive          MembershipStatus = "ACTIVE"
	StatusLapsed          MembershipStatus = "LAPSED"
	StatusPaused          MembershipStatus = "PAUSED"
	StatusTransferPending MembershipStatus = "TRANSFER_PENDING"
)

func ParseMembershipStatus(s string) (MembershipStatus, error) {
	switch st := MembershipStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusActive, StatusLapsed, StatusPaused, StatusTransferPending:
		return st, nil
	default:
		return "", fmt.Errorf("unknown membership status %q", s)
	}
}

// CanTransition reports whether an admin may move a membership from one
// status to another. ACTIVE may move to any other status; every other status
// may only return to ACTIVE. Staying put is always allowed.
func CanTransition(from, to MembershipStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusActive:
		return to == StatusLapsed || to == StatusPaused || to == StatusTransferPending
	case StatusLapsed, StatusPaused, StatusTransferPending:
		return to == StatusActive
	default:
		return false
	}
}
