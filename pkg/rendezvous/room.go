// Package rendezvous pairs waiting clients through the shared store: the
// waiting pool, the invite fast path and the deterministic room and role rules.
package rendezvous

import (
	"strings"

	"github.com/LingByte/LingMeet/pkg/constants"
)

// Role is a side of a negotiated connection.
type Role string

const (
	RoleOfferer  Role = "offerer"
	RoleAnswerer Role = "answerer"
)

// RoomKey is the same for (a, b) and (b, a).
func RoomKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + constants.RoomSeparator + b
}

// IsOfferer reports whether self offers to partner. The greater handle offers.
func IsOfferer(self, partner string) bool {
	return self > partner
}

func RoleOf(self, partner string) Role {
	if IsOfferer(self, partner) {
		return RoleOfferer
	}
	return RoleAnswerer
}

// InviteRoom is the room invites addressed to handle are written to.
func InviteRoom(handle string) string {
	return constants.InviteRoomPrefix + handle
}

// IsInviteRoom distinguishes invite rooms from pairing rooms.
func IsInviteRoom(room string) bool {
	return strings.HasPrefix(room, constants.InviteRoomPrefix)
}
