package chat

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
)

// GuestPrefix marks a transient, display-only identity.
const GuestPrefix = "guest_"

// Identity is a normalized caller.
type Identity struct {
	// Label is returned to the client: the registered id as given, or
	// a freshly minted guest id.
	Label string

	// UserID is the registered user id, or 0 for guests.
	UserID int64
}

// Guest reports whether the identity is a guest.
func (id Identity) Guest() bool {
	return id.UserID == 0
}

// NewGuestID mints "guest_" followed by six random digits. Ids are not
// guaranteed unique.
func NewGuestID() string {
	return fmt.Sprintf("%s%d", GuestPrefix, 100000+rand.IntN(900000))
}

// NormalizeIdentity classifies raw. Empty or guest-prefixed values
// become a new guest identity minted by newGuest; anything else must
// be a positive integer user id.
func NormalizeIdentity(raw string, newGuest func() string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" || strings.HasPrefix(raw, GuestPrefix) {
		return Identity{Label: newGuest()}, nil
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return Identity{}, fmt.Errorf("user id %q is not a positive integer", raw)
	}
	return Identity{Label: raw, UserID: id}, nil
}
