// Package identity normalizes chat-network user identities so they can be
// compared across the heterogeneous representations the gateway returns
// (int64 peer IDs, int32-truncated legacy IDs, decimal strings, usernames
// with or without a leading @).
package identity

import (
	"strconv"
	"strings"
)

// ID is a canonical numeric user identity. Zero means unknown.
type ID int64

// Canonical converts any numeric representation to a canonical ID.
// Legacy 32-bit IDs arrive sign-extended when the network migrated to wide
// IDs; masking the high bits folds both forms onto the same value.
func Canonical(raw int64) ID {
	if raw < 0 && raw >= -1<<31 {
		return ID(raw & 0xFFFFFFFF)
	}
	return ID(raw)
}

// Parse converts a decimal string to a canonical ID. Returns 0 on failure.
func Parse(s string) ID {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return Canonical(n)
}

// Same reports whether two raw numeric identities refer to the same user.
func Same(a, b int64) bool {
	return Canonical(a) != 0 && Canonical(a) == Canonical(b)
}

func (id ID) String() string { return strconv.FormatInt(int64(id), 10) }

// NormalizeUsername lowercases a username and strips a leading @.
func NormalizeUsername(u string) string {
	u = strings.TrimSpace(u)
	u = strings.TrimPrefix(u, "@")
	return strings.ToLower(u)
}

// SameUsername compares two usernames after normalization.
// Empty usernames never match anything.
func SameUsername(a, b string) bool {
	na, nb := NormalizeUsername(a), NormalizeUsername(b)
	return na != "" && na == nb
}
