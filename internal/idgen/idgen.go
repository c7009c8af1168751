package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// ID prefixes for different records
const (
	PrefixCycle = "cyc_"
)

// NewCycle generates a new refresh cycle ID with cyc_ prefix
func NewCycle() string {
	return PrefixCycle + uuid.New().String()
}

// DeviceID derives a stable device identifier from the account username.
// The provider ties mobile sessions to the device id, so it must not change
// between restarts.
func DeviceID(username string) string {
	seed := strings.ToLower(strings.TrimSpace(username))
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("engiero:"+seed)).String()
}

// New generates a generic UUID without prefix (for internal use only)
func New() string {
	return uuid.New().String()
}
