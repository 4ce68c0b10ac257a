package auth

import (
	"github.com/google/uuid"
)

// Credential is a freshly issued participant token. Raw is shown to the
// participant once; only Prefix and Hash are stored.
type Credential struct {
	Raw    string
	Prefix string
	Hash   string
}

// Identity is stored in the request context after authentication.
type Identity struct {
	MemberID uuid.UUID
	TeamID   uuid.UUID
	Name     string
	IsLeader bool
}
