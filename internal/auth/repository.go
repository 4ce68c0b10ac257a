package auth

import (
	"context"

	"github.com/daap14/huddle/internal/team"
)

// CredentialFinder looks up stored participant credentials.
type CredentialFinder interface {
	FindByTokenPrefix(ctx context.Context, prefix string) ([]team.Credential, error)
}
