package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidToken is returned when the provided token does not match any member.
var ErrInvalidToken = errors.New("invalid participant token")

// TokenPrefix starts every participant token.
const TokenPrefix = "hdl_"

// prefixLen is the number of leading token characters stored in clear for lookup.
const prefixLen = 12

// Service issues and verifies participant tokens.
type Service struct {
	creds      CredentialFinder
	bcryptCost int
}

// NewService creates a new auth Service.
func NewService(creds CredentialFinder, bcryptCost int) *Service {
	return &Service{
		creds:      creds,
		bcryptCost: bcryptCost,
	}
}

// IssueToken creates a new participant token: 32 random bytes -> base64url ->
// prepend "hdl_". The prefix is the first 12 characters.
func (s *Service) IssueToken() (Credential, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return Credential{}, fmt.Errorf("generating random bytes: %w", err)
	}

	raw := TokenPrefix + base64.RawURLEncoding.EncodeToString(b)

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), s.bcryptCost)
	if err != nil {
		return Credential{}, fmt.Errorf("hashing token: %w", err)
	}

	return Credential{Raw: raw, Prefix: raw[:prefixLen], Hash: string(hash)}, nil
}

// Authenticate resolves a raw token to an Identity. It extracts the prefix,
// looks up candidates, and bcrypt-compares each one.
func (s *Service) Authenticate(ctx context.Context, raw string) (*Identity, error) {
	if len(raw) < prefixLen {
		return nil, ErrInvalidToken
	}

	candidates, err := s.creds.FindByTokenPrefix(ctx, raw[:prefixLen])
	if err != nil {
		return nil, fmt.Errorf("finding credentials by prefix: %w", err)
	}

	for _, c := range candidates {
		if bcrypt.CompareHashAndPassword([]byte(c.TokenHash), []byte(raw)) == nil {
			return &Identity{
				MemberID: c.MemberID,
				TeamID:   c.TeamID,
				Name:     c.Name,
				IsLeader: c.IsLeader,
			}, nil
		}
	}

	return nil, ErrInvalidToken
}
