package code

import (
	"crypto/rand"
	"strings"
)

// Alphabet holds the 32 symbols a code is drawn from. 0/O and 1/I are left out
// so codes survive being read aloud or copied by hand.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Length is the number of symbols in a code.
const Length = 6

// Generator produces a new code on every call.
type Generator func() string

// Generate returns a uniformly random code of Length symbols from Alphabet.
func Generate() string {
	b := make([]byte, Length)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand.Read never returns an error on supported platforms.
		panic("code: reading random bytes: " + err.Error())
	}

	// 256 is a multiple of 32, so masking keeps the distribution uniform.
	for i := range b {
		b[i] = Alphabet[int(b[i])&(len(Alphabet)-1)]
	}
	return string(b)
}

// Normalize returns the canonical form of user input: trimmed and upper-cased.
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Valid reports whether s is a well-formed code in canonical form.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(Alphabet, s[i]) < 0 {
			return false
		}
	}
	return true
}
