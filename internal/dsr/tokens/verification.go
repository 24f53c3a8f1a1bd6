// Package tokens issues the two identifiers handed to a data subject: a single-use
// verification token redeemed from the confirmation email, and a reusable tracking
// token for status lookups.
package tokens

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const verificationTokenBytes = 32

// NewVerificationToken returns a random URL-safe token and the digest to persist.
// Only the digest is stored; the token is sent once, in the confirmation email.
func NewVerificationToken() (token, digest string, err error) {
	b := make([]byte, verificationTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate verification token: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(b)
	return token, Digest(token), nil
}

// Digest is the lookup key for a verification token.
func Digest(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
