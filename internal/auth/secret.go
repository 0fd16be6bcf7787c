package auth

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

// SecretVerifier checks the shared secret presented by the scheduler.
type SecretVerifier struct {
	plain []byte
	hash  []byte
}

// NewSecretVerifier accepts either a plaintext secret or a bcrypt hash of it.
// When both are set the hash wins.
func NewSecretVerifier(plain, bcryptHash string) *SecretVerifier {
	v := &SecretVerifier{}
	if bcryptHash != "" {
		v.hash = []byte(bcryptHash)
	} else if plain != "" {
		v.plain = []byte(plain)
	}
	return v
}

// Verify reports whether presented matches the configured secret.
// An unconfigured verifier rejects everything.
func (v *SecretVerifier) Verify(presented string) bool {
	if presented == "" {
		return false
	}
	if v.hash != nil {
		return bcrypt.CompareHashAndPassword(v.hash, []byte(presented)) == nil
	}
	if v.plain == nil {
		return false
	}
	return subtle.ConstantTimeCompare(v.plain, []byte(presented)) == 1
}
