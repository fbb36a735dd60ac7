// Package auth verifies the shared token presented during the GABP
// session/hello handshake.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// argon2idParams mirrors OWASP's minimum recommended parameters.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// Verifier checks a handshake token against the server's configured token.
// A Verifier is safe for concurrent use.
type Verifier struct {
	// stored is either a bare token (legacy/simple deployments) or a
	// recognized hash (argon2id PHC string or "sha256:<hex>").
	stored string
}

// NewVerifier builds a Verifier from the configured token or token hash.
func NewVerifier(configuredTokenOrHash string) *Verifier {
	return &Verifier{stored: configuredTokenOrHash}
}

// Verify reports whether candidate matches the configured token. Comparison
// is constant-time regardless of which storage form is configured.
func (v *Verifier) Verify(candidate string) bool {
	if candidate == "" {
		return false
	}
	switch detectHashType(v.stored) {
	case "argon2id":
		ok, err := safeArgon2idCompare(candidate, v.stored)
		return err == nil && ok
	case "sha256":
		expected := strings.TrimPrefix(v.stored, "sha256:")
		got := hashSHA256(candidate)
		return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
	default:
		// Bare token: still compare in constant time.
		return subtle.ConstantTimeCompare([]byte(candidate), []byte(v.stored)) == 1
	}
}

// HashToken returns an Argon2id PHC-format hash of rawToken, suitable for
// storing in config instead of the bare token (used by the hash-token CLI
// command).
func HashToken(rawToken string) (string, error) {
	hash, err := argon2id.CreateHash(rawToken, argon2idParams)
	if err != nil {
		return "", fmt.Errorf("auth: hash token: %w", err)
	}
	return hash, nil
}

func hashSHA256(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func detectHashType(stored string) string {
	if strings.HasPrefix(stored, "$argon2id$") {
		return "argon2id"
	}
	if strings.HasPrefix(stored, "sha256:") {
		return "sha256"
	}
	return "bare"
}

// safeArgon2idCompare wraps argon2id.ComparePasswordAndHash with panic
// recovery: the library panics on malformed PHC strings with invalid
// parameters, which would otherwise crash a connection's handshake.
func safeArgon2idCompare(candidate, stored string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("auth: invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(candidate, stored)
}
