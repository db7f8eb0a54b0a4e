package accounts

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

const resetTokenSize = 32

// TokenGenerator produces opaque, unguessable reset tokens
type TokenGenerator interface {
	Generate() (string, error)
}

// TokenGeneratorFunc adapts a function to the TokenGenerator interface.
type TokenGeneratorFunc func() (string, error)

// Generate implements TokenGenerator.
func (f TokenGeneratorFunc) Generate() (string, error) {
	return f()
}

// RandomTokenGenerator reads size bytes from a cryptographic source and
// encodes them base64url without padding
type RandomTokenGenerator struct {
	size   int
	source io.Reader
}

// NewRandomTokenGenerator returns a generator backed by crypto/rand
func NewRandomTokenGenerator() *RandomTokenGenerator {
	return &RandomTokenGenerator{size: resetTokenSize, source: rand.Reader}
}

func (g *RandomTokenGenerator) Generate() (string, error) {
	buf := make([]byte, g.size)
	if _, err := io.ReadFull(g.source, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// TokenDigest is the value persisted for a reset token, the plaintext token
// only ever leaves through the notifier
func TokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// maskToken keeps enough of a token to correlate log lines
func maskToken(token string) string {
	if len(token) <= 6 {
		return "***"
	}
	return token[:6] + "***"
}
