// Package authpak generates and verifies prefixed API keys (PAKs) and
// resolves them to an admin/agent/generator identity, per spec.md §4.2.
package authpak

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// Config controls PAK shape, mirroring original_source's
// PrefixedApiKeyController builder (prefix, short_token_length,
// long_token_length, digest=sha256).
type Config struct {
	Prefix          string
	ShortTokenLen   int
	LongTokenLen    int
}

// DefaultConfig uses brokkr's own "bkr" prefix with an 8-byte short token
// and a 24-byte long token, each hex-encoded (16 and 48 hex characters).
func DefaultConfig() Config {
	return Config{Prefix: "bkr", ShortTokenLen: 8, LongTokenLen: 24}
}

// Generated holds a freshly minted PAK: the plaintext (shown to the
// operator exactly once) and its digest (the only thing ever persisted).
type Generated struct {
	Plaintext string
	Hash      string
	ShortID   string // prefix_short, usable for prefix-narrowed lookups
}

// Generate mints a new PAK of the form "<prefix>_<short>_<long>" and its
// sha256 hex digest. The store persists only Hash (spec.md §4.2).
func Generate(cfg Config) (*Generated, error) {
	short, err := randomHex(cfg.ShortTokenLen)
	if err != nil {
		return nil, fmt.Errorf("authpak: generate short token: %w", err)
	}
	long, err := randomHex(cfg.LongTokenLen)
	if err != nil {
		return nil, fmt.Errorf("authpak: generate long token: %w", err)
	}
	plaintext := fmt.Sprintf("%s_%s_%s", cfg.Prefix, short, long)
	return &Generated{
		Plaintext: plaintext,
		Hash:      Hash(plaintext),
		ShortID:   fmt.Sprintf("%s_%s", cfg.Prefix, short),
	}, nil
}

// Hash returns the sha256 hex digest of a plaintext PAK.
func Hash(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether plaintext hashes to storedHash, in constant time.
func Verify(plaintext, storedHash string) bool {
	if storedHash == "" {
		return false
	}
	got := Hash(plaintext)
	return subtle.ConstantTimeCompare([]byte(got), []byte(storedHash)) == 1
}

// ShortID extracts the "<prefix>_<short>" narrowing key from a plaintext
// PAK, or "" if it doesn't look like one. Used to narrow candidate rows
// before the constant-time hash comparison (spec.md §4.2's "bounded query;
// expected to be narrowed by prefix in production").
func ShortID(plaintext string, cfg Config) string {
	parts := strings.SplitN(plaintext, "_", 3)
	if len(parts) != 3 || parts[0] != cfg.Prefix {
		return ""
	}
	return parts[0] + "_" + parts[1]
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
