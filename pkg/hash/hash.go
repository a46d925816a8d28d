// Package hash provides one-way password hashing with scheme-agile
// verification: new digests use a single configured algorithm while
// verification accepts digests from every supported algorithm, so the
// active scheme can change without forcing a rehash of stored credentials.
package hash

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/beanbrew/coffeeshop-api/pkg/config"
)

const (
	SchemeArgon2id = "argon2id"
	SchemeBcrypt   = "bcrypt"
)

// Argon2id cost parameters for new digests.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

var (
	// ErrMismatch is returned when the plaintext does not match the digest.
	ErrMismatch = errors.New("hash: password does not match")
	// ErrUnknownScheme is returned for digests no supported scheme produced.
	ErrUnknownScheme = errors.New("hash: unrecognised digest format")
)

// Hasher hashes and verifies passwords.
type Hasher struct {
	scheme     string
	bcryptCost int
}

// New builds a Hasher from config, falling back to argon2id and the
// bcrypt default cost for zero values.
func New(cfg config.HashConfig) *Hasher {
	scheme := cfg.Scheme
	if scheme != SchemeBcrypt {
		scheme = SchemeArgon2id
	}
	cost := cfg.BcryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{scheme: scheme, bcryptCost: cost}
}

// Hash produces a digest of plaintext using the active scheme.
func (h *Hasher) Hash(plaintext string) (string, error) {
	switch h.scheme {
	case SchemeBcrypt:
		digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.bcryptCost)
		if err != nil {
			return "", fmt.Errorf("hash: bcrypt: %w", err)
		}
		return string(digest), nil
	default:
		return hashArgon2id(plaintext)
	}
}

// Verify checks plaintext against a digest produced by any supported scheme.
// Returns ErrMismatch on a wrong password and ErrUnknownScheme for digests
// in an unrecognised format.
func (h *Hasher) Verify(plaintext, digest string) error {
	switch {
	case strings.HasPrefix(digest, "$argon2id$"):
		return verifyArgon2id(plaintext, digest)
	case strings.HasPrefix(digest, "$2a$"), strings.HasPrefix(digest, "$2b$"), strings.HasPrefix(digest, "$2y$"):
		if err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)); err != nil {
			if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
				return ErrMismatch
			}
			return fmt.Errorf("hash: bcrypt: %w", err)
		}
		return nil
	default:
		return ErrUnknownScheme
	}
}

func hashArgon2id(plaintext string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("hash: salt: %w", err)
	}

	key := argon2.IDKey([]byte(plaintext), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func verifyArgon2id(plaintext, digest string) error {
	parts := strings.Split(digest, "$")
	// "", "argon2id", "v=19", "m=…,t=…,p=…", salt, key
	if len(parts) != 6 {
		return ErrUnknownScheme
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return ErrUnknownScheme
	}

	var memory, timeCost uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &timeCost, &threads); err != nil {
		return ErrUnknownScheme
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return ErrUnknownScheme
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return ErrUnknownScheme
	}

	got := argon2.IDKey([]byte(plaintext), salt, timeCost, memory, threads, uint32(len(want)))
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrMismatch
	}
	return nil
}
