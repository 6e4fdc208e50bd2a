// hash.go

// Adaptive password hashing: Argon2id (default) and bcrypt.
package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Hasher produces an encoded, self-describing password hash.
type Hasher interface {
	Hash(password string) (string, error)
}

// ErrUnsupportedHash is returned by Verify for hashes it cannot identify.
var ErrUnsupportedHash = errors.New("unsupported hash format")

// Argon2Params tunes Argon2id. Zero fields take the defaults.
type Argon2Params struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

const (
	argonSaltLen = 16
	argonKeyLen  = uint32(32)
)

// DefaultArgon2Params matches OWASP's m=64MiB, t=3, p=2 baseline.
var DefaultArgon2Params = Argon2Params{Time: 3, MemoryKiB: 64 * 1024, Threads: 2}

// Argon2Hasher hashes with Argon2id into PHC strings.
type Argon2Hasher struct {
	params Argon2Params
}

// NewArgon2Hasher returns an Argon2id hasher, filling zero params from the defaults.
func NewArgon2Hasher(p Argon2Params) *Argon2Hasher {
	if p.Time == 0 {
		p.Time = DefaultArgon2Params.Time
	}
	if p.MemoryKiB == 0 {
		p.MemoryKiB = DefaultArgon2Params.MemoryKiB
	}
	if p.Threads == 0 {
		p.Threads = DefaultArgon2Params.Threads
	}
	return &Argon2Hasher{params: p}
}

// Hash returns a PHC-formatted Argon2id hash.
// Format: $argon2id$v=19$m=65536,t=3,p=2$<base64 salt>$<base64 hash>
func (h *Argon2Hasher) Hash(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.MemoryKiB, h.params.Threads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.MemoryKiB, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// BcryptHasher hashes with bcrypt at a fixed cost.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a bcrypt hasher. Out-of-range costs fall back to bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// bcryptInput reduces password to 44 bytes of base64(SHA-256) so bcrypt's
// 72-byte limit neither rejects long passwords nor truncates them.
func bcryptInput(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum[:])
	return out
}

// Hash returns a $2a$ bcrypt hash of the pre-hashed password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	out, err := bcrypt.GenerateFromPassword(bcryptInput(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(out), nil
}

// Verify checks password against an encoded hash of either algorithm.
// Parameters come from the stored hash, so old hashes keep verifying after config changes.
func Verify(password, encoded string) (bool, error) {
	switch {
	case strings.HasPrefix(encoded, "$argon2id$"):
		return verifyArgon2(password, encoded)
	case strings.HasPrefix(encoded, "$2a$"), strings.HasPrefix(encoded, "$2b$"), strings.HasPrefix(encoded, "$2y$"):
		err := bcrypt.CompareHashAndPassword([]byte(encoded), bcryptInput(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("bcrypt: %w", err)
		}
		return true, nil
	default:
		return false, ErrUnsupportedHash
	}
}

func verifyArgon2(password, encoded string) (bool, error) {
	// $argon2id$v=19$m=65536,t=3,p=2$<salt>$<hash> splits into 6 parts
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return false, fmt.Errorf("invalid hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("parsing hash version: %w", err)
	}
	if version != argon2.Version {
		return false, fmt.Errorf("unsupported argon2 version: %d", version)
	}

	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, fmt.Errorf("parsing hash params: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("decoding salt: %w", err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("decoding hash: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}
