package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id cost of new hashes. Existing hashes keep the cost they were
// made with.
var defaultCost = argonCost{time: 3, memory: 64 * 1024, threads: 1}

const (
	saltLen = 16
	keyLen  = 32
)

var errMalformedHash = errors.New("malformed argon2id hash")

type argonCost struct {
	time    uint32
	memory  uint32 // KiB
	threads uint8
}

// phc is a decoded $argon2id$v=19$m=..,t=..,p=..$salt$key string.
type phc struct {
	cost argonCost
	salt []byte
	key  []byte
}

func (p phc) String() string {
	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.cost.memory, p.cost.time, p.cost.threads,
		b64.EncodeToString(p.salt), b64.EncodeToString(p.key))
}

func (p phc) derive(password string) []byte {
	return argon2.IDKey([]byte(password), p.salt, p.cost.time, p.cost.memory, p.cost.threads, uint32(len(p.key))) //nolint:gosec // key length is small
}

func parsePHC(s string) (phc, error) {
	var p phc
	fields := strings.Split(s, "$")
	if len(fields) != 6 || fields[0] != "" { //nolint:mnd // leading empty field plus five
		return p, errMalformedHash
	}
	if fields[1] != "argon2id" {
		return p, fmt.Errorf("%w: algorithm %q", errMalformedHash, fields[1])
	}
	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, fmt.Errorf("%w: version %q", errMalformedHash, fields[2])
	}
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &p.cost.memory, &p.cost.time, &p.cost.threads); err != nil {
		return p, fmt.Errorf("%w: parameters %q", errMalformedHash, fields[3])
	}
	if p.cost.time == 0 || p.cost.threads == 0 {
		return p, fmt.Errorf("%w: zero cost", errMalformedHash)
	}

	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(fields[4]); err != nil {
		return p, fmt.Errorf("%w: salt: %v", errMalformedHash, err)
	}
	if p.key, err = base64.RawStdEncoding.DecodeString(fields[5]); err != nil || len(p.key) == 0 {
		return p, fmt.Errorf("%w: key", errMalformedHash)
	}
	return p, nil
}

// HashPassword returns the Argon2id PHC string of password with a fresh
// random salt.
func HashPassword(password string) (string, error) {
	p := phc{cost: defaultCost, salt: make([]byte, saltLen), key: make([]byte, keyLen)}
	if _, err := rand.Read(p.salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	p.key = p.derive(password)
	return p.String(), nil
}

// VerifyPassword reports whether password matches encoded. It fails only
// when encoded is not a usable hash.
func VerifyPassword(password, encoded string) (bool, error) {
	p, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(p.key, p.derive(password)) == 1, nil
}

// ValidateHash reports whether encoded is a usable Argon2id PHC hash.
func ValidateHash(encoded string) error {
	_, err := parsePHC(encoded)
	return err
}
