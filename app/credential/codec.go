// Package credential renders, hashes and verifies opaque API keys.
//
// A key looks like <prefix><lookup><secret>: lookup is a 12 character
// non-secret fragment used to find the stored record, secret carries 256 bits
// of entropy. Both parts use the unpadded URL-safe base64 alphabet, so the key
// has a fixed length and needs no separators. The whole rendered key is hashed
// with Argon2id.
package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	lookupBytes = 9
	secretBytes = 32
	saltBytes   = 16
	keyBytes    = 32

	// DisplaySuffixLength is the number of trailing characters kept for display.
	DisplaySuffixLength = 8
)

var (
	lookupLength = base64.RawURLEncoding.EncodedLen(lookupBytes)
	secretLength = base64.RawURLEncoding.EncodedLen(secretBytes)
)

var ErrMalformedHash = errors.New("malformed argon2id hash")

type Params struct {
	MemoryKiB   uint32
	Time        uint32
	Parallelism uint8
}

// IssuedFields are the values to persist for a freshly issued key.
type IssuedFields struct {
	Prefix    string
	LookupID  string
	KeyHash   string
	LastChars string
}

type Codec struct {
	prefix string
	params Params
}

func NewCodec(prefix string, params Params) *Codec {
	return &Codec{prefix: prefix, params: params}
}

func (c *Codec) Prefix() string {
	return c.prefix
}

// KeyLength is the exact length of every key this codec renders.
func (c *Codec) KeyLength() int {
	return len(c.prefix) + lookupLength + secretLength
}

// Issue generates a new key. The returned secret is the only copy; callers
// show it once and persist only the fields.
func (c *Codec) Issue() (string, IssuedFields, error) {
	lookup, err := randomToken(lookupBytes)
	if err != nil {
		return "", IssuedFields{}, err
	}
	secret, err := randomToken(secretBytes)
	if err != nil {
		return "", IssuedFields{}, err
	}

	key := c.prefix + lookup + secret
	hash, err := c.Hash(key)
	if err != nil {
		return "", IssuedFields{}, err
	}

	return key, IssuedFields{
		Prefix:    c.prefix,
		LookupID:  lookup,
		KeyHash:   hash,
		LastChars: key[len(key)-DisplaySuffixLength:],
	}, nil
}

// Parse checks the shape of a candidate and returns its lookup fragment.
func (c *Codec) Parse(candidate string) (string, bool) {
	if len(candidate) != c.KeyLength() || !strings.HasPrefix(candidate, c.prefix) {
		return "", false
	}
	body := candidate[len(c.prefix):]
	for i := 0; i < len(body); i++ {
		if !isURLSafe(body[i]) {
			return "", false
		}
	}
	return body[:lookupLength], true
}

// Hash produces an encoded Argon2id hash with a fresh random salt.
func (c *Codec) Hash(key string) (string, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	sum := argon2.IDKey([]byte(key), salt, c.params.Time, c.params.MemoryKiB, c.params.Parallelism, keyBytes)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		c.params.MemoryKiB,
		c.params.Time,
		c.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// Verify reports whether candidate matches storedHash. Malformed candidates
// are rejected before any hashing work is done.
func (c *Codec) Verify(candidate, storedHash string) bool {
	if _, ok := c.Parse(candidate); !ok {
		return false
	}

	params, salt, want, err := decodeHash(storedHash)
	if err != nil {
		return false
	}

	got := argon2.IDKey([]byte(candidate), salt, params.Time, params.MemoryKiB, params.Parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

func decodeHash(encoded string) (Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Params{}, nil, nil, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Params{}, nil, nil, ErrMalformedHash
	}

	var params Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.MemoryKiB, &params.Time, &params.Parallelism); err != nil {
		return Params{}, nil, nil, ErrMalformedHash
	}
	if params.Time == 0 || params.Parallelism == 0 {
		return Params{}, nil, nil, ErrMalformedHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return Params{}, nil, nil, ErrMalformedHash
	}
	sum, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(sum) == 0 {
		return Params{}, nil, nil, ErrMalformedHash
	}

	return params, salt, sum, nil
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func isURLSafe(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') || ch == '-' || ch == '_'
}
