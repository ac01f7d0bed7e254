package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2 parameters
const (
	argonTime    = 3         // Number of iterations
	argonMemory  = 64 * 1024 // Memory in KiB (64 MB)
	argonThreads = 4         // Number of threads
	argonKeyLen  = 32        // Output hash length
	argonSaltLen = 16
)

// Upper bounds on the work factor, for new hashes and for stored ones
const (
	MaxHashMemory = 256 * 1024 // KiB (256 MB)
	MaxHashTime   = 64
)

// HashParams is the work factor of the verification hash
type HashParams struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

// DefaultHashParams returns the production work factor
func DefaultHashParams() HashParams {
	return HashParams{
		Time:    argonTime,
		Memory:  argonMemory,
		Threads: argonThreads,
		KeyLen:  argonKeyLen,
		SaltLen: argonSaltLen,
	}
}

// withDefaults fills zero fields
func (p HashParams) withDefaults() HashParams {
	d := DefaultHashParams()
	if p.Time == 0 {
		p.Time = d.Time
	}
	if p.Memory == 0 {
		p.Memory = d.Memory
	}
	if p.Threads == 0 {
		p.Threads = d.Threads
	}
	if p.KeyLen == 0 {
		p.KeyLen = d.KeyLen
	}
	if p.SaltLen == 0 {
		p.SaltLen = d.SaltLen
	}
	return p
}

var b64 = base64.RawStdEncoding

// HashKey hashes a formatted key with Argon2id and a random salt. The result
// is a PHC string: $argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
func HashKey(key []byte, params HashParams) (string, error) {
	params = params.withDefaults()
	if params.Memory > MaxHashMemory || params.Time > MaxHashTime {
		return "", fmt.Errorf("hash work factor too large: m=%d, t=%d", params.Memory, params.Time)
	}

	salt := make([]byte, params.SaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	sum := argon2.IDKey(key, salt, params.Time, params.Memory, params.Threads, params.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, params.Memory, params.Time, params.Threads,
		b64.EncodeToString(salt), b64.EncodeToString(sum)), nil
}

// VerifyKey recomputes the hash with the parameters stored in encoded.
// Malformed input is a mismatch, never an error.
func VerifyKey(key []byte, encoded string) bool {
	params, salt, want, ok := decodeHash(encoded)
	if !ok {
		return false
	}

	got := argon2.IDKey(key, salt, params.Time, params.Memory, params.Threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

func decodeHash(encoded string) (HashParams, []byte, []byte, bool) {
	var params HashParams

	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, hash
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return params, nil, nil, false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return params, nil, nil, false
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Time, &params.Threads); err != nil {
		return params, nil, nil, false
	}
	if params.Memory == 0 || params.Time == 0 || params.Threads == 0 ||
		params.Memory > MaxHashMemory || params.Time > MaxHashTime {
		return params, nil, nil, false
	}

	salt, err := b64.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return params, nil, nil, false
	}
	sum, err := b64.DecodeString(parts[5])
	if err != nil || len(sum) == 0 {
		return params, nil, nil, false
	}

	return params, salt, sum, true
}
