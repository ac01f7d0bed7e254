package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"fmt"
	"strings"

	"github.com/tjfoc/gmsm/sm4"
)

// Algorithm identifies one of the supported block ciphers
type Algorithm int

const (
	AES Algorithm = iota + 1
	DES
	TripleDES
	SM4
)

// Algorithms lists every supported algorithm in display order
var Algorithms = []Algorithm{AES, DES, TripleDES, SM4}

// String returns the name stored in file records
func (a Algorithm) String() string {
	switch a {
	case AES:
		return "AES"
	case DES:
		return "DES"
	case TripleDES:
		return "3DES"
	case SM4:
		return "SM4"
	default:
		return fmt.Sprintf("Algorithm(%d)", int(a))
	}
}

// Valid reports whether a is one of the supported algorithms
func (a Algorithm) Valid() bool {
	return a >= AES && a <= SM4
}

// BlockSize returns the cipher block size in bytes, which is also the IV length
func (a Algorithm) BlockSize() int {
	switch a {
	case AES, SM4:
		return 16
	case DES, TripleDES:
		return 8
	default:
		return 0
	}
}

// KeyWidth returns the formatted key length in bytes
func (a Algorithm) KeyWidth() int {
	switch a {
	case AES:
		return 32
	case SM4:
		return 16
	case DES, TripleDES:
		return 8
	default:
		return 0
	}
}

// newBlock creates the block cipher for a formatted key
func (a Algorithm) newBlock(key []byte) (cipher.Block, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, a)
	}
	if len(key) != a.KeyWidth() {
		return nil, fmt.Errorf("%w: %s requires %d bytes, got %d", ErrInvalidKey, a, a.KeyWidth(), len(key))
	}

	switch a {
	case AES:
		return aes.NewCipher(key)
	case DES:
		return des.NewCipher(key)
	case TripleDES:
		// An 8-byte key means K1 = K2 = K3.
		ede := make([]byte, 0, 24)
		for i := 0; i < 3; i++ {
			ede = append(ede, key...)
		}
		return des.NewTripleDESCipher(ede)
	default:
		return sm4.NewCipher(key)
	}
}

// MarshalText implements encoding.TextMarshaler
func (a Algorithm) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAlgorithm, int(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (a *Algorithm) UnmarshalText(text []byte) error {
	parsed, err := ParseAlgorithm(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAlgorithm converts a stored or user-entered name into an Algorithm
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "AES", "AES-256":
		return AES, nil
	case "DES":
		return DES, nil
	case "3DES", "TRIPLEDES", "TDES":
		return TripleDES, nil
	case "SM4":
		return SM4, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
}
