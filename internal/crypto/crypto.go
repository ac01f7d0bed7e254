package crypto

import "errors"

var (
	// ErrPasswordTooLong is matched by *PasswordTooLongError
	ErrPasswordTooLong = errors.New("password too long")

	// ErrDecryptionFailed means the ciphertext, IV or padding is structurally invalid
	ErrDecryptionFailed = errors.New("decryption failed: wrong password or corrupted file")

	ErrUnknownAlgorithm = errors.New("unknown encryption algorithm")
	ErrInvalidKey       = errors.New("invalid key length")
)

// CryptoService defines the interface for file encryption operations
type CryptoService interface {
	// FormatKey turns a raw password into the fixed-width key for alg
	FormatKey(password []byte, alg Algorithm) ([]byte, error)

	// Encrypt encrypts plaintext under a new random IV
	Encrypt(plaintext, key []byte, alg Algorithm) (ciphertext, iv []byte, err error)

	// Decrypt decrypts ciphertext produced by Encrypt
	Decrypt(ciphertext, key, iv []byte, alg Algorithm) ([]byte, error)

	// HashKey produces the verification hash of a formatted key
	HashKey(key []byte) (string, error)

	// VerifyKey checks a formatted key against a verification hash
	VerifyKey(key []byte, hash string) bool
}

// cbcCryptoService implements CryptoService with CBC block ciphers and
// Argon2id verification hashes
type cbcCryptoService struct {
	params HashParams
}

// NewCryptoService creates a new instance of the default crypto service.
// Zero fields in params fall back to DefaultHashParams.
func NewCryptoService(params HashParams) CryptoService {
	return &cbcCryptoService{params: params.withDefaults()}
}

func (s *cbcCryptoService) FormatKey(password []byte, alg Algorithm) ([]byte, error) {
	return FormatKey(password, alg)
}

func (s *cbcCryptoService) Encrypt(plaintext, key []byte, alg Algorithm) ([]byte, []byte, error) {
	return Encrypt(plaintext, key, alg)
}

func (s *cbcCryptoService) Decrypt(ciphertext, key, iv []byte, alg Algorithm) ([]byte, error) {
	return Decrypt(ciphertext, key, iv, alg)
}

func (s *cbcCryptoService) HashKey(key []byte) (string, error) {
	return HashKey(key, s.params)
}

func (s *cbcCryptoService) VerifyKey(key []byte, hash string) bool {
	return VerifyKey(key, hash)
}

// Wipe zeroes a key or plaintext buffer
func Wipe(b []byte) {
	wipe(b)
}
