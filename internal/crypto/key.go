package crypto

import (
	"bytes"
	"fmt"
)

// KeyFiller pads passwords on the left up to the algorithm key width.
//
// The resulting key is not a KDF output: there is no salt and no work
// factor. The scheme is kept because existing files were encrypted with it.
const KeyFiller byte = '$'

// PasswordTooLongError reports a password that does not fit the key width
type PasswordTooLongError struct {
	Algorithm Algorithm
	Max       int
	Got       int
}

func (e *PasswordTooLongError) Error() string {
	return fmt.Sprintf("password too long for %s: at most %d bytes, got %d", e.Algorithm, e.Max, e.Got)
}

// Is makes errors.Is(err, ErrPasswordTooLong) match
func (e *PasswordTooLongError) Is(target error) bool {
	return target == ErrPasswordTooLong
}

// FormatKey right-aligns password in a key of exactly alg.KeyWidth() bytes,
// filling the left side with KeyFiller
func FormatKey(password []byte, alg Algorithm) ([]byte, error) {
	if !alg.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, alg)
	}

	width := alg.KeyWidth()
	if len(password) > width {
		return nil, &PasswordTooLongError{Algorithm: alg, Max: width, Got: len(password)}
	}

	key := bytes.Repeat([]byte{KeyFiller}, width)
	copy(key[width-len(password):], password)
	return key, nil
}
