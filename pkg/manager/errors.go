package manager

import (
	"errors"
	"fmt"
)

var (
	// ErrWrongPassword means the password does not match the file's verification hash
	ErrWrongPassword = errors.New("wrong password")

	ErrEmptyPassword    = errors.New("password is required")
	ErrPermissionDenied = errors.New("permission denied")
)

// IOError represents a read or write failure on a ciphertext blob or a
// plaintext path
type IOError struct {
	Op   string // "read", "write" or "remove"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io error: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
