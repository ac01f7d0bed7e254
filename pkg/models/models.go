package models

import (
	"time"

	"github.com/loganmanery/filevault/internal/crypto"
)

// Role is the permission level of a session
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Session carries the identity of the acting user
type Session struct {
	Username string
	Role     Role
}

// IsAdmin reports whether the session may act on every user's files
func (s Session) IsAdmin() bool {
	return s.Role == RoleAdmin
}

// EncryptedFile represents one stored encrypted file
type EncryptedFile struct {
	ID           int64
	FilePath     string // blob key of the ciphertext
	FileName     string
	FileSize     int64 // plaintext size in bytes
	Description  string
	Algorithm    crypto.Algorithm
	Username     string
	IV           []byte
	PasswordHash string
	CreatedAt    time.Time
	ModifiedAt   time.Time // zero until the first edit
	IsPublic     bool
}

// FileUpdate holds the fields an edit rewrites
type FileUpdate struct {
	FileName     string
	Algorithm    crypto.Algorithm
	IV           []byte
	PasswordHash string
	FileSize     int64
}

// SearchParams represents search criteria for file records
type SearchParams struct {
	Keyword  string
	Username string
	SortBy   string
	SortDesc bool
	Limit    int // 0 means no limit
	Offset   int // applied with or without a limit
}
