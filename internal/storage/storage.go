package storage

import (
	"errors"

	"github.com/loganmanery/filevault/pkg/models"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a file record does not exist
var ErrNotFound = errors.New("file record not found")

// StorageService defines the interface for file record persistence
type StorageService interface {
	// Initialize initializes the storage service
	Initialize() error

	// Close closes the storage connection
	Close() error

	// GetFileRecord retrieves a file record by ID
	GetFileRecord(id int64) (*models.EncryptedFile, error)

	// CreateFileRecord stores a new file record and returns its ID
	CreateFileRecord(file *models.EncryptedFile) (int64, error)

	// UpdateFileRecord rewrites the edit-mutable fields of a record
	UpdateFileRecord(id int64, update models.FileUpdate) error

	// DeleteFileRecord deletes a file record
	DeleteFileRecord(id int64) error

	// ListFileRecords searches file records
	ListFileRecords(params models.SearchParams) ([]models.EncryptedFile, error)

	// AddAuditEntry appends to the audit log
	AddAuditEntry(action string, resourceID int64, details string) error
}

// NewStorageService creates a new instance of the default storage service
func NewStorageService(dbPath string, log *logrus.Logger) StorageService {
	return newSQLiteStorage(dbPath, log)
}
