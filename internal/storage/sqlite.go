package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loganmanery/filevault/internal/crypto"
	"github.com/loganmanery/filevault/pkg/models"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// SQLiteStorage implements StorageService using SQLite
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
	log    *logrus.Logger
}

// newSQLiteStorage creates a new SQLite storage service
func newSQLiteStorage(dbPath string, log *logrus.Logger) *SQLiteStorage {
	if log == nil {
		log = logrus.New()
	}
	return &SQLiteStorage{
		dbPath: dbPath,
		log:    log,
	}
}

// Initialize initializes the database connection and tables
func (s *SQLiteStorage) Initialize() error {
	// Open SQLite database
	db, err := sql.Open("sqlite3", s.dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("failed to open database: %w", err)
	}
	s.db = db

	// Initialize the database schema
	if err := s.initializeSchema(); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

const fileColumns = `id, file_path, file_name, file_size, description, algorithm, user_name,
	iv, password_hash, is_public, created_at, modified_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*models.EncryptedFile, error) {
	var file models.EncryptedFile
	var algorithm string
	var createdAt, modifiedAt sql.NullTime

	err := row.Scan(&file.ID, &file.FilePath, &file.FileName, &file.FileSize, &file.Description,
		&algorithm, &file.Username, &file.IV, &file.PasswordHash, &file.IsPublic, &createdAt, &modifiedAt)
	if err != nil {
		return nil, err
	}

	file.Algorithm, err = crypto.ParseAlgorithm(algorithm)
	if err != nil {
		return nil, fmt.Errorf("file record %d: %w", file.ID, err)
	}
	if createdAt.Valid {
		file.CreatedAt = createdAt.Time
	}
	if modifiedAt.Valid {
		file.ModifiedAt = modifiedAt.Time
	}

	return &file, nil
}

// GetFileRecord retrieves a file record by ID
func (s *SQLiteStorage) GetFileRecord(id int64) (*models.EncryptedFile, error) {
	row := s.db.QueryRow(`SELECT `+fileColumns+` FROM encrypted_files WHERE id = ?`, id)

	file, err := scanFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		return nil, err
	}
	return file, nil
}

// CreateFileRecord stores a new file record and returns its ID
func (s *SQLiteStorage) CreateFileRecord(file *models.EncryptedFile) (int64, error) {
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.Exec(`
		INSERT INTO encrypted_files (file_path, file_name, file_size, description, algorithm, user_name,
			iv, password_hash, is_public, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, file.FilePath, file.FileName, file.FileSize, file.Description, file.Algorithm.String(), file.Username,
		file.IV, file.PasswordHash, file.IsPublic, file.CreatedAt)
	if err != nil {
		return 0, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	s.log.WithFields(logrus.Fields{
		"file_id":   id,
		"user":      file.Username,
		"file_name": file.FileName,
	}).Debug("file record created")

	return id, nil
}

// UpdateFileRecord rewrites the edit-mutable fields of a record
func (s *SQLiteStorage) UpdateFileRecord(id int64, update models.FileUpdate) error {
	result, err := s.db.Exec(`
		UPDATE encrypted_files
		SET file_name = ?, algorithm = ?, iv = ?, password_hash = ?, file_size = ?, modified_at = ?
		WHERE id = ?
	`, update.FileName, update.Algorithm.String(), update.IV, update.PasswordHash, update.FileSize,
		time.Now().UTC(), id)
	if err != nil {
		return err
	}

	if err := expectOneRow(result, id); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"file_id":   id,
		"file_name": update.FileName,
	}).Debug("file record updated")

	return nil
}

// DeleteFileRecord deletes a file record
func (s *SQLiteStorage) DeleteFileRecord(id int64) error {
	result, err := s.db.Exec("DELETE FROM encrypted_files WHERE id = ?", id)
	if err != nil {
		return err
	}
	return expectOneRow(result, id)
}

func expectOneRow(result sql.Result, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}

// sortColumns whitelists SearchParams.SortBy values
var sortColumns = map[string]string{
	"":           "file_name",
	"file_name":  "file_name",
	"algorithm":  "algorithm",
	"user_name":  "user_name",
	"file_size":  "file_size",
	"created_at": "created_at",
}

// likeEscaper makes LIKE wildcards in a keyword match literally
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ListFileRecords searches file records
func (s *SQLiteStorage) ListFileRecords(params models.SearchParams) ([]models.EncryptedFile, error) {
	// Base query
	query := `SELECT ` + fileColumns + ` FROM encrypted_files WHERE 1=1`
	var args []interface{}

	// Add search conditions
	if params.Username != "" {
		query += ` AND user_name = ?`
		args = append(args, params.Username)
	}

	if params.Keyword != "" {
		searchTerm := "%" + likeEscaper.Replace(params.Keyword) + "%"
		query += ` AND (file_name LIKE ? ESCAPE '\' OR user_name LIKE ? ESCAPE '\' OR algorithm LIKE ? ESCAPE '\')`
		args = append(args, searchTerm, searchTerm, searchTerm)
	}

	// Add sorting
	column, ok := sortColumns[params.SortBy]
	if !ok {
		return nil, fmt.Errorf("unsupported sort column %q", params.SortBy)
	}
	query += ` ORDER BY ` + column
	if params.SortDesc {
		query += ` DESC`
	} else {
		query += ` ASC`
	}
	query += `, id ASC`

	// Add pagination; LIMIT -1 is unbounded in SQLite
	if params.Limit > 0 || params.Offset > 0 {
		limit := params.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ?`
		args = append(args, limit)

		if params.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, params.Offset)
		}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []models.EncryptedFile
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *file)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return files, nil
}

// AddAuditEntry appends to the audit log
func (s *SQLiteStorage) AddAuditEntry(action string, resourceID int64, details string) error {
	_, err := s.db.Exec(`
		INSERT INTO audit_log (action, resource_type, resource_id, details)
		VALUES (?, 'encrypted_file', ?, ?)
	`, action, resourceID, details)
	return err
}
