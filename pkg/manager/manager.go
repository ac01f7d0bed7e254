package manager

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/loganmanery/filevault/internal/crypto"
	"github.com/loganmanery/filevault/internal/storage"
	"github.com/loganmanery/filevault/pkg/generator"
	"github.com/loganmanery/filevault/pkg/models"
	"github.com/sirupsen/logrus"
)

// Options configures a FileManager
type Options struct {
	DBPath     string
	UploadDir  string
	HashParams crypto.HashParams
	// Logger is optional; nil means logrus.New()
	Logger *logrus.Logger
}

// FileManager handles encrypted file operations for authenticated sessions.
// It keeps no keys or plaintext between calls.
type FileManager struct {
	storage storage.StorageService
	blobs   *storage.BlobStore
	crypto  crypto.CryptoService
	log     *logrus.Logger
	locks   *keyedMutex
}

// UploadRequest describes a new file to encrypt
type UploadRequest struct {
	Password    string
	Algorithm   crypto.Algorithm
	Plaintext   []byte
	FileName    string
	Description string
	Public      bool
}

// NewFileManager creates a file manager backed by SQLite and the upload directory
func NewFileManager(opts Options) (*FileManager, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	dir, err := storage.NewDirFS(opts.UploadDir)
	if err != nil {
		return nil, err
	}

	return newFileManager(
		storage.NewStorageService(opts.DBPath, opts.Logger),
		storage.NewBlobStore(dir),
		crypto.NewCryptoService(opts.HashParams),
		opts.Logger,
	), nil
}

func newFileManager(store storage.StorageService, blobs *storage.BlobStore, cs crypto.CryptoService, log *logrus.Logger) *FileManager {
	if log == nil {
		log = logrus.New()
	}
	return &FileManager{
		storage: store,
		blobs:   blobs,
		crypto:  cs,
		log:     log,
		locks:   newKeyedMutex(),
	}
}

// Initialize opens the record store
func (fm *FileManager) Initialize() error {
	if err := fm.storage.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	return nil
}

// Close closes the record store
func (fm *FileManager) Close() error {
	return fm.storage.Close()
}

// Upload encrypts req.Plaintext, stores the ciphertext blob and persists the
// new file record
func (fm *FileManager) Upload(session models.Session, req UploadRequest) (*models.EncryptedFile, error) {
	if session.Username == "" {
		return nil, fmt.Errorf("%w: no user in session", ErrPermissionDenied)
	}
	if req.Password == "" {
		return nil, ErrEmptyPassword
	}
	if req.FileName == "" {
		return nil, errors.New("file name is required")
	}

	key, err := fm.crypto.FormatKey([]byte(req.Password), req.Algorithm)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(key)

	ciphertext, iv, err := fm.crypto.Encrypt(req.Plaintext, key, req.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt file: %w", err)
	}

	hash, err := fm.crypto.HashKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to hash key: %w", err)
	}

	blobKey := storage.BlobKey(session.Username, req.FileName)
	if err := fm.blobs.Write(blobKey, ciphertext); err != nil {
		return nil, &IOError{Op: "write", Path: blobKey, Err: err}
	}

	file := &models.EncryptedFile{
		FilePath:     blobKey,
		FileName:     req.FileName,
		FileSize:     int64(len(req.Plaintext)),
		Description:  req.Description,
		Algorithm:    req.Algorithm,
		Username:     session.Username,
		IV:           iv,
		PasswordHash: hash,
		IsPublic:     req.Public,
	}

	id, err := fm.storage.CreateFileRecord(file)
	if err != nil {
		if rmErr := fm.blobs.Remove(blobKey); rmErr != nil {
			fm.log.WithError(rmErr).WithField("path", blobKey).Warn("failed to remove orphaned blob")
		}
		return nil, fmt.Errorf("failed to save file record: %w", err)
	}
	file.ID = id

	fm.audit("upload", id, fmt.Sprintf("%s uploaded %s (%s)", session.Username, file.FileName, file.Algorithm))
	fm.log.WithFields(logrus.Fields{
		"user":      session.Username,
		"file_id":   id,
		"algorithm": file.Algorithm.String(),
	}).Info("file uploaded")

	return file, nil
}

// UploadFile reads the plaintext from path and uploads it. An empty
// req.FileName defaults to the base name of path.
func (fm *FileManager) UploadFile(session models.Session, req UploadRequest, path string) (*models.EncryptedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}
	defer crypto.Wipe(data)

	req.Plaintext = data
	if req.FileName == "" {
		req.FileName = filepath.Base(path)
	}
	return fm.Upload(session, req)
}

// Edit re-encrypts a file under newAlgorithm with the same password and
// renames it. The password is verified before anything is decrypted, so a
// wrong password can never overwrite the blob with garbage. The blob path is
// kept.
func (fm *FileManager) Edit(session models.Session, file *models.EncryptedFile, password string, newAlgorithm crypto.Algorithm, newFileName string) (*models.EncryptedFile, error) {
	unlock := fm.locks.Lock(file.ID)
	defer unlock()

	current, err := fm.storage.GetFileRecord(file.ID)
	if err != nil {
		return nil, err
	}
	if !canModify(session, current) {
		return nil, ErrPermissionDenied
	}
	if password == "" {
		return nil, ErrEmptyPassword
	}
	if newFileName == "" {
		newFileName = current.FileName
	}

	if !fm.VerifyPassword(current, password) {
		return nil, ErrWrongPassword
	}

	oldKey, err := fm.crypto.FormatKey([]byte(password), current.Algorithm)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(oldKey)

	newKey, err := fm.crypto.FormatKey([]byte(password), newAlgorithm)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(newKey)

	ciphertext, err := fm.blobs.Read(current.FilePath)
	if err != nil {
		return nil, &IOError{Op: "read", Path: current.FilePath, Err: err}
	}

	plaintext, err := fm.crypto.Decrypt(ciphertext, oldKey, current.IV, current.Algorithm)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(plaintext)

	reencrypted, iv, err := fm.crypto.Encrypt(plaintext, newKey, newAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt file: %w", err)
	}

	hash, err := fm.crypto.HashKey(newKey)
	if err != nil {
		return nil, fmt.Errorf("failed to hash key: %w", err)
	}

	if err := fm.blobs.Write(current.FilePath, reencrypted); err != nil {
		return nil, &IOError{Op: "write", Path: current.FilePath, Err: err}
	}

	update := models.FileUpdate{
		FileName:     newFileName,
		Algorithm:    newAlgorithm,
		IV:           iv,
		PasswordHash: hash,
		FileSize:     int64(len(plaintext)),
	}
	if err := fm.storage.UpdateFileRecord(current.ID, update); err != nil {
		// Put the old ciphertext back so blob and record stay consistent.
		if restoreErr := fm.blobs.Write(current.FilePath, ciphertext); restoreErr != nil {
			fm.log.WithError(restoreErr).WithField("file_id", current.ID).Error("failed to restore blob after update error")
		}
		return nil, fmt.Errorf("failed to update file record: %w", err)
	}

	fm.audit("edit", current.ID, fmt.Sprintf("%s re-encrypted %s with %s", session.Username, newFileName, newAlgorithm))
	fm.log.WithFields(logrus.Fields{
		"user":      session.Username,
		"file_id":   current.ID,
		"algorithm": newAlgorithm.String(),
	}).Info("file edited")

	return fm.storage.GetFileRecord(current.ID)
}

// VerifyPassword reports whether candidate is the password of file. A
// password too long for the file's algorithm is simply wrong.
func (fm *FileManager) VerifyPassword(file *models.EncryptedFile, candidate string) bool {
	key, err := fm.crypto.FormatKey([]byte(candidate), file.Algorithm)
	if err != nil {
		return false
	}
	defer crypto.Wipe(key)

	return fm.crypto.VerifyKey(key, file.PasswordHash)
}

// Download verifies password, decrypts the file and writes the plaintext to
// destination
func (fm *FileManager) Download(session models.Session, file *models.EncryptedFile, password, destination string) error {
	unlock := fm.locks.Lock(file.ID)
	defer unlock()

	current, err := fm.storage.GetFileRecord(file.ID)
	if err != nil {
		return err
	}
	if !canRead(session, current) {
		return ErrPermissionDenied
	}
	if !fm.VerifyPassword(current, password) {
		return ErrWrongPassword
	}

	key, err := fm.crypto.FormatKey([]byte(password), current.Algorithm)
	if err != nil {
		return err
	}
	defer crypto.Wipe(key)

	ciphertext, err := fm.blobs.Read(current.FilePath)
	if err != nil {
		return &IOError{Op: "read", Path: current.FilePath, Err: err}
	}

	plaintext, err := fm.crypto.Decrypt(ciphertext, key, current.IV, current.Algorithm)
	if err != nil {
		return err
	}
	defer crypto.Wipe(plaintext)

	if err := os.WriteFile(destination, plaintext, 0600); err != nil {
		return &IOError{Op: "write", Path: destination, Err: err}
	}

	fm.audit("download", current.ID, fmt.Sprintf("%s downloaded %s", session.Username, current.FileName))
	fm.log.WithFields(logrus.Fields{
		"user":    session.Username,
		"file_id": current.ID,
	}).Info("file downloaded")

	return nil
}

// Get returns a file record the session may read
func (fm *FileManager) Get(session models.Session, id int64) (*models.EncryptedFile, error) {
	file, err := fm.storage.GetFileRecord(id)
	if err != nil {
		return nil, err
	}
	if !canRead(session, file) {
		return nil, ErrPermissionDenied
	}
	return file, nil
}

// List searches file records. Users only see their own files; admins see all.
func (fm *FileManager) List(session models.Session, params models.SearchParams) ([]models.EncryptedFile, error) {
	if !session.IsAdmin() {
		params.Username = session.Username
	}
	return fm.storage.ListFileRecords(params)
}

// Delete removes a file record and its blob. Users may only delete their own
// files.
func (fm *FileManager) Delete(session models.Session, id int64) error {
	unlock := fm.locks.Lock(id)
	defer unlock()

	file, err := fm.storage.GetFileRecord(id)
	if err != nil {
		return err
	}
	if !canModify(session, file) {
		return fmt.Errorf("%w: users can only delete their own files", ErrPermissionDenied)
	}

	if err := fm.storage.DeleteFileRecord(id); err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}

	if err := fm.blobs.Remove(file.FilePath); err != nil {
		fm.log.WithError(err).WithField("path", file.FilePath).Warn("file record deleted but blob remains")
	}

	fm.audit("delete", id, fmt.Sprintf("%s deleted %s", session.Username, file.FileName))
	fm.log.WithFields(logrus.Fields{
		"user":    session.Username,
		"file_id": id,
	}).Info("file deleted")

	return nil
}

// GeneratePassword creates a strong password that fits the key width of alg
// and never contains the key filler
func (fm *FileManager) GeneratePassword(alg crypto.Algorithm) (string, error) {
	if !alg.Valid() {
		return "", fmt.Errorf("%w: %s", crypto.ErrUnknownAlgorithm, alg)
	}

	options := generator.DefaultOptions()
	if options.Length > alg.KeyWidth() {
		options.Length = alg.KeyWidth()
	}
	options.Exclude = string(crypto.KeyFiller)

	return generator.GeneratePassword(options)
}

// audit records an action; failures are logged and never fail the operation
func (fm *FileManager) audit(action string, id int64, details string) {
	if err := fm.storage.AddAuditEntry(action, id, details); err != nil {
		fm.log.WithError(err).WithFields(logrus.Fields{
			"action":  action,
			"file_id": id,
		}).Warn("failed to write audit entry")
	}
}

func canModify(session models.Session, file *models.EncryptedFile) bool {
	return session.IsAdmin() || (session.Username != "" && session.Username == file.Username)
}

func canRead(session models.Session, file *models.EncryptedFile) bool {
	return file.IsPublic || canModify(session, file)
}
