package manager

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/absfs/absfs"
	"github.com/absfs/memfs"
	"github.com/loganmanery/filevault/internal/crypto"
	"github.com/loganmanery/filevault/internal/storage"
	"github.com/loganmanery/filevault/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = models.Session{Username: "alice", Role: models.RoleUser}
	bob   = models.Session{Username: "bob", Role: models.RoleUser}
	admin = models.Session{Username: "root", Role: models.RoleAdmin}
)

// countingCrypto records how often Decrypt runs
type countingCrypto struct {
	crypto.CryptoService
	decrypts atomic.Int32
}

func (c *countingCrypto) Decrypt(ciphertext, key, iv []byte, alg crypto.Algorithm) ([]byte, error) {
	c.decrypts.Add(1)
	return c.CryptoService.Decrypt(ciphertext, key, iv, alg)
}

type fixture struct {
	fm     *FileManager
	blobs  *storage.BlobStore
	crypto *countingCrypto
	dir    string
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, nil, nil)
}

// newFixtureWith lets a test wrap the blob filesystem or the record store
func newFixtureWith(t *testing.T, wrapFS func(absfs.FileSystem) absfs.FileSystem, wrapStore func(storage.StorageService) storage.StorageService) *fixture {
	t.Helper()
	dir := t.TempDir()

	mem, err := memfs.NewFS()
	require.NoError(t, err)
	var fsys absfs.FileSystem = mem
	if wrapFS != nil {
		fsys = wrapFS(fsys)
	}
	blobs := storage.NewBlobStore(fsys)

	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.WarnLevel)

	store := storage.NewStorageService(filepath.Join(dir, "vault.db"), log)
	if wrapStore != nil {
		store = wrapStore(store)
	}

	cs := &countingCrypto{CryptoService: crypto.NewCryptoService(crypto.HashParams{Time: 1, Memory: 1024, Threads: 1})}
	fm := newFileManager(store, blobs, cs, log)
	require.NoError(t, fm.Initialize())
	t.Cleanup(func() { fm.Close() })

	return &fixture{fm: fm, blobs: blobs, crypto: cs, dir: dir}
}

// fullDiskFS fails every file write while full is set
type fullDiskFS struct {
	absfs.FileSystem
	full atomic.Bool
}

func (d *fullDiskFS) OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error) {
	f, err := d.FileSystem.OpenFile(name, flag, perm)
	if err != nil || !d.full.Load() {
		return f, err
	}
	return &fullDiskFile{File: f}, nil
}

type fullDiskFile struct {
	absfs.File
}

func (f *fullDiskFile) Write(p []byte) (int, error) {
	return 0, errors.New("disk full")
}

// brokenUpdateStore fails record updates while broken is set
type brokenUpdateStore struct {
	storage.StorageService
	broken atomic.Bool
}

func (s *brokenUpdateStore) UpdateFileRecord(id int64, update models.FileUpdate) error {
	if s.broken.Load() {
		return errors.New("database is locked")
	}
	return s.StorageService.UpdateFileRecord(id, update)
}

func (f *fixture) upload(t *testing.T, session models.Session, password string, alg crypto.Algorithm, content string) *models.EncryptedFile {
	t.Helper()
	file, err := f.fm.Upload(session, UploadRequest{
		Password:  password,
		Algorithm: alg,
		Plaintext: []byte(content),
		FileName:  "notes.txt",
	})
	require.NoError(t, err)
	return file
}

func (f *fixture) download(t *testing.T, session models.Session, file *models.EncryptedFile, password string) []byte {
	t.Helper()
	dest := filepath.Join(f.dir, "out.bin")
	require.NoError(t, f.fm.Download(session, file, password, dest))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	return data
}

func TestUploadDownload_AllAlgorithms(t *testing.T) {
	f := newFixture(t)

	for _, alg := range crypto.Algorithms {
		t.Run(alg.String(), func(t *testing.T) {
			file := f.upload(t, alice, "abc", alg, "hello world")

			assert.Positive(t, file.ID)
			assert.Equal(t, alg, file.Algorithm)
			assert.Len(t, file.IV, alg.BlockSize())
			assert.Equal(t, int64(11), file.FileSize)
			assert.Equal(t, "alice", file.Username)
			assert.True(t, f.blobs.Exists(file.FilePath))

			stored, err := f.blobs.Read(file.FilePath)
			require.NoError(t, err)
			assert.NotContains(t, string(stored), "hello world")

			assert.Equal(t, []byte("hello world"), f.download(t, alice, file, "abc"))
		})
	}
}

func TestUpload_HashIsOverFormattedKey(t *testing.T) {
	f := newFixture(t)
	file := f.upload(t, alice, "abc", crypto.AES, "data")

	key, err := crypto.FormatKey([]byte("abc"), crypto.AES)
	require.NoError(t, err)
	assert.True(t, crypto.VerifyKey(key, file.PasswordHash))
	assert.False(t, crypto.VerifyKey([]byte("abc"), file.PasswordHash))
}

func TestUpload_PasswordTooLong(t *testing.T) {
	f := newFixture(t)

	_, err := f.fm.Upload(alice, UploadRequest{
		Password:  "123456789",
		Algorithm: crypto.DES,
		Plaintext: []byte("x"),
		FileName:  "a.txt",
	})
	require.ErrorIs(t, err, crypto.ErrPasswordTooLong)

	var tooLong *crypto.PasswordTooLongError
	require.True(t, errors.As(err, &tooLong))
	assert.Equal(t, 8, tooLong.Max)

	files, err := f.fm.List(admin, models.SearchParams{})
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestUpload_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.fm.Upload(alice, UploadRequest{Algorithm: crypto.AES, FileName: "a"})
	assert.ErrorIs(t, err, ErrEmptyPassword)

	_, err = f.fm.Upload(models.Session{}, UploadRequest{Password: "pw", Algorithm: crypto.AES, FileName: "a"})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = f.fm.Upload(alice, UploadRequest{Password: "pw", Algorithm: crypto.Algorithm(9), FileName: "a"})
	assert.ErrorIs(t, err, crypto.ErrUnknownAlgorithm)
}

func TestUploadFile(t *testing.T) {
	f := newFixture(t)
	src := filepath.Join(f.dir, "report.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.7"), 0600))

	file, err := f.fm.UploadFile(alice, UploadRequest{Password: "pw", Algorithm: crypto.SM4}, src)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", file.FileName)
	assert.Equal(t, []byte("%PDF-1.7"), f.download(t, alice, file, "pw"))

	_, err = f.fm.UploadFile(alice, UploadRequest{Password: "pw", Algorithm: crypto.SM4}, filepath.Join(f.dir, "missing"))
	var ioErr *IOError
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, "read", ioErr.Op)
}

func TestEdit_ChangesAlgorithmAndKeepsPath(t *testing.T) {
	f := newFixture(t)
	file := f.upload(t, alice, "pw1234", crypto.AES, "payload that spans more than one block")

	edited, err := f.fm.Edit(alice, file, "pw1234", crypto.TripleDES, "renamed.txt")
	require.NoError(t, err)

	assert.Equal(t, file.ID, edited.ID)
	assert.Equal(t, file.FilePath, edited.FilePath)
	assert.Equal(t, crypto.TripleDES, edited.Algorithm)
	assert.Equal(t, "renamed.txt", edited.FileName)
	assert.Len(t, edited.IV, 8)
	assert.NotEqual(t, file.PasswordHash, edited.PasswordHash)
	assert.False(t, edited.ModifiedAt.IsZero())

	assert.True(t, f.fm.VerifyPassword(edited, "pw1234"))
	assert.Equal(t, []byte("payload that spans more than one block"), f.download(t, alice, edited, "pw1234"))
}

func TestEdit_WrongPasswordNeverDecrypts(t *testing.T) {
	f := newFixture(t)
	file := f.upload(t, alice, "right", crypto.AES, "keep me intact")
	before, err := f.blobs.Read(file.FilePath)
	require.NoError(t, err)
	decryptsBefore := f.crypto.decrypts.Load()

	_, err = f.fm.Edit(alice, file, "wrong", crypto.SM4, "x.txt")
	require.ErrorIs(t, err, ErrWrongPassword)

	assert.Equal(t, decryptsBefore, f.crypto.decrypts.Load(), "decrypt must not run after a failed verification")

	after, err := f.blobs.Read(file.FilePath)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	stored, err := f.fm.Get(alice, file.ID)
	require.NoError(t, err)
	assert.Equal(t, crypto.AES, stored.Algorithm)
	assert.Equal(t, file.IV, stored.IV)
	assert.Equal(t, "notes.txt", stored.FileName)

	assert.Equal(t, []byte("keep me intact"), f.download(t, alice, stored, "right"))
}

func TestEdit_FailedBlobWriteKeepsOriginal(t *testing.T) {
	disk := &fullDiskFS{}
	f := newFixtureWith(t, func(fsys absfs.FileSystem) absfs.FileSystem {
		disk.FileSystem = fsys
		return disk
	}, nil)
	file := f.upload(t, alice, "pw", crypto.AES, "precious data")
	before, err := f.blobs.Read(file.FilePath)
	require.NoError(t, err)

	disk.full.Store(true)
	_, err = f.fm.Edit(alice, file, "pw", crypto.DES, "")
	var ioErr *IOError
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, "write", ioErr.Op)
	disk.full.Store(false)

	after, err := f.blobs.Read(file.FilePath)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	stored, err := f.fm.Get(alice, file.ID)
	require.NoError(t, err)
	assert.Equal(t, crypto.AES, stored.Algorithm)
	assert.Equal(t, []byte("precious data"), f.download(t, alice, stored, "pw"))
}

func TestEdit_FailedRecordUpdateRestoresBlob(t *testing.T) {
	store := &brokenUpdateStore{}
	f := newFixtureWith(t, nil, func(s storage.StorageService) storage.StorageService {
		store.StorageService = s
		return store
	})
	file := f.upload(t, alice, "pw", crypto.SM4, "precious data")
	before, err := f.blobs.Read(file.FilePath)
	require.NoError(t, err)

	store.broken.Store(true)
	_, err = f.fm.Edit(alice, file, "pw", crypto.TripleDES, "renamed.txt")
	require.Error(t, err)
	store.broken.Store(false)

	after, err := f.blobs.Read(file.FilePath)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	stored, err := f.fm.Get(alice, file.ID)
	require.NoError(t, err)
	assert.Equal(t, crypto.SM4, stored.Algorithm)
	assert.Equal(t, "notes.txt", stored.FileName)
	assert.Equal(t, []byte("precious data"), f.download(t, alice, stored, "pw"))
}

func TestEdit_PasswordTooLongForNewAlgorithm(t *testing.T) {
	f := newFixture(t)
	file := f.upload(t, alice, "a-longer-password", crypto.AES, "content")

	_, err := f.fm.Edit(alice, file, "a-longer-password", crypto.DES, "")
	require.ErrorIs(t, err, crypto.ErrPasswordTooLong)

	stored, err := f.fm.Get(alice, file.ID)
	require.NoError(t, err)
	assert.Equal(t, crypto.AES, stored.Algorithm)
}

func TestEdit_EmptyNameKeepsName(t *testing.T) {
	f := newFixture(t)
	file := f.upload(t, alice, "pw", crypto.DES, "content")

	edited, err := f.fm.Edit(alice, file, "pw", crypto.SM4, "")
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", edited.FileName)
}

func TestEdit_Permissions(t *testing.T) {
	f := newFixture(t)
	file := f.upload(t, alice, "pw", crypto.AES, "content")

	_, err := f.fm.Edit(bob, file, "pw", crypto.DES, "")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = f.fm.Edit(admin, file, "pw", crypto.DES, "")
	assert.NoError(t, err)
}

func TestEdit_ConcurrentEditsAreSerialized(t *testing.T) {
	f := newFixture(t)
	file := f.upload(t, alice, "pw", crypto.AES, "contended content")

	algs := []crypto.Algorithm{crypto.DES, crypto.SM4, crypto.TripleDES, crypto.AES}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(alg crypto.Algorithm) {
			defer wg.Done()
			_, err := f.fm.Edit(alice, file, "pw", alg, "")
			assert.NoError(t, err)
		}(algs[i%len(algs)])
	}
	wg.Wait()

	stored, err := f.fm.Get(alice, file.ID)
	require.NoError(t, err)
	assert.Len(t, stored.IV, stored.Algorithm.BlockSize())
	assert.Equal(t, []byte("contended content"), f.download(t, alice, stored, "pw"))
}

func TestVerifyPassword(t *testing.T) {
	f := newFixture(t)
	file := f.upload(t, alice, "abc", crypto.SM4, "content")

	assert.True(t, f.fm.VerifyPassword(file, "abc"))
	assert.False(t, f.fm.VerifyPassword(file, "abd"))
	assert.False(t, f.fm.VerifyPassword(file, ""))
	assert.False(t, f.fm.VerifyPassword(file, "this password is far too long for sm4"))
}

func TestDownload_WrongPasswordWritesNothing(t *testing.T) {
	f := newFixture(t)
	file := f.upload(t, alice, "right", crypto.DES, "secret")
	dest := filepath.Join(f.dir, "never.bin")

	err := f.fm.Download(alice, file, "wrong", dest)
	require.ErrorIs(t, err, ErrWrongPassword)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownload_DestinationFailure(t *testing.T) {
	f := newFixture(t)
	file := f.upload(t, alice, "pw", crypto.AES, "secret")

	err := f.fm.Download(alice, file, "pw", filepath.Join(f.dir, "missing", "dir", "out.bin"))

	var ioErr *IOError
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, "write", ioErr.Op)
}

func TestDownload_CorruptedBlob(t *testing.T) {
	f := newFixture(t)
	file := f.upload(t, alice, "pw", crypto.AES, "secret")
	require.NoError(t, f.blobs.Write(file.FilePath, []byte("not a block multiple")))

	err := f.fm.Download(alice, file, "pw", filepath.Join(f.dir, "out.bin"))
	assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
}

func TestDownload_Permissions(t *testing.T) {
	f := newFixture(t)
	private := f.upload(t, alice, "pw", crypto.AES, "private")

	public, err := f.fm.Upload(alice, UploadRequest{
		Password:  "pw",
		Algorithm: crypto.AES,
		Plaintext: []byte("public"),
		FileName:  "shared.txt",
		Public:    true,
	})
	require.NoError(t, err)

	err = f.fm.Download(bob, private, "pw", filepath.Join(f.dir, "x"))
	assert.ErrorIs(t, err, ErrPermissionDenied)

	assert.Equal(t, []byte("public"), f.download(t, bob, public, "pw"))
	assert.Equal(t, []byte("private"), f.download(t, admin, private, "pw"))
}

func TestListAndGet(t *testing.T) {
	f := newFixture(t)
	mine := f.upload(t, alice, "pw", crypto.AES, "a")
	f.upload(t, bob, "pw", crypto.SM4, "b")

	files, err := f.fm.List(alice, models.SearchParams{Username: "bob"})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, mine.ID, files[0].ID)

	files, err = f.fm.List(admin, models.SearchParams{})
	require.NoError(t, err)
	assert.Len(t, files, 2)

	_, err = f.fm.Get(bob, mine.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = f.fm.Get(alice, 999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	file := f.upload(t, alice, "pw", crypto.AES, "bye")

	assert.ErrorIs(t, f.fm.Delete(bob, file.ID), ErrPermissionDenied)
	assert.True(t, f.blobs.Exists(file.FilePath))

	require.NoError(t, f.fm.Delete(alice, file.ID))
	assert.False(t, f.blobs.Exists(file.FilePath))

	_, err := f.fm.Get(alice, file.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = f.fm.Edit(alice, file, "pw", crypto.DES, "")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDelete_AdminMayDeleteAnyFile(t *testing.T) {
	f := newFixture(t)
	file := f.upload(t, bob, "pw", crypto.SM4, "x")

	require.NoError(t, f.fm.Delete(admin, file.ID))
}

func TestGeneratePassword_FitsAlgorithm(t *testing.T) {
	f := newFixture(t)

	for _, alg := range crypto.Algorithms {
		password, err := f.fm.GeneratePassword(alg)
		require.NoError(t, err)

		assert.LessOrEqual(t, len(password), alg.KeyWidth())
		assert.False(t, bytes.ContainsRune([]byte(password), rune(crypto.KeyFiller)))

		_, err = crypto.FormatKey([]byte(password), alg)
		assert.NoError(t, err)
	}
}

func TestNewFileManager_OnDisk(t *testing.T) {
	dir := t.TempDir()
	fm, err := NewFileManager(Options{
		DBPath:     filepath.Join(dir, "vault.db"),
		UploadDir:  filepath.Join(dir, "upload"),
		HashParams: crypto.HashParams{Time: 1, Memory: 1024, Threads: 1},
	})
	require.NoError(t, err)
	require.NoError(t, fm.Initialize())
	defer fm.Close()

	file, err := fm.Upload(alice, UploadRequest{
		Password:  "disk",
		Algorithm: crypto.TripleDES,
		Plaintext: []byte("on disk"),
		FileName:  "disk.txt",
	})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "upload", filepath.FromSlash(file.FilePath)))
	require.NoError(t, err)

	dest := filepath.Join(dir, "disk.out")
	require.NoError(t, fm.Download(alice, file, "disk", dest))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("on disk"), data)
}
