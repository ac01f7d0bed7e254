package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/absfs/absfs"
	"github.com/google/uuid"
)

// BlobStore keeps one opaque ciphertext blob per file record
type BlobStore struct {
	fs absfs.FileSystem
}

// NewBlobStore creates a blob store on top of fsys
func NewBlobStore(fsys absfs.FileSystem) *BlobStore {
	return &BlobStore{fs: fsys}
}

// BlobKey builds a new, collision-free key for a user's upload
func BlobKey(username, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" {
		name = "file"
	}
	owner := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(username)
	return path.Join("/", owner, name+"."+uuid.NewString())
}

// Write replaces the blob stored under key. The data goes to a temporary
// sibling first and is renamed over key, so a failed write leaves the old
// blob intact.
func (b *BlobStore) Write(key string, data []byte) error {
	if err := b.fs.MkdirAll(path.Dir(key), 0700); err != nil {
		return err
	}

	tmp := path.Join(path.Dir(key), "."+path.Base(key)+"."+uuid.NewString()+".tmp")
	f, err := b.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		b.fs.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		b.fs.Remove(tmp)
		return err
	}

	if err := b.fs.Rename(tmp, key); err != nil {
		b.fs.Remove(tmp)
		return err
	}
	return nil
}

// Read returns the blob stored under key
func (b *BlobStore) Read(key string) ([]byte, error) {
	f, err := b.fs.Open(key)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}

// Remove deletes the blob; a missing blob is not an error
func (b *BlobStore) Remove(key string) error {
	err := b.fs.Remove(key)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Exists reports whether a blob is stored under key
func (b *BlobStore) Exists(key string) bool {
	_, err := b.fs.Stat(key)
	return err == nil
}

// DirFS is an absfs.FileSystem rooted at a host directory. Every name is
// resolved below root; relative names are resolved against the working
// directory set by Chdir.
type DirFS struct {
	root string
	cwd  string
}

// NewDirFS creates root if needed and returns a filesystem confined to it
func NewDirFS(root string) (*DirFS, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &DirFS{root: root}, nil
}

func (d *DirFS) path(name string) string {
	return filepath.Join(d.root, filepath.FromSlash(d.abs(name)))
}

// abs resolves name to a clean slash path below the virtual root
func (d *DirFS) abs(name string) string {
	name = filepath.ToSlash(name)
	if !path.IsAbs(name) && d.cwd != "" {
		name = d.cwd + "/" + name
	}
	return path.Clean("/" + name)
}

func (d *DirFS) OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error) {
	return os.OpenFile(d.path(name), flag, perm)
}

func (d *DirFS) Open(name string) (absfs.File, error) {
	return d.OpenFile(name, os.O_RDONLY, 0)
}

func (d *DirFS) Create(name string) (absfs.File, error) {
	return d.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
}

func (d *DirFS) Mkdir(name string, perm os.FileMode) error {
	return os.Mkdir(d.path(name), perm)
}

func (d *DirFS) MkdirAll(name string, perm os.FileMode) error {
	return os.MkdirAll(d.path(name), perm)
}

func (d *DirFS) Remove(name string) error {
	return os.Remove(d.path(name))
}

func (d *DirFS) RemoveAll(name string) error {
	return os.RemoveAll(d.path(name))
}

func (d *DirFS) Rename(oldpath, newpath string) error {
	return os.Rename(d.path(oldpath), d.path(newpath))
}

func (d *DirFS) Stat(name string) (os.FileInfo, error) {
	return os.Stat(d.path(name))
}

func (d *DirFS) Chmod(name string, mode os.FileMode) error {
	return os.Chmod(d.path(name), mode)
}

func (d *DirFS) Chtimes(name string, atime, mtime time.Time) error {
	return os.Chtimes(d.path(name), atime, mtime)
}

func (d *DirFS) Chown(name string, uid, gid int) error {
	return os.Chown(d.path(name), uid, gid)
}

func (d *DirFS) Truncate(name string, size int64) error {
	return os.Truncate(d.path(name), size)
}

func (d *DirFS) Separator() uint8 {
	return '/'
}

func (d *DirFS) ListSeparator() uint8 {
	return os.PathListSeparator
}

func (d *DirFS) Chdir(dir string) error {
	info, err := os.Stat(d.path(dir))
	if err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			err = pathErr.Err
		}
		return &os.PathError{Op: "chdir", Path: dir, Err: err}
	}
	if !info.IsDir() {
		return &os.PathError{Op: "chdir", Path: dir, Err: syscall.ENOTDIR}
	}
	d.cwd = d.abs(dir)
	return nil
}

func (d *DirFS) Getwd() (string, error) {
	if d.cwd == "" {
		return "/", nil
	}
	return d.cwd, nil
}

func (d *DirFS) TempDir() string {
	return os.TempDir()
}
