// Package osfs implements the storage capability boundary on the local
// filesystem. Consent is scoped to a configured base directory: the picker
// only resolves hints inside it.
package osfs

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/baselight/baselight/internal/capability"
)

// Config holds local filesystem picker settings.
type Config struct {
	BaseDir    string `json:"base_dir"`
	CreateDirs bool   `json:"create_dirs"`
}

// Picker implements capability.Picker using the local filesystem.
type Picker struct {
	baseDir    string
	createDirs bool
}

// New creates a new local filesystem picker.
func New(cfg Config) (*Picker, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("base_dir is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if os.IsNotExist(err) && cfg.CreateDirs {
			if mkErr := os.MkdirAll(cfg.BaseDir, 0755); mkErr != nil {
				return nil, fmt.Errorf("create base dir %s: %w", cfg.BaseDir, mkErr)
			}
		} else {
			return nil, fmt.Errorf("stat base dir %s: %w", cfg.BaseDir, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base dir %s is not a directory", cfg.BaseDir)
	}

	return &Picker{
		baseDir:    cfg.BaseDir,
		createDirs: cfg.CreateDirs,
	}, nil
}

// Supported reports true: the local filesystem is always available once
// the picker is constructed.
func (p *Picker) Supported() bool { return true }

// Backend returns "osfs".
func (p *Picker) Backend() string { return "osfs" }

// PickDirectory resolves a hint to a directory under the base dir.
// An empty hint is a dismissal; hints escaping the base dir are denied.
func (p *Picker) PickDirectory(_ context.Context, hint string) (capability.Directory, error) {
	if strings.TrimSpace(hint) == "" {
		return nil, capability.ErrUserCancelled
	}

	path := filepath.Join(p.baseDir, filepath.FromSlash(hint))
	rel, err := filepath.Rel(p.baseDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("hint %q outside consent scope: %w", hint, capability.ErrAccessDenied)
	}

	info, err := os.Stat(path)
	switch {
	case err == nil:
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory: %w", hint, capability.ErrAccessDenied)
		}
	case os.IsNotExist(err):
		if !p.createDirs {
			return nil, fmt.Errorf("pick %s: %w", hint, err)
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, wrapFSError("create", hint, err)
		}
	case os.IsPermission(err):
		return nil, fmt.Errorf("pick %s: %w", hint, capability.ErrAccessDenied)
	default:
		return nil, fmt.Errorf("pick %s: %w", hint, err)
	}

	return &Dir{path: path}, nil
}

// Dir implements capability.Directory for a local directory.
type Dir struct {
	path string
}

// Name returns the directory's base name.
func (d *Dir) Name() string { return filepath.Base(d.path) }

// Path returns the directory's absolute filesystem path. Not part of the
// capability interface; used by collaborators that need a real path, such
// as the change watcher.
func (d *Dir) Path() string { return d.path }

// GetOrCreateChild resolves a child directory with create-if-missing
// semantics. Idempotent.
func (d *Dir) GetOrCreateChild(_ context.Context, name string) (capability.Directory, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	path := filepath.Join(d.path, name)
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, wrapFSError("create child", name, err)
	}
	return &Dir{path: path}, nil
}

// ListEntries enumerates the directory's direct entries in readdir order.
func (d *Dir) ListEntries(_ context.Context) ([]capability.Entry, error) {
	dirents, err := os.ReadDir(d.path)
	if err != nil {
		return nil, wrapFSError("list", d.Name(), err)
	}

	entries := make([]capability.Entry, 0, len(dirents))
	for _, de := range dirents {
		entries = append(entries, &entry{
			name:  de.Name(),
			isDir: de.IsDir(),
			path:  filepath.Join(d.path, de.Name()),
		})
	}
	return entries, nil
}

// GetOrCreateFile resolves a child file, creating an empty file if missing.
func (d *Dir) GetOrCreateFile(_ context.Context, name string) (capability.File, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	path := filepath.Join(d.path, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0644)
	if err != nil {
		return nil, wrapFSError("create file", name, err)
	}
	f.Close()
	return &File{path: path}, nil
}

// entry is one enumerated directory entry.
type entry struct {
	name  string
	isDir bool
	path  string
}

func (e *entry) Name() string { return e.name }

func (e *entry) Kind() capability.EntryKind {
	if e.isDir {
		return capability.EntryDirectory
	}
	return capability.EntryFile
}

func (e *entry) AsFile() (capability.File, error) {
	if e.isDir {
		return nil, fmt.Errorf("%s is a directory", e.name)
	}
	return &File{path: e.path}, nil
}

func (e *entry) AsDirectory() (capability.Directory, error) {
	if !e.isDir {
		return nil, fmt.Errorf("%s is not a directory", e.name)
	}
	return &Dir{path: e.path}, nil
}

// File implements capability.File for a local file.
type File struct {
	path string
}

// Name returns the file's base name.
func (f *File) Name() string { return filepath.Base(f.path) }

// OpenWriter returns a scoped writable sink. Content is staged in a temp
// file and renamed into place on Close, so readers never observe a partial
// write and closing replaces any previous content.
func (f *File) OpenWriter(_ context.Context) (io.WriteCloser, error) {
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".baselight-*.tmp")
	if err != nil {
		return nil, wrapFSError("open writer", f.Name(), err)
	}
	return &atomicSink{file: tmp, tmpName: tmp.Name(), finalName: f.path}, nil
}

// Read returns the file's full content and metadata.
func (f *File) Read(_ context.Context) (capability.Content, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return capability.Content{}, wrapFSError("read", f.Name(), err)
	}
	return capability.Content{
		Name:     f.Name(),
		Size:     int64(len(data)),
		MIMEType: mimeByName(f.Name()),
		Bytes:    data,
	}, nil
}

// atomicSink is a temp-file-then-rename writable sink.
type atomicSink struct {
	file      *os.File
	tmpName   string
	finalName string
	writeErr  error
	closed    bool
}

func (s *atomicSink) Write(p []byte) (int, error) {
	n, err := s.file.Write(p)
	if err != nil && s.writeErr == nil {
		s.writeErr = err
	}
	return n, err
}

// Close finalizes the write. The rename makes the content visible; until
// then the target keeps its previous bytes. If any Write failed, Close
// discards the staged content instead of finalizing it.
func (s *atomicSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.writeErr != nil {
		s.file.Close()
		os.Remove(s.tmpName)
		return fmt.Errorf("write %s: %w", s.finalName, s.writeErr)
	}

	if err := s.file.Close(); err != nil {
		os.Remove(s.tmpName)
		return fmt.Errorf("close temp for %s: %w", s.finalName, err)
	}
	if err := os.Rename(s.tmpName, s.finalName); err != nil {
		os.Remove(s.tmpName)
		return fmt.Errorf("rename temp to %s: %w", s.finalName, err)
	}
	return nil
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("invalid entry name %q: %w", name, capability.ErrAccessDenied)
	}
	return nil
}

func wrapFSError(op, name string, err error) error {
	if os.IsPermission(err) {
		return fmt.Errorf("%s %s: %w", op, name, capability.ErrAccessDenied)
	}
	return fmt.Errorf("%s %s: %w", op, name, err)
}

func mimeByName(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
