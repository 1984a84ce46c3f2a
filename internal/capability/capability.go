// Package capability defines the storage capability boundary: an injected
// directory-picker plus directory and file handle interfaces supporting
// create-if-missing child lookup, entry enumeration, scoped writable sinks,
// and file content reads. Implementations live in sub-packages (osfs, s3fs).
package capability

import (
	"context"
	"errors"
	"io"
)

// Sentinel errors for the picker and handle operations. Callers classify
// failures with errors.Is; anything that does not match one of these is
// an unknown platform error.
var (
	// ErrUserCancelled means the user dismissed the selection prompt.
	// Non-fatal: callers must not surface it as an error.
	ErrUserCancelled = errors.New("capability: selection cancelled")

	// ErrPlatformUnsupported means the host environment lacks the
	// directory-picker capability. Checked once at startup.
	ErrPlatformUnsupported = errors.New("capability: directory picker unsupported")

	// ErrAccessDenied means the platform refused access to the directory
	// or file behind an otherwise valid capability.
	ErrAccessDenied = errors.New("capability: access denied")
)

// EntryKind distinguishes file-kind from directory-kind entries.
type EntryKind int

const (
	EntryFile EntryKind = iota
	EntryDirectory
)

// Picker obtains a directory capability through a user-consented selection
// flow. The hint identifies the selection within the picker's consent scope;
// an empty hint is a dismissal.
type Picker interface {
	// Supported reports whether the picker capability is available.
	Supported() bool

	// PickDirectory resolves the hint to a directory capability.
	// Fails with ErrUserCancelled, ErrPlatformUnsupported, or
	// ErrAccessDenied as appropriate. Obtaining the capability mutates
	// no storage beyond create-on-pick semantics of the backend.
	PickDirectory(ctx context.Context, hint string) (Directory, error)

	// Backend returns the backend type identifier ("osfs", "s3").
	Backend() string
}

// Directory is an opaque capability referring to a directory on persistent
// storage. The capability is revocable by the user or platform at any time;
// every operation can fail.
type Directory interface {
	// Name returns the directory's base name.
	Name() string

	// GetOrCreateChild resolves a direct child directory, creating it
	// if missing. Idempotent.
	GetOrCreateChild(ctx context.Context, name string) (Directory, error)

	// ListEntries enumerates the directory's direct entries. Order is
	// whatever the backend yields; it is not guaranteed stable.
	ListEntries(ctx context.Context) ([]Entry, error)

	// GetOrCreateFile resolves a direct child file, creating an empty
	// file if missing.
	GetOrCreateFile(ctx context.Context, name string) (File, error)
}

// Entry is one enumerated directory entry.
type Entry interface {
	Name() string
	Kind() EntryKind

	// AsFile returns the file capability for a file-kind entry.
	AsFile() (File, error)

	// AsDirectory returns the directory capability for a directory-kind entry.
	AsDirectory() (Directory, error)
}

// File is an opaque capability for a single file.
type File interface {
	Name() string

	// OpenWriter returns a scoped writable sink. The write is finalized
	// only when the sink is closed; closing replaces any previous content
	// (overwrite, not append).
	OpenWriter(ctx context.Context) (io.WriteCloser, error)

	// Read returns the file's full content and metadata.
	Read(ctx context.Context) (Content, error)
}

// Content is a file's bytes plus metadata.
type Content struct {
	Name     string
	Size     int64
	MIMEType string
	Bytes    []byte
}

// unsupportedPicker is the detected-absence stand-in: every pick fails with
// ErrPlatformUnsupported and Supported reports false.
type unsupportedPicker struct {
	reason string
}

// UnsupportedPicker returns a Picker for hosts without a usable backend.
// The absence is a supported condition, not a crash: callers gate their
// entry points on Supported.
func UnsupportedPicker(reason string) Picker {
	return &unsupportedPicker{reason: reason}
}

func (p *unsupportedPicker) Supported() bool { return false }

func (p *unsupportedPicker) Backend() string { return "unsupported" }

func (p *unsupportedPicker) PickDirectory(context.Context, string) (Directory, error) {
	return nil, ErrPlatformUnsupported
}
