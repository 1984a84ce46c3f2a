// Package profile manages the current working profile — a named root
// directory obtained through the picker capability — and its baseline
// asset sub-store.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/baselight/baselight/internal/capability"
	"github.com/baselight/baselight/internal/metrics"
)

const (
	// BaselineDirName is the fixed name of the asset sub-store directory
	// nested inside every profile. Created lazily, never renamed.
	BaselineDirName = "BaselineImages"

	// BaselineLimit is the default cap on assets accepted per save batch.
	BaselineLimit = 3
)

// ErrInvalidName rejects profile names that are empty after trimming.
var ErrInvalidName = errors.New("profile: name must not be empty")

// Profile is a named root directory representing one user's isolated
// working context. Identity is the chosen directory; the underlying
// directory persists after the application lets go of it.
type Profile struct {
	name string
	root capability.Directory
}

// Name returns the profile's name (the root directory's base name).
func (p *Profile) Name() string { return p.name }

// Root returns the profile's root directory capability.
func (p *Profile) Root() capability.Directory { return p.root }

// Store opens and creates profiles through an injected picker capability.
type Store struct {
	picker capability.Picker
}

// NewStore creates a profile store backed by the given picker.
func NewStore(picker capability.Picker) *Store {
	return &Store{picker: picker}
}

// Supported reports whether the picker capability is available on this
// host. Checked once at startup to gate all interactive entry points.
func (s *Store) Supported() bool {
	return s.picker.Supported()
}

// Open picks a directory and wraps it directly as the profile: the chosen
// directory IS the profile root. No storage is mutated beyond what the
// picker's own semantics require.
func (s *Store) Open(ctx context.Context, hint string) (*Profile, error) {
	dir, err := s.pick(ctx, hint)
	if err != nil {
		return nil, err
	}
	return &Profile{name: dir.Name(), root: dir}, nil
}

// Create validates the name, picks a *parent* directory, and creates or
// opens the named child as the profile root. Because create and open share
// the same get-or-create primitive, reopening a profile created moments
// earlier is idempotent and side-effect-free.
func (s *Store) Create(ctx context.Context, hint, name string) (*Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}

	parent, err := s.pick(ctx, hint)
	if err != nil {
		return nil, err
	}

	root, err := parent.GetOrCreateChild(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("create profile %q: %w", name, err)
	}
	return &Profile{name: root.Name(), root: root}, nil
}

func (s *Store) pick(ctx context.Context, hint string) (capability.Directory, error) {
	dir, err := s.picker.PickDirectory(ctx, hint)
	metrics.RecordPickerRequest(s.picker.Backend(), pickerResult(err))
	if err != nil {
		return nil, err
	}
	return dir, nil
}

func pickerResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, capability.ErrUserCancelled):
		return "cancelled"
	case errors.Is(err, capability.ErrPlatformUnsupported):
		return "unsupported"
	case errors.Is(err, capability.ErrAccessDenied):
		return "denied"
	default:
		return "error"
	}
}
