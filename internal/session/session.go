// Package session is the command boundary between the presentation layer
// and the profile-scoped asset store. It holds the single current profile,
// serializes storage operation sequences behind a single-slot busy guard,
// and converts storage failures into the presentation error taxonomy.
package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/baselight/baselight/internal/capability"
	"github.com/baselight/baselight/internal/display"
	"github.com/baselight/baselight/internal/events"
	"github.com/baselight/baselight/internal/logging"
	"github.com/baselight/baselight/internal/metrics"
	"github.com/baselight/baselight/internal/profile"
	"github.com/baselight/baselight/internal/watcher"
)

var (
	// ErrBusy means another storage operation sequence is in flight.
	// Commands are not queued: the invocation is a no-op.
	ErrBusy = errors.New("session: operation already in flight")

	// ErrNoProfile means a command that needs a current profile was
	// invoked without one.
	ErrNoProfile = errors.New("session: no current profile")
)

// genericRetryMessage is shown for any storage failure that is not a
// cancellation or a validation error. Detail goes to the log, not the user.
const genericRetryMessage = "Something went wrong. Please try again."

const unsupportedMessage = "This environment does not support choosing a profile directory."

// AssetView pairs an asset name with its live display reference.
type AssetView struct {
	Name string
	Ref  *display.Ref
}

// View is the state handed to the presentation collaborator.
type View struct {
	ProfileName  string
	Assets       []AssetView
	Busy         bool
	ErrorMessage string
	NameError    string
	Supported    bool
}

// Session owns the current profile and all state derived from it.
type Session struct {
	store       *profile.Store
	displays    *display.Manager
	broadcaster *events.Broadcaster
	watch       *watcher.Watcher
	limit       int
	supported   bool

	mu      sync.Mutex
	busy    bool
	epoch   uint64
	current *profile.Profile
	refs    []*display.Ref
	errMsg  string
	nameErr string
}

// New creates a session. broadcaster and watch may be nil. The picker
// capability is probed exactly once, here: an unsupported host permanently
// disables the interactive commands with a persistent warning.
func New(store *profile.Store, displays *display.Manager, broadcaster *events.Broadcaster, watch *watcher.Watcher, limit int) *Session {
	if limit <= 0 {
		limit = profile.BaselineLimit
	}
	s := &Session{
		store:       store,
		displays:    displays,
		broadcaster: broadcaster,
		watch:       watch,
		limit:       limit,
		supported:   store.Supported(),
	}
	if !s.supported {
		logging.Warn("directory picker unsupported, interactive commands disabled")
	}
	return s
}

// OpenProfile picks a directory and makes it the current profile.
// A cancelled pick is swallowed; other failures surface as the generic
// retry message.
func (s *Session) OpenProfile(ctx context.Context, hint string) error {
	if !s.supported {
		return capability.ErrPlatformUnsupported
	}
	epoch, ok := s.begin()
	if !ok {
		return ErrBusy
	}
	defer s.end()

	p, err := s.store.Open(ctx, hint)
	if err != nil {
		return s.fail("open profile", err)
	}
	s.install(ctx, epoch, p, events.EventProfileOpened)
	return nil
}

// CreateProfile validates the name, picks a parent directory, and creates
// or opens the named child as the current profile. An invalid name is
// reported inline and touches no storage.
func (s *Session) CreateProfile(ctx context.Context, hint, name string) error {
	if !s.supported {
		return capability.ErrPlatformUnsupported
	}
	epoch, ok := s.begin()
	if !ok {
		return ErrBusy
	}
	defer s.end()

	p, err := s.store.Create(ctx, hint, name)
	if err != nil {
		return s.fail("create profile", err)
	}
	s.install(ctx, epoch, p, events.EventProfileOpened)
	return nil
}

// SaveAssets writes the candidate files into the current profile's asset
// sub-store (truncated to the session limit) and recomputes the listing.
// The listing is recomputed even after a partial failure, so the view
// reflects exactly what persisted.
func (s *Session) SaveAssets(ctx context.Context, files []profile.FileUpload) error {
	if !s.supported {
		return capability.ErrPlatformUnsupported
	}
	epoch, ok := s.begin()
	if !ok {
		return ErrBusy
	}
	defer s.end()

	s.mu.Lock()
	p := s.current
	s.mu.Unlock()
	if p == nil {
		return ErrNoProfile
	}

	saveErr := s.store.SaveAssets(ctx, p, files, s.limit)
	if saveErr == nil {
		count := len(files)
		if count > s.limit {
			count = s.limit
		}
		s.publish(events.Event{
			Type:    events.EventAssetsSaved,
			Profile: p.Name(),
			Count:   count,
		})
	}

	s.refreshListing(ctx, epoch, p)

	if saveErr != nil {
		return s.fail("save assets", saveErr)
	}
	return nil
}

// SwitchProfile clears the current profile and all derived state — the
// asset listing, display references, and any transient error. It is an
// unconditional pure reset: not gated by the busy flag, no confirmation,
// and nothing about the previous profile is remembered. An operation still
// in flight finds its results discarded by the epoch check.
func (s *Session) SwitchProfile() {
	s.mu.Lock()
	previous := ""
	if s.current != nil {
		previous = s.current.Name()
	}
	s.epoch++
	s.current = nil
	s.refs = nil
	s.errMsg = ""
	s.nameErr = ""
	s.mu.Unlock()

	s.displays.RevokeAll()
	if s.watch != nil {
		s.watch.Unwatch()
	}
	s.publish(events.Event{
		Type:    events.EventProfileSwitched,
		Profile: previous,
	})
	logging.Info("profile switched", zap.String("previous", previous))
}

// View returns a snapshot of the presentation state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		Busy:         s.busy,
		ErrorMessage: s.errMsg,
		NameError:    s.nameErr,
		Supported:    s.supported,
	}
	if !s.supported {
		v.ErrorMessage = unsupportedMessage
	}
	if s.current != nil {
		v.ProfileName = s.current.Name()
	}
	v.Assets = make([]AssetView, 0, len(s.refs))
	for _, r := range s.refs {
		v.Assets = append(v.Assets, AssetView{Name: r.Name(), Ref: r})
	}
	return v
}

// Ref returns the live display reference for the named asset, or nil.
func (s *Session) Ref(name string) *display.Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.refs {
		if r.Name() == name {
			return r
		}
	}
	return nil
}

// Close tears the session down, revoking every live display reference.
func (s *Session) Close() {
	s.mu.Lock()
	s.epoch++
	s.current = nil
	s.refs = nil
	s.mu.Unlock()
	s.displays.RevokeAll()
}

// begin claims the single operation slot. Reports false when an operation
// is already in flight.
func (s *Session) begin() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		metrics.RecordBusyRejection()
		return 0, false
	}
	s.busy = true
	s.errMsg = ""
	s.nameErr = ""
	return s.epoch, true
}

func (s *Session) end() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// install makes p the current profile and recomputes its listing, unless
// the session was switched while the operation ran.
func (s *Session) install(ctx context.Context, epoch uint64, p *profile.Profile, eventType string) {
	assets := s.store.ListAssets(ctx, p)

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		logging.Debug("profile switched mid-operation, discarding result",
			zap.String("profile", p.Name()))
		return
	}
	s.current = p
	s.refs = s.displays.Materialize(assets)
	s.mu.Unlock()

	s.watchAssets(ctx, p)
	s.publish(events.Event{Type: eventType, Profile: p.Name()})
	s.publish(events.Event{
		Type:    events.EventListingRefreshed,
		Profile: p.Name(),
		Count:   len(assets),
	})
	logging.Info("profile ready",
		zap.String("profile", p.Name()),
		zap.Int("assets", len(assets)))
}

// refreshListing recomputes the full listing from storage rather than
// patching it incrementally, so the view never shows content that is not
// actually persisted.
func (s *Session) refreshListing(ctx context.Context, epoch uint64, p *profile.Profile) {
	assets := s.store.ListAssets(ctx, p)

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.refs = s.displays.Materialize(assets)
	s.mu.Unlock()

	s.publish(events.Event{
		Type:    events.EventListingRefreshed,
		Profile: p.Name(),
		Count:   len(assets),
	})
}

func (s *Session) watchAssets(ctx context.Context, p *profile.Profile) {
	if s.watch == nil {
		return
	}
	sub, err := p.Root().GetOrCreateChild(ctx, profile.BaselineDirName)
	if err != nil {
		logging.Debug("asset sub-store not watchable", zap.Error(err))
		return
	}
	s.watch.WatchDirectory(p.Name(), sub)
}

// fail converts a storage failure into the presentation taxonomy.
// Returns the error the API boundary should see (nil for cancellations).
func (s *Session) fail(op string, err error) error {
	switch {
	case errors.Is(err, capability.ErrUserCancelled):
		logging.Debug("selection cancelled", zap.String("op", op))
		return nil
	case errors.Is(err, profile.ErrInvalidName):
		s.mu.Lock()
		s.nameErr = "Profile name must not be empty."
		s.mu.Unlock()
		return err
	default:
		logging.Error("storage operation failed",
			zap.String("op", op),
			zap.Error(err))
		s.mu.Lock()
		s.errMsg = genericRetryMessage
		s.mu.Unlock()
		return err
	}
}

func (s *Session) publish(e events.Event) {
	if s.broadcaster != nil {
		s.broadcaster.Publish(e)
	}
}
