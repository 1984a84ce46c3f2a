package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/baselight/baselight/internal/capability"
	"github.com/baselight/baselight/internal/display"
	"github.com/baselight/baselight/internal/events"
	"github.com/baselight/baselight/internal/profile"
)

// memPicker is an in-memory capability backend. A non-nil gate makes picks
// block until the gate closes, which lets tests hold an operation in flight.
type memPicker struct {
	mu    sync.Mutex
	root  *memDir
	picks int
	err   error
	gate  chan struct{}
}

func newMemPicker() *memPicker {
	return &memPicker{root: newMemDir("root")}
}

func (p *memPicker) Supported() bool { return true }

func (p *memPicker) Backend() string { return "mem" }

func (p *memPicker) PickDirectory(_ context.Context, hint string) (capability.Directory, error) {
	p.mu.Lock()
	p.picks++
	gate := p.gate
	err := p.err
	p.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(hint) == "" {
		return nil, capability.ErrUserCancelled
	}
	return p.root.child(hint), nil
}

func (p *memPicker) pickCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.picks
}

type memDir struct {
	mu    sync.Mutex
	name  string
	dirs  map[string]*memDir
	files map[string]*memFile
}

func newMemDir(name string) *memDir {
	return &memDir{
		name:  name,
		dirs:  make(map[string]*memDir),
		files: make(map[string]*memFile),
	}
}

func (d *memDir) child(name string) *memDir {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.dirs[name]; ok {
		return c
	}
	c := newMemDir(name)
	d.dirs[name] = c
	return c
}

func (d *memDir) Name() string { return d.name }

func (d *memDir) GetOrCreateChild(_ context.Context, name string) (capability.Directory, error) {
	return d.child(name), nil
}

func (d *memDir) ListEntries(_ context.Context) ([]capability.Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries := make([]capability.Entry, 0, len(d.dirs)+len(d.files))
	for _, c := range d.dirs {
		entries = append(entries, &memEntry{dir: c})
	}
	for _, f := range d.files {
		entries = append(entries, &memEntry{file: f})
	}
	return entries, nil
}

func (d *memDir) GetOrCreateFile(_ context.Context, name string) (capability.File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f, ok := d.files[name]; ok {
		return f, nil
	}
	f := &memFile{name: name}
	d.files[name] = f
	return f, nil
}

type memEntry struct {
	dir  *memDir
	file *memFile
}

func (e *memEntry) Name() string {
	if e.dir != nil {
		return e.dir.name
	}
	return e.file.name
}

func (e *memEntry) Kind() capability.EntryKind {
	if e.dir != nil {
		return capability.EntryDirectory
	}
	return capability.EntryFile
}

func (e *memEntry) AsFile() (capability.File, error) {
	if e.file == nil {
		return nil, errors.New("not a file")
	}
	return e.file, nil
}

func (e *memEntry) AsDirectory() (capability.Directory, error) {
	if e.dir == nil {
		return nil, errors.New("not a directory")
	}
	return e.dir, nil
}

type memFile struct {
	mu   sync.Mutex
	name string
	data []byte
}

func (f *memFile) Name() string { return f.name }

func (f *memFile) OpenWriter(_ context.Context) (io.WriteCloser, error) {
	return &memSink{file: f}, nil
}

func (f *memFile) Read(_ context.Context) (capability.Content, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data := make([]byte, len(f.data))
	copy(data, f.data)
	return capability.Content{
		Name:     f.name,
		Size:     int64(len(data)),
		MIMEType: "application/octet-stream",
		Bytes:    data,
	}, nil
}

type memSink struct {
	file *memFile
	buf  []byte
}

func (s *memSink) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}

func (s *memSink) Close() error {
	s.file.mu.Lock()
	s.file.data = s.buf
	s.file.mu.Unlock()
	return nil
}

func seedAsset(p *memPicker, profileName, assetName string, content []byte) {
	sub := p.root.child(profileName).child(profile.BaselineDirName)
	f, _ := sub.GetOrCreateFile(context.Background(), assetName)
	w, _ := f.OpenWriter(context.Background())
	w.Write(content)
	w.Close()
}

func newTestSession(p capability.Picker) *Session {
	return New(profile.NewStore(p), display.NewManager(), events.NewBroadcaster(), nil, 3)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOpenProfileInstallsListing(t *testing.T) {
	picker := newMemPicker()
	seedAsset(picker, "alice", "a.png", []byte("payload"))
	s := newTestSession(picker)
	defer s.Close()

	if err := s.OpenProfile(context.Background(), "alice"); err != nil {
		t.Fatalf("OpenProfile: %v", err)
	}

	v := s.View()
	if v.ProfileName != "alice" {
		t.Fatalf("profile = %q, want alice", v.ProfileName)
	}
	if len(v.Assets) != 1 || v.Assets[0].Name != "a.png" {
		t.Fatalf("assets = %+v, want [a.png]", v.Assets)
	}
	if _, err := v.Assets[0].Ref.Payload(); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if v.Busy || v.ErrorMessage != "" || v.NameError != "" {
		t.Fatalf("unexpected view flags: %+v", v)
	}
}

func TestOpenProfileCancelledIsSwallowed(t *testing.T) {
	picker := newMemPicker()
	s := newTestSession(picker)
	defer s.Close()

	if err := s.OpenProfile(context.Background(), ""); err != nil {
		t.Fatalf("cancelled pick must not surface: %v", err)
	}
	v := s.View()
	if v.ProfileName != "" || v.ErrorMessage != "" {
		t.Fatalf("cancelled pick changed state: %+v", v)
	}
}

func TestCreateProfileInvalidNameIsInline(t *testing.T) {
	picker := newMemPicker()
	s := newTestSession(picker)
	defer s.Close()

	err := s.CreateProfile(context.Background(), "homes", "   ")
	if !errors.Is(err, profile.ErrInvalidName) {
		t.Fatalf("err = %v, want ErrInvalidName", err)
	}
	v := s.View()
	if v.NameError == "" {
		t.Fatal("name error not set")
	}
	if v.ErrorMessage != "" {
		t.Fatal("invalid name must not raise the generic error")
	}
	if picker.pickCount() != 0 {
		t.Fatal("invalid name must not reach the picker")
	}
}

func TestCreateProfileOpensNamedChild(t *testing.T) {
	picker := newMemPicker()
	s := newTestSession(picker)
	defer s.Close()

	if err := s.CreateProfile(context.Background(), "homes", "alice"); err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	if v := s.View(); v.ProfileName != "alice" {
		t.Fatalf("profile = %q, want alice", v.ProfileName)
	}
}

func TestBusyGuardRejectsSecondCommand(t *testing.T) {
	picker := newMemPicker()
	gate := make(chan struct{})
	picker.gate = gate
	s := newTestSession(picker)
	defer s.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- s.OpenProfile(context.Background(), "alice") }()

	waitFor(t, "busy flag", func() bool { return s.View().Busy })

	if err := s.OpenProfile(context.Background(), "bob"); !errors.Is(err, ErrBusy) {
		t.Fatalf("second command err = %v, want ErrBusy", err)
	}

	close(gate)
	if err := <-errCh; err != nil {
		t.Fatalf("first command: %v", err)
	}
	// The rejected command was a no-op, not queued.
	if v := s.View(); v.ProfileName != "alice" {
		t.Fatalf("profile = %q, want alice", v.ProfileName)
	}
}

func TestSaveAssetsRequiresProfile(t *testing.T) {
	s := newTestSession(newMemPicker())
	defer s.Close()

	err := s.SaveAssets(context.Background(), []profile.FileUpload{
		{Name: "a.png", Content: []byte("x")},
	})
	if !errors.Is(err, ErrNoProfile) {
		t.Fatalf("err = %v, want ErrNoProfile", err)
	}
}

func TestSaveAssetsRefreshesListing(t *testing.T) {
	s := newTestSession(newMemPicker())
	defer s.Close()
	ctx := context.Background()

	if err := s.OpenProfile(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveAssets(ctx, []profile.FileUpload{
		{Name: "a.png", Content: []byte("a")},
		{Name: "b.png", Content: []byte("b")},
	}); err != nil {
		t.Fatalf("SaveAssets: %v", err)
	}

	v := s.View()
	if len(v.Assets) != 2 {
		t.Fatalf("got %d assets, want 2", len(v.Assets))
	}
}

func TestSaveAssetsTruncatesToLimit(t *testing.T) {
	s := newTestSession(newMemPicker())
	defer s.Close()
	ctx := context.Background()

	if err := s.OpenProfile(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	files := make([]profile.FileUpload, 5)
	for i := range files {
		files[i] = profile.FileUpload{Name: string(rune('a'+i)) + ".png", Content: []byte{byte(i)}}
	}
	if err := s.SaveAssets(ctx, files); err != nil {
		t.Fatal(err)
	}
	if v := s.View(); len(v.Assets) != 3 {
		t.Fatalf("got %d assets, want 3 (session limit)", len(v.Assets))
	}
}

func TestSwitchProfileResetsEverything(t *testing.T) {
	picker := newMemPicker()
	seedAsset(picker, "alice", "a.png", []byte("payload"))
	s := newTestSession(picker)
	defer s.Close()

	if err := s.OpenProfile(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	ref := s.Ref("a.png")
	if ref == nil {
		t.Fatal("expected a live ref before switch")
	}

	s.SwitchProfile()

	v := s.View()
	if v.ProfileName != "" || len(v.Assets) != 0 {
		t.Fatalf("state not cleared: %+v", v)
	}
	if v.ErrorMessage != "" || v.NameError != "" {
		t.Fatalf("errors not cleared: %+v", v)
	}
	if _, err := ref.Payload(); !errors.Is(err, display.ErrRevoked) {
		t.Fatalf("ref payload err = %v, want ErrRevoked", err)
	}
	if s.Ref("a.png") != nil {
		t.Fatal("ref still resolvable after switch")
	}
}

func TestSwitchProfileDiscardsInFlightResult(t *testing.T) {
	picker := newMemPicker()
	gate := make(chan struct{})
	picker.gate = gate
	s := newTestSession(picker)
	defer s.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- s.OpenProfile(context.Background(), "alice") }()
	waitFor(t, "busy flag", func() bool { return s.View().Busy })

	s.SwitchProfile()
	close(gate)
	if err := <-errCh; err != nil {
		t.Fatalf("in-flight open: %v", err)
	}

	if v := s.View(); v.ProfileName != "" {
		t.Fatalf("discarded open still installed profile %q", v.ProfileName)
	}
}

func TestUnknownFailureShowsGenericMessage(t *testing.T) {
	picker := newMemPicker()
	picker.err = errors.New("disk exploded")
	s := newTestSession(picker)
	defer s.Close()

	err := s.OpenProfile(context.Background(), "alice")
	if err == nil {
		t.Fatal("expected error")
	}
	v := s.View()
	if v.ErrorMessage != genericRetryMessage {
		t.Fatalf("error message = %q, want the generic retry message", v.ErrorMessage)
	}
	if strings.Contains(v.ErrorMessage, "disk exploded") {
		t.Fatal("raw failure detail leaked into the view")
	}
}

func TestErrorClearedOnNextCommand(t *testing.T) {
	picker := newMemPicker()
	picker.err = errors.New("transient")
	s := newTestSession(picker)
	defer s.Close()

	if err := s.OpenProfile(context.Background(), "alice"); err == nil {
		t.Fatal("expected error")
	}
	picker.mu.Lock()
	picker.err = nil
	picker.mu.Unlock()

	if err := s.OpenProfile(context.Background(), "alice"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if v := s.View(); v.ErrorMessage != "" {
		t.Fatalf("stale error message: %q", v.ErrorMessage)
	}
}

func TestUnsupportedHostDisablesCommands(t *testing.T) {
	s := newTestSession(capability.UnsupportedPicker("test host"))
	defer s.Close()

	v := s.View()
	if v.Supported {
		t.Fatal("Supported = true, want false")
	}
	if v.ErrorMessage != unsupportedMessage {
		t.Fatalf("error message = %q, want the unsupported warning", v.ErrorMessage)
	}

	if err := s.OpenProfile(context.Background(), "alice"); !errors.Is(err, capability.ErrPlatformUnsupported) {
		t.Fatalf("OpenProfile err = %v", err)
	}
	if err := s.CreateProfile(context.Background(), "h", "alice"); !errors.Is(err, capability.ErrPlatformUnsupported) {
		t.Fatalf("CreateProfile err = %v", err)
	}
	if err := s.SaveAssets(context.Background(), nil); !errors.Is(err, capability.ErrPlatformUnsupported) {
		t.Fatalf("SaveAssets err = %v", err)
	}
}
