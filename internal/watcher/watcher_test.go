package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/baselight/baselight/internal/capability"
	"github.com/baselight/baselight/internal/capability/osfs"
	"github.com/baselight/baselight/internal/events"
)

func TestExternalChangePublished(t *testing.T) {
	base := t.TempDir()
	picker, err := osfs.New(osfs.Config{BaseDir: base, CreateDirs: true})
	if err != nil {
		t.Fatal(err)
	}
	dir, err := picker.PickDirectory(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}

	broadcaster := events.NewBroadcaster()
	ch := broadcaster.Subscribe()
	defer broadcaster.Unsubscribe(ch)

	w, err := New(broadcaster)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	w.WatchDirectory("alice", dir)

	// An edit made outside the application.
	target := filepath.Join(base, "alice", "external.png")
	if err := os.WriteFile(target, []byte("outside edit"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type != events.EventExternalChange {
				continue
			}
			if ev.Profile != "alice" {
				t.Fatalf("event profile = %q, want alice", ev.Profile)
			}
			return
		case <-deadline:
			t.Fatal("no external change event received")
		}
	}
}

func TestUnwatchStopsEvents(t *testing.T) {
	base := t.TempDir()
	picker, err := osfs.New(osfs.Config{BaseDir: base, CreateDirs: true})
	if err != nil {
		t.Fatal(err)
	}
	dir, err := picker.PickDirectory(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}

	broadcaster := events.NewBroadcaster()
	ch := broadcaster.Subscribe()
	defer broadcaster.Unsubscribe(ch)

	w, err := New(broadcaster)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	w.WatchDirectory("alice", dir)
	w.Unwatch()

	if err := os.WriteFile(filepath.Join(base, "alice", "quiet.png"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-ch:
		if ev.Type == events.EventExternalChange {
			t.Fatal("event received after Unwatch")
		}
	case <-time.After(500 * time.Millisecond):
	}
}

// unpathedDir is a directory capability without a filesystem path, like the
// S3 backend's directories.
type unpathedDir struct{}

func (unpathedDir) Name() string { return "remote" }

func (unpathedDir) GetOrCreateChild(context.Context, string) (capability.Directory, error) {
	return unpathedDir{}, nil
}

func (unpathedDir) ListEntries(context.Context) ([]capability.Entry, error) {
	return nil, nil
}

func (unpathedDir) GetOrCreateFile(context.Context, string) (capability.File, error) {
	return nil, nil
}

func TestWatchSkipsUnpathedCapability(t *testing.T) {
	broadcaster := events.NewBroadcaster()
	w, err := New(broadcaster)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	// Must not panic or start watching anything.
	w.WatchDirectory("remote", unpathedDir{})

	w.mu.Lock()
	watched := w.watched
	w.mu.Unlock()
	if watched != "" {
		t.Fatalf("watched = %q, want empty", watched)
	}
}
