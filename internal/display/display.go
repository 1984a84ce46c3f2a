// Package display manages ephemeral, revocable display references derived
// from stored assets. References are generation-tagged: each materialized
// listing gets a monotonic generation id, and the previous generation is
// revoked before the new one is handed out. No reference outlives the
// listing that produced it.
package display

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/baselight/baselight/internal/logging"
	"github.com/baselight/baselight/internal/metrics"
	"github.com/baselight/baselight/internal/profile"
)

// ErrRevoked is returned when a reference's payload is accessed after
// revocation.
var ErrRevoked = errors.New("display: reference revoked")

// Ref is a process-local, revocable handle permitting the presentation
// layer to render an asset's bytes without re-reading storage.
type Ref struct {
	id         string
	name       string
	mimeType   string
	generation uint64

	mu      sync.Mutex
	payload []byte
	revoked bool
}

// ID returns the reference's process-local identifier.
func (r *Ref) ID() string { return r.id }

// Name returns the asset name the reference renders.
func (r *Ref) Name() string { return r.name }

// MIMEType returns the payload's MIME type.
func (r *Ref) MIMEType() string { return r.mimeType }

// Generation returns the listing generation that produced the reference.
func (r *Ref) Generation() uint64 { return r.generation }

// Payload returns the render payload, or ErrRevoked once the reference's
// generation has been superseded.
func (r *Ref) Payload() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.revoked {
		return nil, ErrRevoked
	}
	return r.payload, nil
}

// revoke releases the payload. Reports whether this call performed the
// revocation, so each reference is counted exactly once.
func (r *Ref) revoke() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.revoked {
		return false
	}
	r.revoked = true
	r.payload = nil
	return true
}

// Manager owns the live reference set for the current listing.
type Manager struct {
	mu         sync.Mutex
	generation uint64
	live       []*Ref
}

// NewManager creates an empty display reference manager.
func NewManager() *Manager {
	return &Manager{}
}

// Materialize revokes the previous generation and issues one reference per
// asset under a fresh generation. The returned slice preserves input order.
func (m *Manager) Materialize(assets []profile.Asset) []*Ref {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.revokeLiveLocked()
	m.generation++

	refs := make([]*Ref, 0, len(assets))
	for i, a := range assets {
		payload, mimeType := renderPayload(a)
		refs = append(refs, &Ref{
			id:         fmt.Sprintf("disp-%d-%d", m.generation, i),
			name:       a.Name,
			mimeType:   mimeType,
			generation: m.generation,
			payload:    payload,
		})
	}
	m.live = refs
	metrics.SetDisplayRefsLive(len(refs))
	return refs
}

// RevokeAll revokes the current generation without issuing a new one.
// Called on profile switch and on teardown; safe to call repeatedly.
func (m *Manager) RevokeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokeLiveLocked()
	m.live = nil
	metrics.SetDisplayRefsLive(0)
}

// Live returns the number of live references.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Generation returns the current listing generation.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

func (m *Manager) revokeLiveLocked() {
	revoked := 0
	for _, r := range m.live {
		if r.revoke() {
			revoked++
		}
	}
	if revoked > 0 {
		metrics.RecordDisplayRefsRevoked(revoked)
		logging.Debug("revoked display references",
			zap.Int("count", revoked),
			zap.Uint64("generation", m.generation))
	}
}
