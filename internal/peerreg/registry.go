// Package peerreg implements the Peer Registry (§4.4): the in-memory set of
// trust peers a node knows about, backed by the Durable Store.
package peerreg

import (
	"errors"
	"sync"
	"time"

	"github.com/repeerv3/trust-node/internal/storage"
	"github.com/repeerv3/trust-node/internal/trust"
)

// ErrNotFound is returned when an operation names a peer_handle the
// registry does not know about.
var ErrNotFound = errors.New("peerreg: peer not found")

// Store is the subset of the Durable Store the registry needs, narrowed so
// it can be faked in tests.
type Store interface {
	AddPeer(peer trust.PeerEntry) error
	GetPeers() ([]trust.PeerEntry, error)
	UpdatePeerQuality(peerHandle string, quality float64) error
	RemovePeer(peerHandle string) error
	ClearPeers() error
}

// Registry holds the node's known peers in memory, primed from and kept in
// sync with the Durable Store. Per §5, it is owned exclusively by the
// Network Actor and must not be accessed concurrently from other
// goroutines.
type Registry struct {
	store Store

	mu    sync.RWMutex
	peers map[string]trust.PeerEntry
}

// New creates a Registry backed by store. Call Load to prime it from disk.
func New(store Store) *Registry {
	return &Registry{
		store: store,
		peers: make(map[string]trust.PeerEntry),
	}
}

// Load replaces the in-memory peer set with what is currently persisted.
func (r *Registry) Load() error {
	peers, err := r.store.GetPeers()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers = make(map[string]trust.PeerEntry, len(peers))
	for _, p := range peers {
		r.peers[p.PeerHandle] = p
	}
	return nil
}

// Add registers a new peer (§4.4 add_peer). A duplicate peer_handle returns
// storage.ErrPeerConflict.
func (r *Registry) Add(peer trust.PeerEntry) error {
	if err := r.store.AddPeer(peer); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[peer.PeerHandle] = peer
	return nil
}

// Remove deregisters a peer (§4.4 remove_peer). Unknown handles are a no-op.
func (r *Registry) Remove(peerHandle string) error {
	if err := r.store.RemovePeer(peerHandle); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, peerHandle)
	return nil
}

// UpdateQuality sets a peer's recommender quality in [-1, 1] (§4.4
// update_peer_quality). Unknown handles return ErrNotFound.
func (r *Registry) UpdateQuality(peerHandle string, quality float64) error {
	r.mu.Lock()
	peer, ok := r.peers[peerHandle]
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	if err := r.store.UpdatePeerQuality(peerHandle, quality); err != nil {
		return err
	}

	r.mu.Lock()
	peer.RecommenderQuality = quality
	r.peers[peerHandle] = peer
	r.mu.Unlock()
	return nil
}

// Get returns the peer registered under handle, if any.
func (r *Registry) Get(peerHandle string) (trust.PeerEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[peerHandle]
	return p, ok
}

// List returns every known peer, in no particular order.
func (r *Registry) List() []trust.PeerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]trust.PeerEntry, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// Clear deregisters every peer (§4.4 clear_peers).
func (r *Registry) Clear() error {
	if err := r.store.ClearPeers(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers = make(map[string]trust.PeerEntry)
	return nil
}

// Count returns the number of known peers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// EnsureAdded registers peerHandle if absent, leaving its entry untouched
// otherwise. Used when a peer address arrives out of band (e.g. via
// discovery) and should be remembered without overwriting a quality score a
// person has already set.
func (r *Registry) EnsureAdded(peerHandle, displayName string, now time.Time) error {
	if _, ok := r.Get(peerHandle); ok {
		return nil
	}

	err := r.Add(trust.PeerEntry{
		PeerHandle:         peerHandle,
		DisplayName:        displayName,
		RecommenderQuality: 0,
		AddedAt:            now,
	})
	if errors.Is(err, storage.ErrPeerConflict) {
		return nil
	}
	return err
}
