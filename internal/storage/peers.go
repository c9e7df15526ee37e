package storage

import (
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/repeerv3/trust-node/internal/trust"
)

// ErrPeerConflict is returned by AddPeer when peer_handle is already
// registered (§4.1 add_peer, §7 Conflict).
var ErrPeerConflict = errors.New("storage: peer handle already registered")

// AddPeer inserts a new peer entry. A duplicate peer_handle fails with
// ErrPeerConflict rather than upserting (§4.1 add_peer).
func (s *Storage) AddPeer(peer trust.PeerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO peers (peer_handle, display_name, recommender_quality, added_at)
		 VALUES (?, ?, ?, ?)`,
		peer.PeerHandle, peer.DisplayName, peer.RecommenderQuality, peer.AddedAt.Unix(),
	)
	if isUniqueConstraintErr(err) {
		return ErrPeerConflict
	}
	return err
}

// GetPeers returns every registered peer.
func (s *Storage) GetPeers() ([]trust.PeerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT peer_handle, display_name, recommender_quality, added_at FROM peers ORDER BY added_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trust.PeerEntry
	for rows.Next() {
		var p trust.PeerEntry
		var addedAt int64
		if err := rows.Scan(&p.PeerHandle, &p.DisplayName, &p.RecommenderQuality, &addedAt); err != nil {
			return nil, err
		}
		p.AddedAt = time.Unix(addedAt, 0).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdatePeerQuality sets a peer's recommender quality. Unknown handles are a
// no-op (§4.1 update_peer_quality).
func (s *Storage) UpdatePeerQuality(peerHandle string, quality float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE peers SET recommender_quality = ? WHERE peer_handle = ?`, quality, peerHandle)
	return err
}

// RemovePeer deletes a peer entry. Absent handles are a no-op.
func (s *Storage) RemovePeer(peerHandle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM peers WHERE peer_handle = ?`, peerHandle)
	return err
}

// ClearPeers deletes every peer entry.
func (s *Storage) ClearPeers() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM peers`)
	return err
}

func isUniqueConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
