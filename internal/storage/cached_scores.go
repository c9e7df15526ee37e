package storage

import (
	"time"

	"github.com/repeerv3/trust-node/internal/trust"
)

// CacheTrustScore upserts a cached peer opinion on (agent, from_peer)
// (§4.1 cache_trust_score).
func (s *Storage) CacheTrustScore(cached trust.CachedScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO cached_scores (id_domain, agent_id, expected_pv_roi, total_volume, data_points, from_peer, cached_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id_domain, agent_id, from_peer) DO UPDATE SET
			expected_pv_roi = excluded.expected_pv_roi,
			total_volume = excluded.total_volume,
			data_points = excluded.data_points,
			cached_at = excluded.cached_at`,
		cached.Agent.IDDomain, cached.Agent.AgentID, cached.Score.ExpectedPVROI,
		cached.Score.TotalVolume, cached.Score.DataPoints, cached.FromPeer, cached.CachedAt.Unix(),
	)
	return err
}

// GetCachedScores returns every cached opinion for the given agent, newest
// first (§4.1 get_cached_scores).
func (s *Storage) GetCachedScores(agent trust.AgentIdentifier) ([]trust.CachedScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id_domain, agent_id, expected_pv_roi, total_volume, data_points, from_peer, cached_at
		 FROM cached_scores WHERE id_domain = ? AND agent_id = ? ORDER BY cached_at DESC`,
		agent.IDDomain, agent.AgentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trust.CachedScore
	for rows.Next() {
		var c trust.CachedScore
		var cachedAt int64
		if err := rows.Scan(&c.Agent.IDDomain, &c.Agent.AgentID, &c.Score.ExpectedPVROI,
			&c.Score.TotalVolume, &c.Score.DataPoints, &c.FromPeer, &cachedAt); err != nil {
			return nil, err
		}
		c.CachedAt = time.Unix(cachedAt, 0).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}
