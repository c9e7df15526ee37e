package storage

import (
	"database/sql"
	"time"

	"github.com/repeerv3/trust-node/internal/trust"
)

// AddExperience inserts a new experience (§4.1 add_experience).
func (s *Storage) AddExperience(exp trust.Experience) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO experiences (id, id_domain, agent_id, pv_roi, invested_volume, timestamp, notes, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		exp.ID, exp.Agent.IDDomain, exp.Agent.AgentID, exp.PVROI, exp.InvestedVolume,
		exp.Timestamp.Unix(), exp.Notes, exp.Data,
	)
	return err
}

// GetExperiences returns every experience for the given agent, newest first
// (§4.1 get_experiences).
func (s *Storage) GetExperiences(agent trust.AgentIdentifier) ([]trust.Experience, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, id_domain, agent_id, pv_roi, invested_volume, timestamp, notes, data
		 FROM experiences WHERE id_domain = ? AND agent_id = ? ORDER BY timestamp DESC`,
		agent.IDDomain, agent.AgentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanExperienceRows(rows)
}

// GetAllExperiences returns every experience in the store, newest first
// (§4.1 get_all_experiences).
func (s *Storage) GetAllExperiences() ([]trust.Experience, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, id_domain, agent_id, pv_roi, invested_volume, timestamp, notes, data
		 FROM experiences ORDER BY timestamp DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanExperienceRows(rows)
}

// RemoveExperience deletes an experience by id. Absent ids are a no-op
// (§4.1 remove_experience).
func (s *Storage) RemoveExperience(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM experiences WHERE id = ?`, id)
	return err
}

// ClearExperiences deletes every experience (§4.1 clear_experiences).
func (s *Storage) ClearExperiences() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM experiences`)
	return err
}

func scanExperienceRows(rows *sql.Rows) ([]trust.Experience, error) {
	var out []trust.Experience
	for rows.Next() {
		var exp trust.Experience
		var ts int64
		var notes sql.NullString
		var data []byte

		if err := rows.Scan(&exp.ID, &exp.Agent.IDDomain, &exp.Agent.AgentID, &exp.PVROI,
			&exp.InvestedVolume, &ts, &notes, &data); err != nil {
			return nil, err
		}
		exp.Timestamp = time.Unix(ts, 0).UTC()
		exp.Notes = notes.String
		exp.Data = data
		out = append(out, exp)
	}
	return out, rows.Err()
}
