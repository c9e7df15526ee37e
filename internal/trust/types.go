// Package trust holds the score primitive, the fusion arithmetic, and the
// local score engine derived from a node's own experience ledger.
package trust

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidVolume is returned when an experience's invested volume is not
// strictly positive.
var ErrInvalidVolume = errors.New("trust: invested_volume must be > 0")

// ErrInvalidIdentifier is returned when an agent identifier has an empty field.
var ErrInvalidIdentifier = errors.New("trust: id_domain and agent_id must be non-empty")

// AgentIdentifier names the entity a score or experience is about.
type AgentIdentifier struct {
	IDDomain string `json:"id_domain"`
	AgentID  string `json:"agent_id"`
}

// Key returns a value usable as a map key for this identifier.
func (a AgentIdentifier) Key() AgentIdentifier {
	return AgentIdentifier{IDDomain: a.IDDomain, AgentID: a.AgentID}
}

func (a AgentIdentifier) valid() bool {
	return a.IDDomain != "" && a.AgentID != ""
}

// Experience is a concluded first-hand interaction with an agent.
type Experience struct {
	ID             string          `json:"id"`
	Agent          AgentIdentifier `json:"agent"`
	PVROI          float64         `json:"pv_roi"`
	InvestedVolume float64         `json:"invested_volume"`
	Timestamp      time.Time       `json:"timestamp"`
	Notes          string          `json:"notes,omitempty"`
	Data           []byte          `json:"data,omitempty"` // opaque JSON, passed through unchanged
}

// NewExperience validates and stamps a new Experience with a fresh ID.
func NewExperience(agent AgentIdentifier, pvROI, investedVolume float64, timestamp time.Time, notes string, data []byte) (Experience, error) {
	if !agent.valid() {
		return Experience{}, ErrInvalidIdentifier
	}
	if investedVolume <= 0 {
		return Experience{}, ErrInvalidVolume
	}
	return Experience{
		ID:             uuid.NewString(),
		Agent:          agent,
		PVROI:          pvROI,
		InvestedVolume: investedVolume,
		Timestamp:      timestamp,
		Notes:          notes,
		Data:           data,
	}, nil
}

// AgedVolume returns the experience's invested volume discounted by linear
// age decay at rate forgetRate (per year), evaluated at pointInTime.
func (e Experience) AgedVolume(pointInTime time.Time, forgetRate float64) float64 {
	yearsElapsed := pointInTime.Sub(e.Timestamp).Hours() / 24 / 365
	ageFactor := 1 - absFloat(yearsElapsed)*forgetRate
	if ageFactor < 0 {
		ageFactor = 0
	}
	return e.InvestedVolume * ageFactor
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// Score is the neutral value type: a volume-weighted present-value ROI.
// The zero value is NOT the neutral default — use Neutral().
type Score struct {
	ExpectedPVROI float64 `json:"expected_pv_roi"`
	TotalVolume   float64 `json:"total_volume"`
	DataPoints    int     `json:"data_points"`
}

// Neutral is "no information, assume break-even".
func Neutral() Score {
	return Score{ExpectedPVROI: 1.0, TotalVolume: 0, DataPoints: 0}
}

// HasData reports whether the score is backed by any real contribution.
func (s Score) HasData() bool {
	return s.DataPoints > 0 && s.TotalVolume > 0
}

// AgentScore pairs an identifier with the score computed for it.
type AgentScore struct {
	Agent AgentIdentifier `json:"agent"`
	Score Score           `json:"score"`
}

// PeerEntry is a registered trust peer.
type PeerEntry struct {
	PeerHandle         string    `json:"peer_handle"`
	DisplayName        string    `json:"display_name"`
	RecommenderQuality float64   `json:"recommender_quality"`
	AddedAt            time.Time `json:"added_at"`
}

// CachedScore is a peer-sourced opinion cached locally, keyed on (agent, from_peer).
type CachedScore struct {
	Agent    AgentIdentifier `json:"agent"`
	Score    Score           `json:"score"`
	FromPeer string          `json:"from_peer"`
	CachedAt time.Time       `json:"cached_at"`
}

// DataExport is the versioned export/import document (§6).
type DataExport struct {
	Version     string       `json:"version"`
	ExportedAt  time.Time    `json:"exported_at"`
	Experiences []Experience `json:"experiences"`
	Peers       []PeerEntry  `json:"peers"`
}

const exportVersion = "1.0"

// NewDataExport builds an export document stamped with the current version.
func NewDataExport(experiences []Experience, peers []PeerEntry, now time.Time) DataExport {
	return DataExport{
		Version:     exportVersion,
		ExportedAt:  now,
		Experiences: experiences,
		Peers:       peers,
	}
}
