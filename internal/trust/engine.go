package trust

import (
	"sync"
	"time"
)

// ExperienceReader is the subset of the Durable Store the Local Score Engine
// needs (§4.1 get_experiences).
type ExperienceReader interface {
	GetExperiences(agent AgentIdentifier) ([]Experience, error)
}

// Engine derives a volume-weighted local score from stored experiences,
// applying PV-ROI age decay (§4.3). It holds a bounded time-keyed cache;
// correctness never depends on the cache being warm or cold.
type Engine struct {
	store ExperienceReader

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
	ttl   time.Duration
}

type cacheKey struct {
	agent      AgentIdentifier
	pointEpoch int64
	forgetRate float64
}

type cacheEntry struct {
	score   Score
	cachedAt time.Time
}

// NewEngine builds a Local Score Engine. ttl <= 0 disables memoization.
func NewEngine(store ExperienceReader, ttl time.Duration) *Engine {
	return &Engine{
		store: store,
		cache: make(map[cacheKey]cacheEntry),
		ttl:   ttl,
	}
}

// Score computes the local score for agent at pointInTime with the given
// forget rate (§4.3). If the agent has no experiences, the neutral default
// is returned, never an error.
func (e *Engine) Score(agent AgentIdentifier, pointInTime time.Time, forgetRate float64) (Score, error) {
	key := cacheKey{agent: agent, pointEpoch: pointInTime.Unix(), forgetRate: forgetRate}

	if e.ttl > 0 {
		e.mu.Lock()
		if entry, ok := e.cache[key]; ok && time.Since(entry.cachedAt) < e.ttl {
			e.mu.Unlock()
			return entry.score, nil
		}
		e.mu.Unlock()
	}

	experiences, err := e.store.GetExperiences(agent)
	if err != nil {
		return Score{}, err
	}

	score := computeLocalScore(experiences, pointInTime, forgetRate)

	if e.ttl > 0 {
		e.mu.Lock()
		e.cache[key] = cacheEntry{score: score, cachedAt: time.Now()}
		e.mu.Unlock()
	}

	return score, nil
}

// Invalidate drops every cached entry. Call after any command that mutates
// the agent's experience set; the simplest correct implementation calls
// this after every AddExperience/RemoveExperience/ClearExperiences.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	e.cache = make(map[cacheKey]cacheEntry)
	e.mu.Unlock()
}

func computeLocalScore(experiences []Experience, pointInTime time.Time, forgetRate float64) Score {
	if len(experiences) == 0 {
		return Neutral()
	}

	var weightedROI, totalAgedVolume float64
	var count int

	for _, exp := range experiences {
		agedVolume := exp.AgedVolume(pointInTime, forgetRate)
		if agedVolume == 0 {
			continue
		}
		weightedROI += exp.PVROI * agedVolume
		totalAgedVolume += agedVolume
		count++
	}

	if totalAgedVolume == 0 {
		return Neutral()
	}

	return Score{
		ExpectedPVROI: weightedROI / totalAgedVolume,
		TotalVolume:   totalAgedVolume,
		DataPoints:    count,
	}
}
