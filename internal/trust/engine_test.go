package trust

import (
	"math"
	"testing"
	"time"
)

type fakeReader struct {
	byAgent map[AgentIdentifier][]Experience
	calls   int
}

func (f *fakeReader) GetExperiences(agent AgentIdentifier) ([]Experience, error) {
	f.calls++
	return f.byAgent[agent], nil
}

func TestEngineEmptyAgentReturnsNeutral(t *testing.T) {
	reader := &fakeReader{byAgent: map[AgentIdentifier][]Experience{}}
	engine := NewEngine(reader, 0)

	got, err := engine.Score(AgentIdentifier{IDDomain: "x", AgentID: "a"}, time.Now(), 0)
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if got != Neutral() {
		t.Errorf("Score() = %+v, want neutral", got)
	}
}

// S1 from spec §8.
func TestScenarioS1TwoExperiences(t *testing.T) {
	now := time.Now()
	agent := AgentIdentifier{IDDomain: "x", AgentID: "a"}
	reader := &fakeReader{byAgent: map[AgentIdentifier][]Experience{
		agent: {
			{Agent: agent, PVROI: 1.2, InvestedVolume: 1000, Timestamp: now},
			{Agent: agent, PVROI: 0.8, InvestedVolume: 500, Timestamp: now},
		},
	}}
	engine := NewEngine(reader, 0)

	got, err := engine.Score(agent, now, 0)
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if math.Abs(got.ExpectedPVROI-1.0667) > 1e-3 {
		t.Errorf("ExpectedPVROI = %v, want ~1.0667", got.ExpectedPVROI)
	}
	if got.TotalVolume != 1500 {
		t.Errorf("TotalVolume = %v, want 1500", got.TotalVolume)
	}
	if got.DataPoints != 2 {
		t.Errorf("DataPoints = %v, want 2", got.DataPoints)
	}
}

// S2 from spec §8.
func TestScenarioS2WeightedDecay(t *testing.T) {
	now := time.Now()
	agent := AgentIdentifier{IDDomain: "x", AgentID: "a"}
	reader := &fakeReader{byAgent: map[AgentIdentifier][]Experience{
		agent: {
			{Agent: agent, PVROI: 0.5, InvestedVolume: 50, Timestamp: now},
			{Agent: agent, PVROI: 0.9, InvestedVolume: 150, Timestamp: now},
			{Agent: agent, PVROI: 0.3, InvestedVolume: 100, Timestamp: now},
		},
	}}
	engine := NewEngine(reader, 0)

	got, err := engine.Score(agent, now, 0.1)
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if math.Abs(got.ExpectedPVROI-(190.0/300.0)) > 1e-3 {
		t.Errorf("ExpectedPVROI = %v, want ~0.6333", got.ExpectedPVROI)
	}
	if got.TotalVolume != 300 {
		t.Errorf("TotalVolume = %v, want 300", got.TotalVolume)
	}
	if got.DataPoints != 3 {
		t.Errorf("DataPoints = %v, want 3", got.DataPoints)
	}
}

func TestEngineForgetRateDropsStaleExperience(t *testing.T) {
	now := time.Now()
	agent := AgentIdentifier{IDDomain: "x", AgentID: "a"}
	old := now.AddDate(-10, 0, 0)
	reader := &fakeReader{byAgent: map[AgentIdentifier][]Experience{
		agent: {{Agent: agent, PVROI: 2.0, InvestedVolume: 500, Timestamp: old}},
	}}
	engine := NewEngine(reader, 0)

	got, err := engine.Score(agent, now, 1.0) // forget_rate=1/yr kills anything older than a year
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if got != Neutral() {
		t.Errorf("Score() = %+v, want neutral after full decay", got)
	}
}

func TestEngineTotalVolumeMonotonicDecreaseWithForgetRate(t *testing.T) {
	now := time.Now()
	agent := AgentIdentifier{IDDomain: "x", AgentID: "a"}
	old := now.AddDate(-5, 0, 0)
	reader := &fakeReader{byAgent: map[AgentIdentifier][]Experience{
		agent: {{Agent: agent, PVROI: 1.0, InvestedVolume: 1000, Timestamp: old}},
	}}
	engine := NewEngine(reader, 0)

	prevVolume := math.Inf(1)
	for _, rate := range []float64{0.01, 0.05, 0.1, 0.5, 1.0} {
		got, err := engine.Score(agent, now, rate)
		if err != nil {
			t.Fatalf("Score() error = %v", err)
		}
		if got.TotalVolume > prevVolume {
			t.Errorf("TotalVolume increased at forget_rate=%v: %v > %v", rate, got.TotalVolume, prevVolume)
		}
		prevVolume = got.TotalVolume
	}
}

func TestEngineMemoizationServesFromCache(t *testing.T) {
	now := time.Now()
	agent := AgentIdentifier{IDDomain: "x", AgentID: "a"}
	reader := &fakeReader{byAgent: map[AgentIdentifier][]Experience{
		agent: {{Agent: agent, PVROI: 1.0, InvestedVolume: 100, Timestamp: now}},
	}}
	engine := NewEngine(reader, time.Minute)

	if _, err := engine.Score(agent, now, 0); err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if _, err := engine.Score(agent, now, 0); err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if reader.calls != 1 {
		t.Errorf("GetExperiences called %d times, want 1 (second call should hit cache)", reader.calls)
	}

	engine.Invalidate()
	if _, err := engine.Score(agent, now, 0); err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if reader.calls != 2 {
		t.Errorf("GetExperiences called %d times after Invalidate, want 2", reader.calls)
	}
}
