package trust

import (
	"math"
	"testing"
)

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestMergeEmpty(t *testing.T) {
	got := Merge(nil)
	want := Neutral()
	if got != want {
		t.Errorf("Merge(nil) = %+v, want %+v", got, want)
	}
}

func TestMergeOrderIndependent(t *testing.T) {
	contribs := []Contribution{
		{Source: "self", Score: Score{ExpectedPVROI: 0.5, TotalVolume: 50, DataPoints: 1}, Weight: 1.0},
		{Source: "peerA", Score: Score{ExpectedPVROI: 0.9, TotalVolume: 150, DataPoints: 2}, Weight: 1.0},
		{Source: "peerB", Score: Score{ExpectedPVROI: 0.3, TotalVolume: 100, DataPoints: 1}, Weight: -0.4},
	}

	want := Merge(contribs)

	reversed := []Contribution{contribs[2], contribs[0], contribs[1]}
	got := Merge(reversed)

	if !approxEqual(got.ExpectedPVROI, want.ExpectedPVROI, 1e-9) {
		t.Errorf("ExpectedPVROI = %v, want %v", got.ExpectedPVROI, want.ExpectedPVROI)
	}
	if !approxEqual(got.TotalVolume, want.TotalVolume, 1e-9) {
		t.Errorf("TotalVolume = %v, want %v", got.TotalVolume, want.TotalVolume)
	}
	if got.DataPoints != want.DataPoints {
		t.Errorf("DataPoints = %v, want %v", got.DataPoints, want.DataPoints)
	}
}

func TestMergeSignedWeightReflection(t *testing.T) {
	s := Score{ExpectedPVROI: 0.6, TotalVolume: 1000, DataPoints: 3}

	positive := Merge([]Contribution{{Score: s, Weight: 0.5}})

	reflected := Score{ExpectedPVROI: 2 - s.ExpectedPVROI, TotalVolume: s.TotalVolume, DataPoints: s.DataPoints}
	negative := Merge([]Contribution{{Score: reflected, Weight: -0.5}})

	if !approxEqual(positive.ExpectedPVROI, negative.ExpectedPVROI, 1e-9) {
		t.Errorf("positive.ExpectedPVROI = %v, want agreement with reflected negative %v", positive.ExpectedPVROI, negative.ExpectedPVROI)
	}
}

func TestMergeZeroQualityContributesNothing(t *testing.T) {
	contribs := []Contribution{
		{Score: Score{ExpectedPVROI: 5.0, TotalVolume: 1_000_000, DataPoints: 99}, Weight: 0},
	}
	got := Merge(contribs)
	want := Neutral()
	if got != want {
		t.Errorf("Merge with zero weight = %+v, want neutral %+v", got, want)
	}
}

// S3 from spec §8: depth-1 fusion, no contrarian.
func TestScenarioS3NoContrarian(t *testing.T) {
	peerScore := Score{ExpectedPVROI: 1.2, TotalVolume: 1000, DataPoints: 3}
	got := Merge([]Contribution{{Source: "peers", Score: peerScore, Weight: 1.0}})

	if !approxEqual(got.ExpectedPVROI, 1.2, 1e-9) || got.TotalVolume != 1000 || got.DataPoints != 3 {
		t.Errorf("got %+v, want {1.2 1000 3}", got)
	}
}

// S4 from spec §8: contrarian peer.
func TestScenarioS4Contrarian(t *testing.T) {
	peerScore := Score{ExpectedPVROI: 0.6, TotalVolume: 1000, DataPoints: 3}
	got := Merge([]Contribution{{Source: "P", Score: peerScore, Weight: -0.5}})

	wantROI := 1.4
	wantVolume := 500.0
	if !approxEqual(got.ExpectedPVROI, wantROI, 1e-9) {
		t.Errorf("ExpectedPVROI = %v, want %v", got.ExpectedPVROI, wantROI)
	}
	if got.TotalVolume != wantVolume {
		t.Errorf("TotalVolume = %v, want %v", got.TotalVolume, wantVolume)
	}
	if got.DataPoints != 3 {
		t.Errorf("DataPoints = %v, want 3", got.DataPoints)
	}
}

func TestContributionTableResolveOmitsEmpty(t *testing.T) {
	table := NewContributionTable()
	agentWithData := AgentIdentifier{IDDomain: "x", AgentID: "a"}
	agentEmpty := AgentIdentifier{IDDomain: "x", AgentID: "b"}

	table.Add(agentWithData, Contribution{Score: Score{ExpectedPVROI: 1.1, TotalVolume: 10, DataPoints: 1}, Weight: 1.0})
	table[agentEmpty] = nil

	scores := table.Resolve()
	if len(scores) != 1 {
		t.Fatalf("len(scores) = %d, want 1", len(scores))
	}
	if scores[0].Agent != agentWithData {
		t.Errorf("resolved agent = %+v, want %+v", scores[0].Agent, agentWithData)
	}
}
