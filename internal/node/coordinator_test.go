package node

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/repeerv3/trust-node/internal/peerreg"
	"github.com/repeerv3/trust-node/internal/storage"
	"github.com/repeerv3/trust-node/internal/trust"
)

var errDial = errors.New("dial failed")

// newTestActor builds an Actor backed by real temp-dir storage and a real
// peer registry, but with no *Node at all: these tests drive the
// coordinator's fan-in machinery (handlePeerResponse/drainAndFinalize)
// directly rather than through startQueryTrust's peer-dial branch, which
// needs a live libp2p Host this harness deliberately has none of.
func newTestActor(t *testing.T) *Actor {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "trustnode-coordinator-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := storage.New(&storage.Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	registry := peerreg.New(store)
	if err := registry.Load(); err != nil {
		t.Fatalf("registry.Load() error = %v", err)
	}

	return &Actor{
		store:         store,
		registry:      registry,
		engine:        trust.NewEngine(store, 0),
		pending:       make(map[string]*pendingRequest),
		peerResponses: make(chan peerResponseEvent, 8),
	}
}

func mustAddPeer(t *testing.T, a *Actor, handle string, quality float64) {
	t.Helper()
	if err := a.registry.Add(trust.PeerEntry{
		PeerHandle:         handle,
		RecommenderQuality: quality,
		AddedAt:            time.Now(),
	}); err != nil {
		t.Fatalf("registry.Add(%s) error = %v", handle, err)
	}
}

var testAgent = trust.AgentIdentifier{IDDomain: "x", AgentID: "a"}

// newSinglePeerPending registers reqID against a pendingRequest waiting on
// exactly one peer, as startQueryTrust would after fanning out to a single
// known peer.
func newSinglePeerPending(a *Actor, reqID, peerHandle string) *pendingRequest {
	pr := &pendingRequest{
		agents:     []trust.AgentIdentifier{testAgent},
		maxDepth:   1,
		waitingFor: map[string]bool{peerHandle: true},
		table:      trust.NewContributionTable(),
		reply:      make(chan queryTrustResult, 1),
	}
	a.pending[reqID] = pr
	return pr
}

// TestScenarioS3DepthOneFusionNoContrarian covers §8 S3: a peer with
// recommender_quality 1.0 contributes its response at full weight.
func TestScenarioS3DepthOneFusionNoContrarian(t *testing.T) {
	a := newTestActor(t)
	mustAddPeer(t, a, "peerB", 1.0)

	pr := newSinglePeerPending(a, "req1", "peerB")

	a.handlePeerResponse(peerResponseEvent{
		requestID:  "req1",
		peerHandle: "peerB",
		resp: TrustResponse{
			Scores: []trust.AgentScore{
				{Agent: testAgent, Score: trust.Score{ExpectedPVROI: 1.2, TotalVolume: 1000, DataPoints: 3}},
			},
		},
	})

	res := <-pr.reply
	if res.err != nil {
		t.Fatalf("unexpected error: %v", res.err)
	}
	if len(res.scores) != 1 {
		t.Fatalf("expected 1 score, got %d", len(res.scores))
	}
	got := res.scores[0].Score
	if got.ExpectedPVROI != 1.2 || got.TotalVolume != 1000 || got.DataPoints != 3 {
		t.Errorf("got %+v, want {1.2 1000 3}", got)
	}
}

// TestScenarioS4ContrarianPeer covers §8 S4: a peer with negative
// recommender_quality has its ROI reflected around 1.0 and scaled by the
// magnitude of its quality.
func TestScenarioS4ContrarianPeer(t *testing.T) {
	a := newTestActor(t)
	mustAddPeer(t, a, "peerB", -0.5)

	pr := newSinglePeerPending(a, "req1", "peerB")

	a.handlePeerResponse(peerResponseEvent{
		requestID:  "req1",
		peerHandle: "peerB",
		resp: TrustResponse{
			Scores: []trust.AgentScore{
				{Agent: testAgent, Score: trust.Score{ExpectedPVROI: 0.6, TotalVolume: 1000, DataPoints: 3}},
			},
		},
	})

	res := <-pr.reply
	if res.err != nil {
		t.Fatalf("unexpected error: %v", res.err)
	}
	if len(res.scores) != 1 {
		t.Fatalf("expected 1 score, got %d", len(res.scores))
	}
	got := res.scores[0].Score
	if got.ExpectedPVROI != 1.4 || got.TotalVolume != 500 || got.DataPoints != 3 {
		t.Errorf("got %+v, want {1.4 500 3}", got)
	}
}

// TestScenarioS5PartialFailure covers §8 S5: of three fanned-out peers, two
// fail and one succeeds; the reply is the surviving peer's contribution
// alone, not an error.
func TestScenarioS5PartialFailure(t *testing.T) {
	a := newTestActor(t)
	mustAddPeer(t, a, "peerB", 1.0)
	mustAddPeer(t, a, "peerC", 1.0)
	mustAddPeer(t, a, "peerD", 1.0)

	pr := &pendingRequest{
		agents:     []trust.AgentIdentifier{testAgent},
		maxDepth:   1,
		waitingFor: map[string]bool{"peerB": true, "peerC": true, "peerD": true},
		table:      trust.NewContributionTable(),
		reply:      make(chan queryTrustResult, 1),
	}
	a.pending["req-b"] = pr
	a.pending["req-c"] = pr
	a.pending["req-d"] = pr

	a.handlePeerResponse(peerResponseEvent{requestID: "req-c", peerHandle: "peerC", err: errDial})
	a.handlePeerResponse(peerResponseEvent{requestID: "req-d", peerHandle: "peerD", err: errDial})
	a.handlePeerResponse(peerResponseEvent{
		requestID:  "req-b",
		peerHandle: "peerB",
		resp: TrustResponse{
			Scores: []trust.AgentScore{
				{Agent: testAgent, Score: trust.Score{ExpectedPVROI: 1.2, TotalVolume: 1000, DataPoints: 3}},
			},
		},
	})

	res := <-pr.reply
	if res.err != nil {
		t.Fatalf("unexpected error: %v", res.err)
	}
	if len(res.scores) != 1 {
		t.Fatalf("expected 1 score, got %d", len(res.scores))
	}
	got := res.scores[0].Score
	if got.ExpectedPVROI != 1.2 || got.TotalVolume != 1000 || got.DataPoints != 3 {
		t.Errorf("got %+v, want B's contribution alone {1.2 1000 3}", got)
	}
}

// TestDrainAndFinalizePurgesSiblingsByPointerEquality covers the
// pending-request sibling purge: every request ID sharing the same
// *pendingRequest pointer is removed from a.pending in one pass, even
// though only one of them triggered the finalize.
func TestDrainAndFinalizePurgesSiblingsByPointerEquality(t *testing.T) {
	a := newTestActor(t)

	pr := &pendingRequest{
		agents:     []trust.AgentIdentifier{testAgent},
		waitingFor: map[string]bool{},
		table:      trust.NewContributionTable(),
		reply:      make(chan queryTrustResult, 1),
	}
	other := &pendingRequest{
		agents:     []trust.AgentIdentifier{testAgent},
		waitingFor: map[string]bool{},
		table:      trust.NewContributionTable(),
		reply:      make(chan queryTrustResult, 1),
	}
	a.pending["req-1"] = pr
	a.pending["req-2"] = pr
	a.pending["req-3"] = other

	a.drainAndFinalize(pr)

	if _, ok := a.pending["req-1"]; ok {
		t.Error("req-1 should have been purged")
	}
	if _, ok := a.pending["req-2"]; ok {
		t.Error("req-2 should have been purged")
	}
	if _, ok := a.pending["req-3"]; !ok {
		t.Error("req-3 belongs to a different pendingRequest and should survive")
	}
	<-pr.reply // pr had no contributions, so finalizeQuery replied with ErrAllRequestsFailed
}

// TestDrainAndFinalizeGuardsAgainstDoubleSend covers the finalized flag: a
// fan-out timeout firing after the last peer response already finalized
// the request must not send a second time on the (already-drained) reply
// channel.
func TestDrainAndFinalizeGuardsAgainstDoubleSend(t *testing.T) {
	a := newTestActor(t)
	mustAddPeer(t, a, "peerB", 1.0)

	pr := newSinglePeerPending(a, "req1", "peerB")

	a.handlePeerResponse(peerResponseEvent{
		requestID:  "req1",
		peerHandle: "peerB",
		resp: TrustResponse{
			Scores: []trust.AgentScore{
				{Agent: testAgent, Score: trust.Score{ExpectedPVROI: 1.2, TotalVolume: 1000, DataPoints: 3}},
			},
		},
	})
	<-pr.reply // drains the single buffered slot

	// The fan-out timer firing after the request already finalized must be
	// a no-op: without the guard, finalizeQuery would send a second value
	// into the now-empty buffered slot, which the check below catches.
	done := make(chan struct{})
	go func() {
		a.drainAndFinalize(pr)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drainAndFinalize on an already-finalized request blocked, double-send guard failed")
	}

	select {
	case <-pr.reply:
		t.Fatal("reply channel received a second value")
	default:
	}
}

// TestStartQueryTrustSkipsFanoutAtZeroDepth covers §9 invariant 5: a query
// with max_depth = 0 never issues a sub-query, even when peers are known.
func TestStartQueryTrustSkipsFanoutAtZeroDepth(t *testing.T) {
	a := newTestActor(t)
	mustAddPeer(t, a, "peerB", 1.0)

	if err := a.store.AddExperience(mustExperience(t, testAgent, 1.1, 500)); err != nil {
		t.Fatalf("AddExperience() error = %v", err)
	}

	reply := make(chan queryTrustResult, 1)
	a.startQueryTrust(queryTrustCmd{
		agents:      []trust.AgentIdentifier{testAgent},
		pointInTime: time.Now(),
		maxDepth:    0,
		reply:       reply,
	})

	res := <-reply
	if res.err != nil {
		t.Fatalf("unexpected error: %v", res.err)
	}
	if len(res.scores) != 1 || res.scores[0].Score.TotalVolume != 500 {
		t.Errorf("got %+v, want local-only contribution with volume 500", res.scores)
	}
	if len(a.pending) != 0 {
		t.Errorf("max_depth=0 must not register any pending fan-out, got %d entries", len(a.pending))
	}
}

func mustExperience(t *testing.T, agent trust.AgentIdentifier, roi, volume float64) trust.Experience {
	t.Helper()
	exp, err := trust.NewExperience(agent, roi, volume, time.Now(), "", nil)
	if err != nil {
		t.Fatalf("NewExperience() error = %v", err)
	}
	return exp
}
