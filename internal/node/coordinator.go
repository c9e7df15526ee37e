package node

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/repeerv3/trust-node/internal/trust"
)

// ErrAllRequestsFailed is returned when a query ends with no contribution
// for any of its agents: no peer response arrived (every fanned-out
// request failed, or none was sent) and there is no local or cached data
// either (§4.7 Phase 4, §7).
var ErrAllRequestsFailed = errors.New("node: all peer requests failed and no local data")

// pendingRequest tracks one in-flight recursive trust query, possibly
// covering a batch of agents. It is shared by pointer across every outbound
// request ID issued for the fan-out, so that a response on any sibling ID
// can find and drain it, mirroring the Arc<Mutex<PendingRequest>> sharing in
// the original actor (§9 pending request indexing).
type pendingRequest struct {
	queryID     string
	agents      []trust.AgentIdentifier
	pointInTime time.Time
	forgetRate  float64
	maxDepth    int

	waitingFor map[string]bool // peer_handle -> still outstanding
	table      trust.ContributionTable
	reply      chan queryTrustResult
	timer      *time.Timer
	finalized  bool
}

type peerResponseEvent struct {
	requestID  string
	peerHandle string
	resp       TrustResponse
	err        error

	// timeoutFor is set only for the synthetic event the fan-out timer
	// raises; it names the pendingRequest to finalize regardless of what
	// is still outstanding.
	timeoutFor *pendingRequest
}

// startQueryTrust begins Phase 1 and Phase 2 of a trust query (§4.7) for
// every agent in cmd.agents and registers the pending request; completion
// happens asynchronously via peerResponses or the fan-out timer, both
// drained by the actor's run loop. This is also how an incoming peer query
// is answered (§4.8): handleIncomingStream turns it into this same command,
// passing the query's own already-decremented max_depth through as
// cmd.maxDepth, so depth > 0 recursion propagates through the identical
// coordinator path rather than a separate read-only code path.
func (a *Actor) startQueryTrust(cmd queryTrustCmd) {
	table := trust.NewContributionTable()
	now := time.Now()

	for _, agent := range cmd.agents {
		// Phase 1 step 1-2: local first-hand experience.
		localScore, err := a.engine.Score(agent, cmd.pointInTime, cmd.forgetRate)
		if err != nil {
			cmd.reply <- queryTrustResult{err: err}
			return
		}
		if localScore.HasData() {
			table.Add(agent, trust.Contribution{Source: "self", Score: localScore, Weight: 1.0})
		}

		// Phase 1 step 3: cached peer opinions, decayed by wall-clock age
		// and weighted by the sourcing peer's current recommender_quality
		// (sign and all, so Merge reflects a contrarian peer's ROI). A
		// cached row whose peer has since left the registry is dropped.
		cached, err := a.store.GetCachedScores(agent)
		if err != nil {
			cmd.reply <- queryTrustResult{err: err}
			return
		}
		for _, c := range cached {
			peerEntry, ok := a.registry.Get(c.FromPeer)
			if !ok {
				continue
			}

			ageSeconds := now.Sub(c.CachedAt).Seconds()
			if ageSeconds < 0 {
				ageSeconds = 0
			}
			ageFactor := 1.0 / (1.0 + ageSeconds/86400.0)
			decayed := c.Score
			decayed.TotalVolume *= ageFactor
			if decayed.TotalVolume > 0 {
				table.Add(agent, trust.Contribution{Source: c.FromPeer, Score: decayed, Weight: peerEntry.RecommenderQuality})
			}
		}
	}

	// Phase 2: a query with no fan-out budget left, or no peers to ask,
	// resolves from local and cached data alone (§9: max_depth = 0 never
	// issues a sub-query).
	peers := a.registry.List()
	if cmd.maxDepth <= 0 || len(peers) == 0 {
		a.finalizeQuery(table, cmd.reply)
		return
	}

	pr := &pendingRequest{
		queryID:     uuid.NewString(),
		agents:      cmd.agents,
		pointInTime: cmd.pointInTime,
		forgetRate:  cmd.forgetRate,
		maxDepth:    cmd.maxDepth,
		waitingFor:  make(map[string]bool, len(peers)),
		table:       table,
		reply:       cmd.reply,
	}

	for _, p := range peers {
		requestID := uuid.NewString()
		pr.waitingFor[p.PeerHandle] = true
		a.pending[requestID] = pr

		go a.sendQueryTo(requestID, p.PeerHandle, pr)
	}

	pr.timer = time.AfterFunc(a.node.config.Query.FanoutTimeout, func() {
		a.peerResponses <- peerResponseEvent{timeoutFor: pr}
	})
}

// sendQueryTo dials peerHandle (a libp2p peer ID string) and performs one
// request/response round of the wire protocol (§4.5), reporting the
// outcome back into the actor loop. The outbound max_depth is decremented
// once here, per peer, per Phase 2's "decrement depth, send query".
func (a *Actor) sendQueryTo(requestID, peerHandle string, pr *pendingRequest) {
	ctx, cancel := context.WithTimeout(a.ctx, a.node.config.Query.FanoutTimeout)
	defer cancel()

	pid, err := peer.Decode(peerHandle)
	if err != nil {
		a.peerResponses <- peerResponseEvent{requestID: requestID, peerHandle: peerHandle, err: err}
		return
	}

	stream, err := a.node.Host().NewStream(ctx, pid, a.node.config.TrustProtocol())
	if err != nil {
		a.peerResponses <- peerResponseEvent{requestID: requestID, peerHandle: peerHandle, err: err}
		return
	}
	defer stream.Close()

	query := TrustQuery{
		QueryID:     pr.queryID,
		Agents:      pr.agents,
		PointInTime: pr.pointInTime.Unix(),
		ForgetRate:  pr.forgetRate,
		MaxDepth:    pr.maxDepth - 1,
	}

	if err := writeRequest(stream, query); err != nil {
		a.peerResponses <- peerResponseEvent{requestID: requestID, peerHandle: peerHandle, err: err}
		return
	}

	resp, err := readResponse(stream)
	a.peerResponses <- peerResponseEvent{requestID: requestID, peerHandle: peerHandle, resp: resp, err: err}
}

// handlePeerResponse processes one fan-in event: a peer's response,
// request failure, or the fan-out timeout (§4.7 Phase 3/4). A successful
// response is weighted by the responding peer's own recommender_quality,
// exactly as a cached opinion is in Phase 1 step 3 (§8 S3/S4).
func (a *Actor) handlePeerResponse(ev peerResponseEvent) {
	if ev.timeoutFor != nil {
		a.drainAndFinalize(ev.timeoutFor)
		return
	}

	pr, ok := a.pending[ev.requestID]
	if !ok {
		return // sibling already purged this pending request
	}
	delete(a.pending, ev.requestID)
	delete(pr.waitingFor, ev.peerHandle)

	if ev.err == nil {
		if peerEntry, ok := a.registry.Get(ev.peerHandle); ok {
			for _, s := range ev.resp.Scores {
				if !s.Score.HasData() {
					continue
				}
				pr.table.Add(s.Agent, trust.Contribution{Source: ev.peerHandle, Score: s.Score, Weight: peerEntry.RecommenderQuality})

				_ = a.store.CacheTrustScore(trust.CachedScore{
					Agent:    s.Agent,
					Score:    s.Score,
					FromPeer: ev.peerHandle,
					CachedAt: time.Now(),
				})
			}
		}
	}

	if len(pr.waitingFor) == 0 {
		a.drainAndFinalize(pr)
	}
}

// drainAndFinalize purges every sibling request ID for pr (it may still
// have outstanding entries if finalize was triggered by the fan-out
// timeout rather than by the last response arriving) and resolves the
// query.
func (a *Actor) drainAndFinalize(pr *pendingRequest) {
	for reqID, other := range a.pending {
		if other == pr {
			delete(a.pending, reqID)
		}
	}
	if pr.finalized {
		return
	}
	pr.finalized = true
	if pr.timer != nil {
		pr.timer.Stop()
	}
	a.finalizeQuery(pr.table, pr.reply)
}

// finalizeQuery implements §4.7 Phase 4: every agent with at least one
// contribution resolves to a merged score, agents with none are omitted,
// and the whole query fails only if nothing at all was found for any
// agent in the batch.
func (a *Actor) finalizeQuery(table trust.ContributionTable, reply chan queryTrustResult) {
	scores := table.Resolve()
	if len(scores) == 0 {
		reply <- queryTrustResult{err: ErrAllRequestsFailed}
		return
	}
	reply <- queryTrustResult{scores: scores}
}
