package node

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/repeerv3/trust-node/internal/peerreg"
	"github.com/repeerv3/trust-node/internal/storage"
	"github.com/repeerv3/trust-node/internal/trust"
	"github.com/repeerv3/trust-node/pkg/logging"
)

// Actor is the trust node's single-threaded reactor (§4.6, §5): one
// goroutine multiplexes transport events, front-end commands, and the two
// recurring tickers, and is the sole mutator of the Peer Registry and the
// pending-request table. Everything else in the node talks to it only
// through the command channel.
type Actor struct {
	node     *Node
	store    *storage.Storage
	registry *peerreg.Registry
	engine   *trust.Engine
	log      *logging.Logger

	commands      chan any
	peerResponses chan peerResponseEvent
	pending       map[string]*pendingRequest

	ctx    context.Context
	cancel context.CancelFunc
}

// NewActor wires together the transport, storage, registry, and scoring
// engine into a runnable actor.
func NewActor(n *Node, store *storage.Storage, engine *trust.Engine) *Actor {
	ctx, cancel := context.WithCancel(n.ctx)

	a := &Actor{
		node:          n,
		store:         store,
		registry:      peerreg.New(store),
		engine:        engine,
		log:           logging.GetDefault().Component("actor"),
		commands:      make(chan any, 64),
		peerResponses: make(chan peerResponseEvent, 64),
		pending:       make(map[string]*pendingRequest),
		ctx:           ctx,
		cancel:        cancel,
	}

	n.Host().SetStreamHandler(n.config.TrustProtocol(), a.handleIncomingStream)
	return a
}

// Run primes the peer registry from storage, starts the transport, and
// drives the event loop until the context is cancelled (§4.6 item 1).
func (a *Actor) Run() error {
	if err := a.registry.Load(); err != nil {
		return err
	}
	if err := a.node.Start(); err != nil {
		return err
	}

	discoveryTicker := time.NewTicker(a.node.config.Network.DiscoveryInterval)
	defer discoveryTicker.Stop()
	reconnectTicker := time.NewTicker(a.node.config.Network.ReconnectInterval)
	defer reconnectTicker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return nil

		case cmd := <-a.commands:
			a.dispatch(cmd)

		case ev := <-a.peerResponses:
			a.handlePeerResponse(ev)

		case <-discoveryTicker.C:
			a.onDiscoveryTick()

		case <-reconnectTicker.C:
			a.onReconnectTick()
		}
	}
}

// Stop cancels the actor's context and tears down the transport.
func (a *Actor) Stop() error {
	a.cancel()
	return a.node.Stop()
}

// dispatch is the command-handling branch of the event loop (§4.6 item 2).
func (a *Actor) dispatch(cmd any) {
	switch c := cmd.(type) {
	case addExperienceCmd:
		err := a.store.AddExperience(c.exp)
		c.reply <- err
		if err == nil {
			a.engine.Invalidate()
		}

	case getExperiencesCmd:
		exps, err := a.store.GetExperiences(c.agent)
		c.reply <- getExperiencesResult{experiences: exps, err: err}
		if err == nil {
			a.engine.Invalidate()
		}

	case removeExperienceCmd:
		err := a.store.RemoveExperience(c.id)
		c.reply <- err
		if err == nil {
			a.engine.Invalidate()
		}

	case clearExperiencesCmd:
		err := a.store.ClearExperiences()
		c.reply <- err
		if err == nil {
			a.engine.Invalidate()
		}

	case addPeerCmd:
		err := a.registry.Add(c.peer)
		c.reply <- err
		if err == nil {
			go a.maybeDialPeerAddr(c.peer.PeerHandle)
		}

	case getPeersCmd:
		c.reply <- a.registry.List()

	case updatePeerQualityCmd:
		c.reply <- a.registry.UpdateQuality(c.peerHandle, c.quality)

	case removePeerCmd:
		c.reply <- a.registry.Remove(c.peerHandle)

	case clearPeersCmd:
		c.reply <- a.registry.Clear()

	case queryTrustCmd:
		a.startQueryTrust(c)

	case getConnectedPeersCmd:
		c.reply <- a.node.Peers()

	case triggerDiscoveryCmd:
		a.onDiscoveryTick()
		c.reply <- nil

	case exportDataCmd:
		a.handleExport(c)

	case importDataCmd:
		c.reply <- a.handleImport(c.export)

	case getSelfHandleCmd:
		c.reply <- a.node.ID().String()

	default:
		a.log.Warn("unknown command", "type", cmd)
	}
}

func (a *Actor) handleExport(c exportDataCmd) {
	experiences, err := a.store.GetAllExperiences()
	if err != nil {
		c.reply <- exportDataResult{err: err}
		return
	}
	c.reply <- exportDataResult{export: trust.NewDataExport(experiences, a.registry.List(), time.Now())}
}

// handleImport merges an export into the store: experiences are appended
// unconditionally (the Durable Store has no natural experience-identity
// collision to guard against beyond the generated id), while peers are
// added only where absent, leaving any locally-set recommender_quality
// untouched (§6 export/import).
func (a *Actor) handleImport(export trust.DataExport) error {
	for _, exp := range export.Experiences {
		if err := a.store.AddExperience(exp); err != nil {
			return err
		}
	}
	for _, peer := range export.Peers {
		if err := a.registry.EnsureAdded(peer.PeerHandle, peer.DisplayName, peer.AddedAt); err != nil {
			return err
		}
	}
	a.engine.Invalidate()
	return nil
}

// maybeDialPeerAddr implements §A.3's supplemented add_peer behavior: when a
// peer is registered by a full multiaddr handle (rather than a bare peer ID),
// the embedded peer ID is extracted, registered with the DHT's routing
// table, and dialed immediately rather than waiting for the next discovery
// or reconnect tick. A bare peer ID handle is left to the reconnect ticker.
func (a *Actor) maybeDialPeerAddr(peerHandle string) {
	if _, err := peer.Decode(peerHandle); err == nil {
		return // already a bare peer ID, nothing to extract
	}

	ctx, cancel := context.WithTimeout(a.ctx, 10*time.Second)
	defer cancel()
	if _, err := a.node.ConnectByAddr(ctx, peerHandle); err != nil {
		a.log.Debug("failed to dial peer by multiaddr", "addr", peerHandle, "error", err)
	}
}

// onDiscoveryTick runs one round of DHT-routing discovery and remembers any
// newly found peers (§4.6 item 3).
func (a *Actor) onDiscoveryTick() {
	found, err := a.node.DiscoverPeers(a.ctx)
	if err != nil {
		a.log.Debug("peer discovery failed", "error", err)
		return
	}

	for _, pi := range found {
		if err := a.registry.EnsureAdded(pi.ID.String(), "", time.Now()); err != nil {
			a.log.Debug("failed to remember discovered peer", "peer", shortID(pi.ID), "error", err)
		}
	}
}

// onReconnectTick retries connecting to every known peer that is not
// currently connected, up to MaxReconnectAttempts dials per tick (§4.6
// item 4).
func (a *Actor) onReconnectTick() {
	attempts := 0
	for _, p := range a.registry.List() {
		if attempts >= a.node.config.Network.MaxReconnectAttempts {
			return
		}

		pid, err := peer.Decode(p.PeerHandle)
		if err != nil {
			continue
		}
		if a.node.Host().Network().Connectedness(pid) == network.Connected {
			continue
		}

		attempts++
		go func(pid peer.ID) {
			ctx, cancel := context.WithTimeout(a.ctx, 10*time.Second)
			defer cancel()
			if err := a.node.Connect(ctx, peer.AddrInfo{ID: pid}); err != nil {
				a.log.Debug("reconnect failed", "peer", shortID(pid), "error", err)
			}
		}(pid)
	}
}

// handleIncomingStream answers another peer's trust query (§4.8). libp2p
// invokes this on its own goroutine, outside the actor's single-goroutine
// loop, so the query is never handled here directly — it is repackaged as
// the very same queryTrustCmd a local Client.QueryTrust call would send, and
// handed to the actor over the command channel. That means an incoming
// query is "handled identically to a local QueryTrust command (same
// coordinator)": depth > 0 recursion propagates through startQueryTrust's
// own fan-out exactly as it would for a local caller.
func (a *Actor) handleIncomingStream(s network.Stream) {
	defer s.Close()

	s.SetDeadline(time.Now().Add(30 * time.Second))

	query, err := readRequest(s)
	if err != nil {
		a.log.Debug("failed to read incoming query", "error", err)
		return
	}

	reply := make(chan queryTrustResult, 1)
	a.commands <- queryTrustCmd{
		agents:      query.Agents,
		pointInTime: time.Unix(query.PointInTime, 0),
		forgetRate:  query.ForgetRate,
		maxDepth:    query.MaxDepth,
		reply:       reply,
	}
	res := <-reply

	resp := TrustResponse{QueryID: query.QueryID, Scores: res.scores}
	if res.err != nil {
		resp.Error = res.err.Error()
	}
	if err := writeResponse(s, resp); err != nil {
		a.log.Debug("failed to write response", "error", err)
	}
}
