package node

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/repeerv3/trust-node/internal/trust"
)

// Commands are the front-end's one-to-one mapping onto the node's
// operations (§4.6 item 2, §9 actor pattern). Each carries its own
// oneshot reply channel, mirroring how the original actor's NodeCommand
// variants each carried an mpsc::Sender for their result.

type addExperienceCmd struct {
	exp   trust.Experience
	reply chan error
}

type getExperiencesCmd struct {
	agent trust.AgentIdentifier
	reply chan getExperiencesResult
}

type getExperiencesResult struct {
	experiences []trust.Experience
	err         error
}

type removeExperienceCmd struct {
	id    string
	reply chan error
}

type clearExperiencesCmd struct {
	reply chan error
}

type addPeerCmd struct {
	peer  trust.PeerEntry
	reply chan error
}

type getPeersCmd struct {
	reply chan []trust.PeerEntry
}

type updatePeerQualityCmd struct {
	peerHandle string
	quality    float64
	reply      chan error
}

type removePeerCmd struct {
	peerHandle string
	reply      chan error
}

type clearPeersCmd struct {
	reply chan error
}

type queryTrustCmd struct {
	agents      []trust.AgentIdentifier
	pointInTime time.Time
	forgetRate  float64
	maxDepth    int
	reply       chan queryTrustResult
}

type queryTrustResult struct {
	scores []trust.AgentScore
	err    error
}

type getConnectedPeersCmd struct {
	reply chan []peer.ID
}

type triggerDiscoveryCmd struct {
	reply chan error
}

type exportDataCmd struct {
	reply chan exportDataResult
}

type exportDataResult struct {
	export trust.DataExport
	err    error
}

type importDataCmd struct {
	export trust.DataExport
	reply  chan error
}

type getSelfHandleCmd struct {
	reply chan string
}
