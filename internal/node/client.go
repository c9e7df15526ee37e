package node

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/repeerv3/trust-node/internal/trust"
)

// Client is the front-end surface over the actor's command channel (§6
// command envelope): every call here maps one-to-one onto a node
// operation and blocks for its oneshot reply, exactly as the original
// actor's command/response pattern does.
type Client struct {
	actor *Actor
}

// NewClient wraps an already-running Actor.
func NewClient(a *Actor) *Client {
	return &Client{actor: a}
}

func (c *Client) AddExperience(exp trust.Experience) error {
	reply := make(chan error, 1)
	c.actor.commands <- addExperienceCmd{exp: exp, reply: reply}
	return <-reply
}

func (c *Client) GetExperiences(agent trust.AgentIdentifier) ([]trust.Experience, error) {
	reply := make(chan getExperiencesResult, 1)
	c.actor.commands <- getExperiencesCmd{agent: agent, reply: reply}
	res := <-reply
	return res.experiences, res.err
}

func (c *Client) RemoveExperience(id string) error {
	reply := make(chan error, 1)
	c.actor.commands <- removeExperienceCmd{id: id, reply: reply}
	return <-reply
}

func (c *Client) ClearExperiences() error {
	reply := make(chan error, 1)
	c.actor.commands <- clearExperiencesCmd{reply: reply}
	return <-reply
}

func (c *Client) AddPeer(peer trust.PeerEntry) error {
	reply := make(chan error, 1)
	c.actor.commands <- addPeerCmd{peer: peer, reply: reply}
	return <-reply
}

func (c *Client) GetPeers() []trust.PeerEntry {
	reply := make(chan []trust.PeerEntry, 1)
	c.actor.commands <- getPeersCmd{reply: reply}
	return <-reply
}

func (c *Client) UpdatePeerQuality(peerHandle string, quality float64) error {
	reply := make(chan error, 1)
	c.actor.commands <- updatePeerQualityCmd{peerHandle: peerHandle, quality: quality, reply: reply}
	return <-reply
}

func (c *Client) RemovePeer(peerHandle string) error {
	reply := make(chan error, 1)
	c.actor.commands <- removePeerCmd{peerHandle: peerHandle, reply: reply}
	return <-reply
}

func (c *Client) ClearPeers() error {
	reply := make(chan error, 1)
	c.actor.commands <- clearPeersCmd{reply: reply}
	return <-reply
}

// QueryTrust runs the full recursive fan-out/fan-in trust query (§4.7) for a
// batch of agents in one round trip. maxDepth bounds how many further hops
// the query is allowed to travel; a depth of 0 answers from local and
// cached data only, with no peer fan-out (§9 invariant: max_depth = 0 never
// issues a sub-query).
func (c *Client) QueryTrust(agents []trust.AgentIdentifier, pointInTime time.Time, forgetRate float64, maxDepth int) ([]trust.AgentScore, error) {
	reply := make(chan queryTrustResult, 1)
	c.actor.commands <- queryTrustCmd{agents: agents, pointInTime: pointInTime, forgetRate: forgetRate, maxDepth: maxDepth, reply: reply}
	res := <-reply
	return res.scores, res.err
}

func (c *Client) GetConnectedPeers() []peer.ID {
	reply := make(chan []peer.ID, 1)
	c.actor.commands <- getConnectedPeersCmd{reply: reply}
	return <-reply
}

func (c *Client) TriggerPeerDiscovery() error {
	reply := make(chan error, 1)
	c.actor.commands <- triggerDiscoveryCmd{reply: reply}
	return <-reply
}

func (c *Client) ExportData() (trust.DataExport, error) {
	reply := make(chan exportDataResult, 1)
	c.actor.commands <- exportDataCmd{reply: reply}
	res := <-reply
	return res.export, res.err
}

func (c *Client) ImportData(export trust.DataExport) error {
	reply := make(chan error, 1)
	c.actor.commands <- importDataCmd{export: export, reply: reply}
	return <-reply
}

func (c *Client) GetSelfHandle() string {
	reply := make(chan string, 1)
	c.actor.commands <- getSelfHandleCmd{reply: reply}
	return <-reply
}
