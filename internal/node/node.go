package node

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	connmgr "github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/multiformats/go-multiaddr"

	"github.com/repeerv3/trust-node/pkg/logging"
)

// Node wraps the libp2p transport the Network Actor drives: host, DHT, and
// GossipSub, plus mDNS/DHT-routing discovery (§4.6).
type Node struct {
	host   host.Host
	dht    *dht.IpfsDHT
	pubsub *pubsub.PubSub
	config *Config
	log    *logging.Logger

	mdnsService mdns.Service
	routingDisc *drouting.RoutingDiscovery

	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time

	onPeerConnected    func(peer.ID)
	onPeerDisconnected func(peer.ID)

	mu sync.RWMutex
}

// New creates the libp2p transport for a trust node.
func New(ctx context.Context, cfg *Config) (*Node, error) {
	ctx, cancel := context.WithCancel(ctx)

	node := &Node{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
		log:    logging.GetDefault().Component("node"),
	}

	privKey, err := node.loadOrCreateKey()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to load/create key: %w", err)
	}

	listenAddrs := make([]multiaddr.Multiaddr, 0, len(cfg.Network.ListenAddrs))
	for _, addr := range cfg.Network.ListenAddrs {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("invalid listen address %s: %w", addr, err)
		}
		listenAddrs = append(listenAddrs, ma)
	}

	cm, err := connmgr.NewConnManager(
		cfg.Network.ConnMgr.LowWater,
		cfg.Network.ConnMgr.HighWater,
		connmgr.WithGracePeriod(cfg.Network.ConnMgr.GracePeriod),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}

	opts := []libp2p.Option{
		libp2p.Identity(privKey),
		libp2p.ListenAddrs(listenAddrs...),
		libp2p.ConnectionManager(cm),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
	}

	if cfg.Network.EnableNAT {
		opts = append(opts, libp2p.NATPortMap())
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}
	node.host = h

	h.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(n network.Network, conn network.Conn) {
			node.mu.RLock()
			cb := node.onPeerConnected
			node.mu.RUnlock()
			if cb != nil {
				go cb(conn.RemotePeer())
			}
		},
		DisconnectedF: func(n network.Network, conn network.Conn) {
			node.mu.RLock()
			cb := node.onPeerDisconnected
			node.mu.RUnlock()
			if cb != nil {
				go cb(conn.RemotePeer())
			}
		},
	})

	if cfg.Network.EnableDHT {
		if err := node.initDHT(ctx); err != nil {
			h.Close()
			cancel()
			return nil, fmt.Errorf("failed to initialize DHT: %w", err)
		}
	}

	if err := node.initPubSub(ctx); err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("failed to initialize pubsub: %w", err)
	}

	if cfg.Network.EnableMDNS {
		if err := node.initMDNS(); err != nil {
			node.log.Warn("mDNS initialization failed", "error", err)
		}
	}

	return node, nil
}

func (n *Node) loadOrCreateKey() (crypto.PrivKey, error) {
	keyPath := n.config.Identity.KeyFile
	if !filepath.IsAbs(keyPath) {
		dataDir := expandPath(n.config.Storage.DataDir)
		keyPath = filepath.Join(dataDir, keyPath)
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, err
	}

	if data, err := os.ReadFile(keyPath); err == nil {
		return crypto.UnmarshalPrivateKey(data)
	}

	privKey, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, err
	}

	data, err := crypto.MarshalPrivateKey(privKey)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(keyPath, data, 0600); err != nil {
		return nil, err
	}

	n.log.Info("Generated new node identity")
	return privKey, nil
}

func (n *Node) initDHT(ctx context.Context) error {
	var err error
	n.dht, err = dht.New(ctx, n.host,
		dht.Mode(dht.ModeAutoServer),
		dht.ProtocolPrefix(protocol.ID(n.config.DHTPrefix())),
	)
	if err != nil {
		return err
	}

	if err := n.dht.Bootstrap(ctx); err != nil {
		return err
	}

	n.routingDisc = drouting.NewRoutingDiscovery(n.dht)
	return nil
}

func (n *Node) initPubSub(ctx context.Context) error {
	var err error
	n.pubsub, err = pubsub.NewGossipSub(ctx, n.host,
		pubsub.WithPeerExchange(true),
	)
	return err
}

func (n *Node) initMDNS() error {
	n.mdnsService = mdns.NewMdnsService(n.host, n.config.DiscoveryNamespace(), n)
	return n.mdnsService.Start()
}

// HandlePeerFound is called when mDNS discovers a peer.
func (n *Node) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.host.ID() {
		return
	}

	n.host.Peerstore().AddAddrs(pi.ID, pi.Addrs, peerstore.PermanentAddrTTL)

	go func() {
		ctx, cancel := context.WithTimeout(n.ctx, 10*time.Second)
		defer cancel()
		if err := n.host.Connect(ctx, pi); err != nil {
			n.log.Debug("Failed to connect to mDNS peer", "peer", shortID(pi.ID), "error", err)
		}
	}()
}

// Start connects to bootstrap peers and advertises for DHT discovery.
func (n *Node) Start() error {
	n.startTime = time.Now()

	for _, addrStr := range n.config.Network.BootstrapPeers {
		ma, err := multiaddr.NewMultiaddr(addrStr)
		if err != nil {
			n.log.Warn("Invalid bootstrap address", "addr", addrStr, "error", err)
			continue
		}

		pi, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			n.log.Warn("Invalid bootstrap peer info", "addr", addrStr, "error", err)
			continue
		}

		go func(pi peer.AddrInfo) {
			ctx, cancel := context.WithTimeout(n.ctx, 30*time.Second)
			defer cancel()
			if err := n.host.Connect(ctx, pi); err != nil {
				n.log.Warn("Failed to connect to bootstrap peer", "peer", shortID(pi.ID), "error", err)
			} else {
				n.log.Info("Connected to bootstrap peer", "peer", shortID(pi.ID))
			}
		}(*pi)
	}

	if n.routingDisc != nil {
		go dutil.Advertise(n.ctx, n.routingDisc, n.config.DiscoveryNamespace())
	}

	return nil
}

// DiscoverPeers runs one round of DHT-routing peer discovery, returning
// peers found beyond ourselves (§4.6 item 3).
func (n *Node) DiscoverPeers(ctx context.Context) ([]peer.AddrInfo, error) {
	if n.routingDisc == nil {
		return nil, nil
	}

	found, err := dutil.FindPeers(ctx, n.routingDisc, n.config.DiscoveryNamespace())
	if err != nil {
		return nil, err
	}

	out := make([]peer.AddrInfo, 0, len(found))
	for _, pi := range found {
		if pi.ID == n.host.ID() {
			continue
		}
		out = append(out, pi)
	}
	return out, nil
}

// Stop stops the node gracefully.
func (n *Node) Stop() error {
	n.cancel()

	if n.mdnsService != nil {
		n.mdnsService.Close()
	}

	if n.dht != nil {
		n.dht.Close()
	}

	return n.host.Close()
}

// ID returns the node's peer ID.
func (n *Node) ID() peer.ID {
	return n.host.ID()
}

// Addrs returns the node's listen addresses.
func (n *Node) Addrs() []multiaddr.Multiaddr {
	return n.host.Addrs()
}

// Host returns the underlying libp2p host.
func (n *Node) Host() host.Host {
	return n.host
}

// DHT returns the Kademlia DHT.
func (n *Node) DHT() *dht.IpfsDHT {
	return n.dht
}

// PubSub returns the GossipSub instance.
func (n *Node) PubSub() *pubsub.PubSub {
	return n.pubsub
}

// Peers returns the list of connected peers.
func (n *Node) Peers() []peer.ID {
	return n.host.Network().Peers()
}

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int {
	return len(n.host.Network().Peers())
}

// Connect connects to a peer.
func (n *Node) Connect(ctx context.Context, pi peer.AddrInfo) error {
	return n.host.Connect(ctx, pi)
}

// ConnectByAddr connects to a peer by multiaddr string, extracting its
// embedded peer ID (§A.3 add_peer supplemented behavior).
func (n *Node) ConnectByAddr(ctx context.Context, addr string) (peer.ID, error) {
	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return "", fmt.Errorf("invalid multiaddr: %w", err)
	}

	pi, err := peer.AddrInfoFromP2pAddr(ma)
	if err != nil {
		return "", fmt.Errorf("invalid peer addr info: %w", err)
	}

	if err := n.host.Connect(ctx, *pi); err != nil {
		return "", err
	}
	return pi.ID, nil
}

// OnPeerConnected sets a callback for when a peer connects.
func (n *Node) OnPeerConnected(cb func(peer.ID)) {
	n.mu.Lock()
	n.onPeerConnected = cb
	n.mu.Unlock()
}

// OnPeerDisconnected sets a callback for when a peer disconnects.
func (n *Node) OnPeerDisconnected(cb func(peer.ID)) {
	n.mu.Lock()
	n.onPeerDisconnected = cb
	n.mu.Unlock()
}

// Uptime returns how long the node has been running.
func (n *Node) Uptime() time.Duration {
	return time.Since(n.startTime)
}

// Config returns the node configuration.
func (n *Node) Config() *Config {
	return n.config
}

// shortID returns a truncated peer ID for logging.
func shortID(p peer.ID) string {
	s := p.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
