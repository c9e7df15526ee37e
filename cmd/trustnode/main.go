// Package main provides the trustnode daemon - a P2P trust ledger node.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/repeerv3/trust-node/internal/node"
	"github.com/repeerv3/trust-node/internal/storage"
	"github.com/repeerv3/trust-node/internal/trust"
	"github.com/repeerv3/trust-node/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir        = flag.String("data-dir", "~/.trustnode", "Data directory")
		configFile     = flag.String("config", "", "Config file path; only its directory is used, and config.yaml is read from there (default: <data-dir>/config.yaml)")
		listenAddr     = flag.String("listen", "", "Listen address (multiaddr), overrides config")
		enableMDNS     = flag.Bool("mdns", true, "Enable mDNS discovery")
		enableDHT      = flag.Bool("dht", true, "Enable DHT discovery")
		testnet        = flag.Bool("testnet", false, "Run on testnet (separate network and data)")
		bootstrapPeers = flag.String("bootstrap", "", "Bootstrap peers (comma-separated multiaddrs)")
		logLevel       = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion    = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{
		Level:      *logLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("trustnode %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	effectiveDataDir := *dataDir
	if *testnet {
		effectiveDataDir = filepath.Join(*dataDir, "testnet")
	}

	var cfg *node.Config
	var err error

	configDir := effectiveDataDir
	if *configFile != "" {
		configDir = filepath.Dir(*configFile)
	}
	cfg, err = node.LoadConfig(configDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	if *listenAddr != "" {
		cfg.Network.ListenAddrs = []string{*listenAddr}
	}
	cfg.Network.EnableMDNS = *enableMDNS
	cfg.Network.EnableDHT = *enableDHT
	cfg.Logging.Level = *logLevel
	cfg.Storage.DataDir = effectiveDataDir

	if *testnet {
		cfg.NetworkType = node.NetworkTestnet
	} else {
		cfg.NetworkType = node.NetworkMainnet
	}

	if *bootstrapPeers != "" {
		cfg.Network.BootstrapPeers = parseBootstrapPeers(*bootstrapPeers)
	}

	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	log.Info("Config loaded", "path", node.ConfigPath(configDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dataPath := expandPath(cfg.Storage.DataDir)
	store, err := storage.New(&storage.Config{DataDir: dataPath})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage initialized", "path", dataPath)

	engine := trust.NewEngine(store, cfg.Query.CacheTTL)

	log.Info("Starting trust node...")
	n, err := node.New(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to create node", "error", err)
	}

	actor := node.NewActor(n, store, engine)
	client := node.NewClient(actor)

	errCh := make(chan error, 1)
	go func() {
		errCh <- actor.Run()
	}()

	printBanner(log, n, cfg)

	nodeLog := log.Component("p2p")
	n.OnPeerConnected(func(p peer.ID) {
		nodeLog.Info("Peer connected", "peer", shortID(p), "total", n.PeerCount())
	})
	n.OnPeerDisconnected(func(p peer.ID) {
		nodeLog.Info("Peer disconnected", "peer", shortID(p), "total", n.PeerCount())
	})

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Info("Status",
					"peers", n.PeerCount(),
					"known_peers", len(client.GetPeers()),
					"self", client.GetSelfHandle(),
					"uptime", n.Uptime().Round(time.Second))
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
	case err := <-errCh:
		if err != nil {
			log.Error("Actor stopped unexpectedly", "error", err)
		}
	}

	log.Info("Shutting down...")
	cancel()

	if err := actor.Stop(); err != nil {
		log.Error("Error during shutdown", "error", err)
	}

	log.Info("Goodbye!")
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

func printBanner(log *logging.Logger, n *node.Node, cfg *node.Config) {
	networkLabel := "mainnet"
	if cfg.IsTestnet() {
		networkLabel = "TESTNET"
	}

	log.Info("")
	log.Info("=================================================")
	log.Infof("  Trust Node (%s)", networkLabel)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  Peer ID: %s", n.ID().String())
	log.Info("")
	log.Info("  Listening on:")
	for _, addr := range n.Addrs() {
		log.Infof("    %s/p2p/%s", addr.String(), n.ID().String())
	}
	log.Info("")
	log.Infof("  Network: %s | mDNS: %v | DHT: %v", networkLabel, cfg.Network.EnableMDNS, cfg.Network.EnableDHT)
	log.Infof("  Data dir: %s", expandPath(cfg.Storage.DataDir))
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}

func parseBootstrapPeers(s string) []string {
	if s == "" {
		return nil
	}
	var peers []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			peers = append(peers, p)
		}
	}
	return peers
}

func shortID(p peer.ID) string {
	s := p.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
