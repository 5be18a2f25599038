// Command node starts a consensus engine node: it loads its identity and
// configuration, opens its ledger, joins the P2P network, and serves the
// item_register/item_check/item_wait RPC surface until signaled to stop.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/modsagraphy/universa/codec"
	"github.com/modsagraphy/universa/config"
	"github.com/modsagraphy/universa/crypto/certgen"
	"github.com/modsagraphy/universa/dispatch"
	"github.com/modsagraphy/universa/events"
	"github.com/modsagraphy/universa/identity"
	"github.com/modsagraphy/universa/indexer"
	"github.com/modsagraphy/universa/item"
	"github.com/modsagraphy/universa/itemcache"
	"github.com/modsagraphy/universa/ledger"
	"github.com/modsagraphy/universa/network"
	"github.com/modsagraphy/universa/rpc"
	"github.com/modsagraphy/universa/scheduler"
)

func main() {
	cfgPath := flag.String("config", "config.json", "path to config file")
	keyPath := flag.String("key", "node.key", "path to keystore file")
	genKey := flag.Bool("genkey", false, "generate a new node identity key and exit")
	genCerts := flag.String("gencerts", "", "generate CA + node TLS certs into the given directory and exit (requires node ID from config)")
	flag.Parse()

	// Read keystore password from environment (not CLI flags — they leak via ps).
	password := os.Getenv("UNIVERSA_PASSWORD")
	if password == "" {
		log.Println("WARNING: UNIVERSA_PASSWORD not set — keystore will use an empty password")
	}

	// ---- generate key mode ----
	if *genKey {
		id, err := identity.Generate()
		if err != nil {
			log.Fatal(err)
		}
		if err := identity.SaveKey(*keyPath, password, id.PrivKey()); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Generated key. Node ID: %s\n", id.NodeID())
		fmt.Printf("Saved to: %s\n", *keyPath)
		return
	}

	// ---- generate certs mode ----
	if *genCerts != "" {
		cfgForCerts, err := loadConfig(*cfgPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if err := certgen.GenerateAll(*genCerts, cfgForCerts.NodeID, nil); err != nil {
			log.Fatalf("gencerts: %v", err)
		}
		fmt.Printf("Certificates generated in %s for node %q\n", *genCerts, cfgForCerts.NodeID)
		return
	}

	// ---- load config ----
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- load node identity ----
	privKey, err := identity.LoadKey(*keyPath, password)
	if err != nil {
		log.Fatalf("load key: %v", err)
	}
	id := identity.New(privKey)
	self := item.NodeInfo{ID: id.NodeID(), Addr: fmt.Sprintf(":%d", cfg.P2PPort)}

	// ---- open ledger ----
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("mkdir data dir: %v", err)
	}
	db, err := ledger.OpenLevelDB(cfg.DataDir + "/ledger")
	if err != nil {
		log.Fatalf("open ledger: %v", err)
	}
	defer db.Close()
	led := ledger.NewStateLedger(db)

	// ---- shared node-wide collaborators ----
	cache := itemcache.New(cfg.MaxCacheAge)
	pool := scheduler.New(cfg.SchedulerWorkers)
	defer pool.StopWait()
	emitter := events.NewEmitter()
	indexer.New(db, emitter) // subscribes itself to emitter; queried by future operational tooling

	// ---- TLS ----
	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		log.Fatalf("tls: %v", err)
	}
	if tlsCfg != nil {
		log.Println("mTLS enabled for P2P")
	}

	// ---- network ----
	p2pAddr := fmt.Sprintf(":%d", cfg.P2PPort)
	netNode := network.NewNode(self, tlsCfg, cache.Get).WithCodec(codec.NewJSON())
	if err := netNode.Listen(p2pAddr); err != nil {
		log.Fatalf("p2p listen: %v", err)
	}
	defer netNode.Stop()
	log.Printf("P2P listening on %s", p2pAddr)

	// ---- connect to seed peers ----
	for _, sp := range cfg.SeedPeers {
		peerInfo := item.NodeInfo{ID: sp.ID, Addr: sp.Addr}
		if err := netNode.AddPeer(peerInfo); err != nil {
			log.Printf("seed peer %s (%s): %v", sp.ID, sp.Addr, err)
			continue
		}
		log.Printf("Connected to seed peer %s (%s)", sp.ID, sp.Addr)
	}

	// ---- dispatcher ----
	node := dispatch.New(self, cfg, led, netNode, cache, pool, emitter)

	// ---- RPC ----
	rpcAddr := fmt.Sprintf(":%d", cfg.RPCPort)
	rpcHandler := rpc.NewHandler(node, nil)
	rpcServer := rpc.NewServer(rpcAddr, rpcHandler, cfg.RPCAuthToken)
	if err := rpcServer.Start(); err != nil {
		log.Fatalf("rpc start: %v", err)
	}
	defer rpcServer.Stop()
	log.Printf("RPC listening on %s", rpcAddr)
	if cfg.RPCAuthToken != "" {
		log.Println("RPC Bearer token authentication enabled")
	}

	log.Printf("Node %s running (positive_consensus=%d negative_consensus=%d)",
		self.ID, cfg.PositiveConsensus, cfg.NegativeConsensus)

	// ---- graceful shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")

	// Deferred calls run in LIFO: rpcServer.Stop → netNode.Stop → pool.StopWait → db.Close
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Config file not found at %s, using defaults.", path)
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}
