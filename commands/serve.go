package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"dtnd/cla"
	"dtnd/cla/rpccl"
	"dtnd/config"
	"dtnd/datamodel/bundle"
	"dtnd/datastore/flatfs"
	"dtnd/datastore/leveldb"
	"dtnd/eid"
	"dtnd/net/crpc"
	"dtnd/net/mpubsub"
	"dtnd/node"

	"github.com/benbjohnson/clock"
	"golang.org/x/net/ipv4"

	log "github.com/sirupsen/logrus"
)

func openStore(engine, path string) (bundle.Store, error) {
	switch engine {
	case "leveldb":
		return leveldb.NewBundleStore(path)
	case "flatfs":
		return flatfs.New(path)
	default:
		return nil, fmt.Errorf("unknown datastore engine %q", engine)
	}
}

func newCLA(c config.CLAConfig, self eid.EndpointID) (cla.ConvergenceLayerAgent, error) {
	switch c.Name {
	case rpccl.Name:
		return rpccl.New(c.Listen, self)
	default:
		return nil, fmt.Errorf("unknown convergence layer %q", c.Name)
	}
}

// newDiscoveryBus joins the multicast group used for beacons.
func newDiscoveryBus(group string) (*mpubsub.PubSub, error) {
	gaddr, err := net.ResolveUDPAddr("udp4", group)
	if err != nil {
		return nil, err
	}

	rc, err := net.ListenMulticastUDP("udp4", nil, gaddr)
	if err != nil {
		return nil, fmt.Errorf("multicast listener: %w", err)
	}

	wc, err := net.DialUDP("udp4", nil, gaddr)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("multicast writer: %w", err)
	}

	// Keep beacons on the local link, and let nodes on the same host see each other
	pc := ipv4.NewPacketConn(wc)
	if err := pc.SetMulticastTTL(1); err != nil {
		log.Warnf("Failed to set multicast TTL: %v", err)
	}
	if err := pc.SetMulticastLoopback(true); err != nil {
		log.Warnf("Failed to enable multicast loopback: %v", err)
	}

	return mpubsub.New(rc, wc), nil
}

// reloadOnHangup re-reads the config file on SIGHUP. Values read live, such
// as the peer timeout, take effect immediately.
func reloadOnHangup(ctx context.Context, cfg *config.Config) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := cfg.Load(); err != nil {
				log.Errorf("Config reload failed, keeping previous settings: %v", err)
				continue
			}
			log.Infof("Config reloaded, peer timeout is now %ds", cfg.PeerTimeout())
		}
	}
}

func RunServe(ctx context.Context, cfg *config.Config) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	snap := cfg.Snapshot()

	// Creating storage
	store, err := openStore(snap.DataStore.Engine, snap.DataStore.Path)
	if err != nil {
		log.Fatalf("Failed to open bundle store: %v", err)
	}
	defer store.Close()

	self, err := eid.Parse(snap.Node.EID)
	if err != nil {
		log.Fatalf("Bad node EID: %v", err)
	}

	var clas []cla.ConvergenceLayerAgent
	for _, c := range snap.Network.CLAs {
		agent, err := newCLA(c, self)
		if err != nil {
			log.Fatalf("Failed to create convergence layer: %v", err)
		}
		clas = append(clas, agent)
	}

	// Create the admin RPC server and listener
	var admin *crpc.Server
	if snap.Network.AdminListen != "" {
		l, err := net.Listen("tcp", snap.Network.AdminListen)
		if err != nil {
			log.Fatalf("Failed to create admin listener: %v", err)
		}
		admin = crpc.NewServer(l)
		log.Infof("Admin RPC listening on %s", admin.Addr())
	}

	// Create pubsub
	var pubsub *mpubsub.PubSub
	if snap.Network.Discovery {
		pubsub, err = newDiscoveryBus(snap.Network.DiscoveryGroup)
		if err != nil {
			log.Fatalf("Failed to set up discovery: %v", err)
		}
	}

	n, err := node.New(cfg, clock.New(), store, clas, admin, pubsub)
	if err != nil {
		log.Fatalf("Failed to create node: %v", err)
	}

	go reloadOnHangup(ctx, cfg)

	if err := n.Run(ctx); err != nil {
		log.Fatalf("Node stopped: %v", err)
	}
	log.Info("Node stopped")
}
