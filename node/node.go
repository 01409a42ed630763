// Package node runs a DTN node: it wires the core, the peer registry, the
// convergence layers, discovery and the admin interface together.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"dtnd/cla"
	"dtnd/config"
	"dtnd/core"
	"dtnd/datamodel/bundle"
	"dtnd/eid"
	"dtnd/helper/timer"
	"dtnd/net/crpc"
	"dtnd/net/mpubsub"
	"dtnd/routing"
	"dtnd/stats"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	log "github.com/sirupsen/logrus"
)

const metricsNamespace = "dtnd"

// How long the ID of a bundle without lifetime is remembered for duplicate detection
const seenRetention = time.Hour

// Upper bound of remembered bundle IDs, the oldest are forgotten first
const seenCapacity = 65536

type Node struct {
	// Node ID
	EID eid.EndpointID

	Core  *core.Core
	Peers *core.PeerRegistry
	Stats *stats.Statistics

	// Networking, both optional
	AdminServer *crpc.Server
	PubSub      *mpubsub.PubSub

	cfg     *config.Config
	clock   clock.Clock
	metrics *prometheus.Registry

	// Helpers
	sg   singleflight.Group
	seq  atomic.Uint64
	seen *lru.Cache[string, uint64] // bundle ID -> forget after (seconds since epoch)
}

func New(cfg *config.Config, clk clock.Clock, store bundle.Store, clas []cla.ConvergenceLayerAgent, adminServer *crpc.Server, pubsub *mpubsub.PubSub) (*Node, error) {
	snap := cfg.Snapshot()

	self, err := eid.Parse(snap.Node.EID)
	if err != nil {
		return nil, fmt.Errorf("node eid: %w", err)
	}
	agent, err := routing.New(snap.Node.Routing)
	if err != nil {
		return nil, err
	}

	n := &Node{
		EID:     self,
		Core:    core.New(store, agent),
		Peers:   core.NewPeerRegistry(clk, cfg.PeerTimeout),
		Stats:   stats.New(),
		cfg:     cfg,
		clock:   clk,
		metrics: prometheus.NewRegistry(),
	}

	n.seen, err = lru.New[string, uint64](seenCapacity)
	if err != nil {
		return nil, err
	}

	for _, c := range clas {
		if err := n.Core.RegisterCLA(c); err != nil {
			return nil, fmt.Errorf("cla %s: %w", c.Name(), err)
		}
	}

	for _, e := range snap.Node.Endpoints {
		id, err := eid.Parse(e)
		if err != nil {
			return nil, fmt.Errorf("endpoint: %w", err)
		}
		if err := n.Core.RegisterApplicationAgent(core.NewSimpleApplicationAgent(id)); err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", id, err)
		}
	}

	if err := n.addStaticPeers(snap.Peers.Static); err != nil {
		return nil, err
	}

	if err := n.Stats.Register(n.metrics, metricsNamespace); err != nil {
		return nil, err
	}
	n.metrics.MustRegister(
		collectors.NewGoCollector(),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "peers",
			Help:      "Peers currently known to the node",
		}, func() float64 { return float64(n.Peers.Len()) }),
	)

	// Set up the admin RPC service
	if adminServer != nil {
		n.AdminServer = adminServer
		if err := n.AdminServer.Register(&Admin{node: n}); err != nil {
			return nil, err
		}
	}

	// Set up discovery
	if pubsub != nil {
		n.PubSub = pubsub
		if err := n.PubSub.Register(&Discovery{node: n}); err != nil {
			return nil, err
		}
	}

	log.Infof("I am %s, clas: %v, endpoints: %v", n.EID, n.Core.CLANames(), n.Core.EIDs())

	return n, nil
}

func (n *Node) addStaticPeers(static []config.StaticPeer) error {
	for _, sp := range static {
		id, err := eid.Parse(sp.EID)
		if err != nil {
			return fmt.Errorf("static peer: %w", err)
		}
		ip := net.ParseIP(sp.Address)
		if ip == nil {
			return fmt.Errorf("static peer %s: bad address %q", id, sp.Address)
		}
		bindings := make([]core.CLABinding, 0, len(sp.CLAs))
		for _, s := range sp.CLAs {
			b, err := core.ParseCLABinding(s)
			if err != nil {
				return fmt.Errorf("static peer %s: %w", id, err)
			}
			bindings = append(bindings, b)
		}
		n.Peers.Add(n.Peers.NewPeer(id, ip, core.Static, bindings))
	}
	return nil
}

// Metrics returns the registry the node exports on /metrics.
func (n *Node) Metrics() *prometheus.Registry {
	return n.metrics
}

func (n *Node) now() uint64 {
	return n.Peers.Now()
}

func (n *Node) Run(ctx context.Context) error {
	wg, cctx := errgroup.WithContext(ctx)

	for _, c := range n.Core.CLAs() {
		wg.Go(func() error {
			return c.Serve(cctx, n)
		})
	}

	if n.AdminServer != nil {
		wg.Go(func() error {
			return n.AdminServer.Serve(cctx)
		})
	}

	if n.PubSub != nil {
		wg.Go(func() error {
			return n.PubSub.Listen(cctx)
		})

		wg.Go(func() error {
			interval := &timer.Interval{
				Duration: n.cfg.BeaconInterval(),
				Jitter:   n.cfg.BeaconInterval() / 10,
			}
			return timer.RunWithTicker(cctx, n.clock, interval, n.publishBeacon)
		})
	}

	wg.Go(func() error {
		interval := &timer.Interval{
			Duration: n.cfg.SweepInterval(),
		}
		return timer.RunWithTicker(cctx, n.clock, interval, n.housekeeping)
	})

	if listen := n.cfg.Snapshot().Metrics.Listen; listen != "" {
		wg.Go(func() error {
			return n.serveMetrics(cctx, listen)
		})
	}

	err := wg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (n *Node) serveMetrics(ctx context.Context, listen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(n.metrics, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	log.Infof("Metrics available at http://%s/metrics", listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return ctx.Err()
}

// This is run via the RunWithTicker() helper
func (n *Node) housekeeping(ctx context.Context) error {
	n.Peers.Sweep()
	n.forgetSeen()
	n.retryStored(ctx)
	return nil
}
