package commands

import (
	"context"
	"fmt"
	"time"

	"dtnd/client"
	"dtnd/config"
	"dtnd/eid"

	log "github.com/sirupsen/logrus"
)

func dialAdmin(ctx context.Context, cfg *config.Config) *client.Client {
	addr := cfg.Snapshot().Network.AdminListen
	c, err := client.Dial(ctx, addr)
	if err != nil {
		log.Fatalf("Failed to connect to node at %s: %v", addr, err)
	}
	return c
}

// RunInfo prints the state of a running node.
func RunInfo(ctx context.Context, cfg *config.Config) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c := dialAdmin(ctx, cfg)
	defer c.Close()

	eps, err := c.Endpoints(ctx)
	if err != nil {
		log.Fatalf("Failed to list endpoints: %v", err)
	}
	fmt.Printf("Endpoints (%d):\n", len(eps))
	for _, e := range eps {
		fmt.Printf("  %s\n", e)
	}

	peers, err := c.Peers(ctx)
	if err != nil {
		log.Fatalf("Failed to list peers: %v", err)
	}
	now := time.Now()
	fmt.Printf("Peers (%d):\n", len(peers))
	for _, p := range peers {
		seen := now.Sub(time.Unix(int64(p.LastContact), 0)).Truncate(time.Second)
		fmt.Printf("  %s @ %s, %s, clas: %v, last contact %v ago\n", p.EID, p.Addr, p.Type, p.CLAs, seen)
	}

	ids, err := c.Bundles(ctx)
	if err != nil {
		log.Fatalf("Failed to list bundles: %v", err)
	}
	fmt.Printf("Bundles (%d):\n", len(ids))
	for _, id := range ids {
		fmt.Printf("  %s\n", id)
	}

	st, err := c.Stats(ctx)
	if err != nil {
		log.Fatalf("Failed to read statistics: %v", err)
	}
	fmt.Printf("Statistics: incoming %d, dups %d, outgoing %d, delivered %d, broken %d\n",
		st.Incoming, st.Dups, st.Outgoing, st.Delivered, st.Broken)
}

// RunForget removes a peer node from the registry of a running node.
func RunForget(ctx context.Context, cfg *config.Config, peer string) {
	id, err := eid.Parse(peer)
	if err != nil {
		log.Fatalf("Bad peer EID: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c := dialAdmin(ctx, cfg)
	defer c.Close()

	if err := c.ForgetPeer(ctx, id); err != nil {
		log.Fatalf("Failed to forget %s: %v", id, err)
	}
	log.Infof("Forgot peer %s", id.NodeID())
}
