package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"dtnd/config"
	"dtnd/eid"
	"dtnd/protocol"

	log "github.com/sirupsen/logrus"
)

// RunSend submits a bundle through the admin interface. A payload of "-" is read from stdin.
func RunSend(ctx context.Context, cfg *config.Config, src, dst string, lifetime time.Duration, payload string) {
	req := &protocol.SendRequest{
		Lifetime: uint64(lifetime.Seconds()),
		Payload:  []byte(payload),
	}

	var err error
	if req.Destination, err = eid.Parse(dst); err != nil {
		log.Fatalf("Bad destination: %v", err)
	}
	if src != "" {
		if req.Source, err = eid.Parse(src); err != nil {
			log.Fatalf("Bad source: %v", err)
		}
	}
	if payload == "-" {
		if req.Payload, err = io.ReadAll(os.Stdin); err != nil {
			log.Fatalf("Failed to read payload: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	c := dialAdmin(ctx, cfg)
	defer c.Close()

	id, err := c.Send(ctx, req)
	if err != nil {
		log.Fatalf("Send failed: %v", err)
	}
	fmt.Println(id)
}

// RunPoll prints and removes the bundles delivered to an endpoint.
func RunPoll(ctx context.Context, cfg *config.Config, endpoint string) {
	id, err := eid.Parse(endpoint)
	if err != nil {
		log.Fatalf("Bad endpoint: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c := dialAdmin(ctx, cfg)
	defer c.Close()

	bundles, err := c.Poll(ctx, id)
	if err != nil {
		log.Fatalf("Poll failed: %v", err)
	}
	for _, b := range bundles {
		fmt.Printf("%s from %s (%d bytes)\n%s\n", b.ID(), b.Source, len(b.Payload), b.Payload)
	}
	log.Debugf("Polled %d bundles for %s", len(bundles), id)
}
