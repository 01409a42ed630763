package node

import (
	"context"
	"errors"
	"fmt"

	"dtnd/core"
	"dtnd/datamodel/bundle"
	"dtnd/eid"

	log "github.com/sirupsen/logrus"
)

var ErrNoDestination = errors.New("bundle has no destination")

// markSeen records the bundle ID. It returns false when the ID was already known.
func (n *Node) markSeen(b *bundle.Bundle) bool {
	until := n.now() + uint64(seenRetention.Seconds())
	if b.Lifetime > 0 {
		until = b.CreationTime + b.Lifetime
	}
	known, _ := n.seen.ContainsOrAdd(b.ID(), until)
	return !known
}

func (n *Node) forgetSeen() {
	now := n.now()
	for _, id := range n.seen.Keys() {
		if until, ok := n.seen.Peek(id); ok && now >= until {
			n.seen.Remove(id)
		}
	}
}

// Receive accepts a bundle from a convergence layer. A known sender counts as fresh contact.
func (n *Node) Receive(ctx context.Context, b *bundle.Bundle, from eid.EndpointID) error {
	n.Stats.IncIncoming()

	if from != (eid.EndpointID{}) && !n.Peers.Touch(from) {
		log.Debugf("Receive: %s from unknown node %s", b.ID(), from)
	}

	id := b.ID()
	stored, err := n.Core.Store().Has(id)
	if err != nil {
		n.Stats.IncBroken()
		return fmt.Errorf("checking store for %s: %w", id, err)
	}
	if !n.markSeen(b) || stored {
		n.Stats.IncDups()
		log.Debugf("Receive: duplicate %s from %v", id, from)
		return nil
	}

	log.Debugf("Receive: %s -> %s from %v", id, b.Destination, from)
	return n.process(ctx, b, false)
}

// Send creates a bundle on behalf of a local application and dispatches it.
// A zero source stands for the node itself.
func (n *Node) Send(ctx context.Context, src, dst eid.EndpointID, lifetime uint64, payload []byte) (*bundle.Bundle, error) {
	if dst == (eid.EndpointID{}) || dst.IsNone() {
		return nil, ErrNoDestination
	}
	if src == (eid.EndpointID{}) {
		src = n.EID
	}

	b := &bundle.Bundle{
		Source:       src,
		Destination:  dst,
		CreationTime: n.now(),
		Sequence:     n.seq.Add(1),
		Lifetime:     lifetime,
		Payload:      payload,
	}
	n.markSeen(b)

	log.Infof("Send: new bundle %s -> %s (%d bytes)", b.ID(), dst, len(payload))
	if err := n.process(ctx, b, false); err != nil {
		return nil, err
	}
	return b, nil
}

// process delivers a bundle locally or stores it and hands it to the routing agent.
// stored tells whether the bundle is already held by the store.
func (n *Node) process(ctx context.Context, b *bundle.Bundle, stored bool) error {
	id := b.ID()

	if b.Expired(n.now()) {
		n.Stats.IncBroken()
		log.Infof("process: dropping expired bundle %s", id)
		return n.drop(id)
	}

	delivered := n.Core.WithEndpoint(b.Destination, func(aa core.ApplicationAgent) {
		aa.Push(b)
	})
	if delivered {
		n.Stats.IncDelivered()
		log.Infof("process: delivered %s to %s", id, b.Destination)
		return n.drop(id)
	}

	if !stored {
		if err := n.Core.Store().Push(b); err != nil {
			n.Stats.IncBroken()
			return fmt.Errorf("storing %s: %w", id, err)
		}
	}

	n.forward(ctx, b)
	return nil
}

// drop removes a bundle from the store and from the routing history.
func (n *Node) drop(id string) error {
	if f, ok := n.Core.RoutingAgent().(interface{ Forget(string) }); ok {
		f.Forget(id)
	}
	if err := n.Core.Store().Remove(id); err != nil {
		return fmt.Errorf("removing %s: %w", id, err)
	}
	return nil
}

func (n *Node) candidates() []eid.EndpointID {
	var out []eid.EndpointID
	for _, p := range n.Peers.List() {
		if n.Peers.StillValid(p) {
			out = append(out, p.EID.NodeID())
		}
	}
	return out
}

// forward sends a stored bundle to the next hops picked by the routing agent.
// Concurrent forwards of the same bundle are collapsed into one.
func (n *Node) forward(ctx context.Context, b *bundle.Bundle) {
	id := b.ID()
	n.sg.Do(id, func() (any, error) {
		agent := n.Core.RoutingAgent()
		targets := agent.Targets(id, b.Destination, n.candidates())
		if len(targets) == 0 {
			log.Debugf("forward: no route for %s -> %s, keeping it", id, b.Destination)
			return nil, nil
		}

		dstNode, _ := b.Destination.NodePart()
		for _, peer := range targets {
			sender, ok := n.Peers.ResolveCLA(peer, n.Core.HasCLA)
			if !ok {
				log.Debugf("forward: no usable convergence layer for %s", peer)
				continue
			}
			c, ok := n.Core.CLA(sender.Agent)
			if !ok {
				continue
			}

			if err := c.Send(ctx, sender, b); err != nil {
				n.Stats.IncBroken()
				log.Warnf("forward: sending %s to %s via %s failed: %v", id, peer, sender, err)
				continue
			}

			n.Stats.IncOutgoing()
			n.Peers.Touch(peer)
			agent.NotifySent(id, peer)
			log.Infof("forward: sent %s to %s via %s", id, peer, sender)

			if node, _ := peer.NodePart(); node == dstNode {
				// Handed to the destination node itself
				if err := n.drop(id); err != nil {
					log.Errorf("forward: %v", err)
				}
				break
			}
		}
		return nil, nil
	})
}

// retryStored re-evaluates every stored bundle: expired ones are dropped,
// ones for endpoints registered since are delivered, the rest are forwarded again.
func (n *Node) retryStored(ctx context.Context) {
	ids, err := n.Core.Store().ListBundleIDs()
	if err != nil {
		log.Errorf("retryStored: listing bundles: %v", err)
		return
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		b, err := n.Core.Store().Get(id)
		if errors.Is(err, bundle.ErrNotFound) {
			continue
		}
		if err != nil {
			log.Errorf("retryStored: %v", err)
			continue
		}
		if err := n.process(ctx, b, true); err != nil {
			log.Errorf("retryStored: %v", err)
		}
	}
}
