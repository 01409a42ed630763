package node

import (
	"context"
	"net"

	"dtnd/core"
	"dtnd/protocol"

	log "github.com/sirupsen/logrus"
)

const beaconMethod = "Discovery.Beacon"

// Discovery handles beacons published on the multicast group.
type Discovery struct {
	node *Node
}

func (d *Discovery) Beacon(msg *protocol.BeaconMessage, src *net.UDPAddr) {
	n := d.node

	// Check if we received our own beacon
	if node, _ := msg.EID.NodePart(); node == n.nodeName() {
		return
	}
	if src == nil {
		log.Warnf("Beacon: %s without source address, ignoring", msg.EID)
		return
	}

	if p, ok := n.Peers.Get(msg.EID); ok && p.Type == core.Static {
		n.Peers.Touch(msg.EID)
		return
	}

	n.Peers.Add(n.Peers.NewPeer(msg.EID, src.IP, core.Dynamic, msg.CLAs))
}

func (n *Node) nodeName() string {
	node, _ := n.EID.NodePart()
	return node
}

// This is run via the RunWithTicker() helper
func (n *Node) publishBeacon(ctx context.Context) error {
	msg := &protocol.BeaconMessage{
		EID: n.EID,
	}
	for _, c := range n.Core.CLAs() {
		msg.CLAs = append(msg.CLAs, core.CLABinding{Name: c.Name(), Port: c.Port()})
	}

	if err := n.PubSub.Publish(beaconMethod, msg); err != nil {
		log.Errorf("Failed to publish beacon: %v", err)
	}

	return nil
}
