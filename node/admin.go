package node

import (
	"context"
	"errors"
	"time"

	"dtnd/core"
	"dtnd/protocol"

	log "github.com/sirupsen/logrus"
)

var (
	ErrUnknownEndpoint = errors.New("endpoint not registered")
	ErrUnknownPeer     = errors.New("peer not known")
)

const adminSendTimeout = 30 * time.Second

// Admin is the RPC service used by the command line client.
type Admin struct {
	node *Node
}

// RPC: Endpoints
func (s *Admin) Endpoints(req *protocol.Empty, res *protocol.EndpointsResponse) error {
	res.EIDs = s.node.Core.EIDs()
	return nil
}

// RPC: Bundles
func (s *Admin) Bundles(req *protocol.Empty, res *protocol.BundlesResponse) error {
	ids, err := s.node.Core.Bundles()
	if err != nil {
		return err
	}
	res.IDs = ids
	return nil
}

// RPC: Peers
func (s *Admin) Peers(req *protocol.Empty, res *protocol.PeersResponse) error {
	res.Peers = s.node.Peers.List()
	return nil
}

// RPC: ForgetPeer
// Drops the record of a node. A static peer comes back with the next config reload.
func (s *Admin) ForgetPeer(req *protocol.EndpointRequest, res *protocol.Empty) error {
	log.Infof("Admin.ForgetPeer: %s", req.EID)
	if !s.node.Peers.Remove(req.EID) {
		return ErrUnknownPeer
	}
	return nil
}

// RPC: Stats
func (s *Admin) Stats(req *protocol.Empty, res *protocol.StatsResponse) error {
	res.Stats = s.node.Stats.Snapshot()
	return nil
}

// RPC: Register
func (s *Admin) Register(req *protocol.EndpointRequest, res *protocol.Empty) error {
	log.Infof("Admin.Register: %s", req.EID)
	return s.node.Core.RegisterApplicationAgent(core.NewSimpleApplicationAgent(req.EID))
}

// RPC: Unregister
func (s *Admin) Unregister(req *protocol.EndpointRequest, res *protocol.Empty) error {
	log.Infof("Admin.Unregister: %s", req.EID)
	if !s.node.Core.IsInEndpoints(req.EID) {
		return ErrUnknownEndpoint
	}
	s.node.Core.UnregisterApplicationAgent(core.NewSimpleApplicationAgent(req.EID))
	return nil
}

// RPC: Send
func (s *Admin) Send(req *protocol.SendRequest, res *protocol.SendResponse) error {
	ctx, cancel := context.WithTimeout(context.Background(), adminSendTimeout)
	defer cancel()

	b, err := s.node.Send(ctx, req.Source, req.Destination, req.Lifetime, req.Payload)
	if err != nil {
		return err
	}
	res.ID = b.ID()
	return nil
}

// RPC: Poll
func (s *Admin) Poll(req *protocol.EndpointRequest, res *protocol.PollResponse) error {
	found := s.node.Core.WithEndpoint(req.EID, func(aa core.ApplicationAgent) {
		for b := aa.Pop(); b != nil; b = aa.Pop() {
			res.Bundles = append(res.Bundles, b)
		}
	})
	if !found {
		return ErrUnknownEndpoint
	}
	log.Debugf("Admin.Poll: %d bundles for %s", len(res.Bundles), req.EID)
	return nil
}
