// Package rpccl is a convergence layer that pushes bundles to peers over crpc.
package rpccl

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"dtnd/cla"
	"dtnd/datamodel/bundle"
	"dtnd/eid"
	"dtnd/net/crpc"
	"dtnd/protocol"

	log "github.com/sirupsen/logrus"
)

const Name = "crpc"

const dialTimeout = 5 * time.Second

var ErrNoBundle = errors.New("push request without bundle")

var _ cla.ConvergenceLayerAgent = (*Agent)(nil)

// Bundles is the RPC service peers push to.
type Bundles struct {
	ctx context.Context
	rx  cla.Receiver
}

// RPC: Push
func (s *Bundles) Push(req *protocol.PushRequest, res *protocol.PushResponse) error {
	if req.Bundle == nil {
		return ErrNoBundle
	}
	log.Debugf("Bundles.Push: %s -> %s from %s", req.Bundle.ID(), req.Bundle.Destination, req.From)
	if err := s.rx.Receive(s.ctx, req.Bundle, req.From); err != nil {
		return err
	}
	res.ID = req.Bundle.ID()
	return nil
}

type Agent struct {
	listener net.Listener
	port     uint16
	self     eid.EndpointID // sent along with every push
}

// New binds the listening socket right away so that Port is known before Serve.
// self is the node ID announced to receivers.
func New(listen string, self eid.EndpointID) (*Agent, error) {
	l, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("crpc cla: %w", err)
	}
	port := 0
	if tcp, ok := l.Addr().(*net.TCPAddr); ok {
		port = tcp.Port
	}
	return &Agent{
		listener: l,
		port:     uint16(port),
		self:     self.NodeID(),
	}, nil
}

func (a *Agent) Name() string {
	return Name
}

func (a *Agent) Port() uint16 {
	return a.port
}

func (a *Agent) Serve(ctx context.Context, rx cla.Receiver) error {
	srv := crpc.NewServer(a.listener)
	if err := srv.Register(&Bundles{ctx: ctx, rx: rx}); err != nil {
		return err
	}
	log.Infof("crpc cla: listening on %s", srv.Addr())
	return srv.Serve(ctx)
}

func (a *Agent) Send(ctx context.Context, to cla.Sender, b *bundle.Bundle) error {
	addr := to.Address(a.port)

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	c, err := crpc.Dial(dctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("crpc cla: dial %s: %w", addr, err)
	}
	defer c.Close()

	res := &protocol.PushResponse{}
	if err := c.Call(dctx, "Bundles.Push", &protocol.PushRequest{Bundle: b, From: a.self}, res); err != nil {
		return fmt.Errorf("crpc cla: push %s to %s: %w", b.ID(), addr, err)
	}
	log.Debugf("crpc cla: pushed %s to %s", res.ID, addr)
	return nil
}
