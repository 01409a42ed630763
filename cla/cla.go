// Package cla defines the convergence layer agent contract used by the node core.
package cla

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"dtnd/datamodel/bundle"
	"dtnd/eid"
)

// Sender describes how to reach a peer through one convergence layer.
type Sender struct {
	Remote net.IP `cbor:"1,keyasint" json:"remote"`
	Port   uint16 `cbor:"2,keyasint,omitempty" json:"port,omitempty"` // 0 when the peer advertised no port
	Agent  string `cbor:"3,keyasint" json:"agent"`
}

// Address returns host:port for dialing, falling back to defaultPort.
func (s Sender) Address(defaultPort uint16) string {
	port := s.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(s.Remote.String(), strconv.Itoa(int(port)))
}

func (s Sender) String() string {
	if s.Port == 0 {
		return fmt.Sprintf("%s://%s", s.Agent, s.Remote)
	}
	return fmt.Sprintf("%s://%s", s.Agent, net.JoinHostPort(s.Remote.String(), strconv.Itoa(int(s.Port))))
}

// Receiver gets every bundle a convergence layer agent accepts from the network.
// from is the node the bundle was received from, the zero EndpointID when the
// transport cannot tell.
type Receiver interface {
	Receive(ctx context.Context, b *bundle.Bundle, from eid.EndpointID) error
}

// ConvergenceLayerAgent is a transport able to move bundles to and from peers.
type ConvergenceLayerAgent interface {
	// Name is matched against the transport names advertised by peers.
	Name() string

	// Port is the local listening port, also the default remote port.
	Port() uint16

	// Serve accepts bundles until ctx is cancelled.
	Serve(ctx context.Context, rx Receiver) error

	// Send transmits one bundle to the peer described by to.
	Send(ctx context.Context, to Sender, b *bundle.Bundle) error
}
