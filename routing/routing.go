// Package routing holds the forwarding strategies a node can be built with.
package routing

import (
	"errors"
	"fmt"
	"sort"

	"dtnd/eid"
)

var ErrUnknownAgent = errors.New("unknown routing agent")

// Agent decides which neighbours a bundle is handed to next.
type Agent interface {
	Name() string

	// Targets picks the next hops for a bundle among the currently known peers.
	Targets(bundleID string, dst eid.EndpointID, candidates []eid.EndpointID) []eid.EndpointID

	// NotifySent records that the bundle was handed to peer.
	NotifySent(bundleID string, peer eid.EndpointID)
}

const DefaultAgent = "epidemic"

var constructors = map[string]func() Agent{
	"epidemic": func() Agent { return NewEpidemic() },
	"flooding": func() Agent { return NewFlooding() },
}

// New constructs the routing agent registered under name. An empty name selects DefaultAgent.
func New(name string) (Agent, error) {
	if name == "" {
		name = DefaultAgent
	}
	c, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownAgent, name, Names())
	}
	return c(), nil
}

func Names() []string {
	names := make([]string, 0, len(constructors))
	for n := range constructors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// directHit returns the candidate that hosts dst, if any.
func directHit(dst eid.EndpointID, candidates []eid.EndpointID) (eid.EndpointID, bool) {
	node, ok := dst.NodePart()
	if !ok {
		return eid.EndpointID{}, false
	}
	for _, c := range candidates {
		if n, _ := c.NodePart(); n == node {
			return c, true
		}
	}
	return eid.EndpointID{}, false
}
