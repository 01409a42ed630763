// Package core holds the identity of the local node: its application
// endpoints, its convergence layers, its routing strategy and the registry
// of neighbouring peers.
package core

import (
	"errors"
	"sync"

	"dtnd/cla"
	"dtnd/datamodel/bundle"
	"dtnd/eid"
	"dtnd/routing"

	log "github.com/sirupsen/logrus"
)

var ErrEndpointExists = errors.New("endpoint already registered")
var ErrCLAExists = errors.New("convergence layer already registered")

// Core composes what the node can do and who it acts as.
type Core struct {
	mu        sync.RWMutex
	endpoints []ApplicationAgent
	clas      []cla.ConvergenceLayerAgent
	routing   routing.Agent
	store     bundle.Store
}

// New creates the node core. A nil agent selects the default routing strategy.
func New(store bundle.Store, agent routing.Agent) *Core {
	if agent == nil {
		agent = routing.NewEpidemic()
	}
	log.Infof("Core: using %s routing", agent.Name())
	return &Core{
		routing: agent,
		store:   store,
	}
}

// indexOf expects c.mu to be held
func (c *Core) indexOf(id eid.EndpointID) int {
	for i, aa := range c.endpoints {
		if aa.EID() == id {
			return i
		}
	}
	return -1
}

// RegisterApplicationAgent takes ownership of an application agent.
// At most one agent may be registered per EID.
func (c *Core) RegisterApplicationAgent(aa ApplicationAgent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.indexOf(aa.EID()) >= 0 {
		log.Warnf("Core: refusing second application agent for EID %s", aa.EID())
		return ErrEndpointExists
	}
	c.endpoints = append(c.endpoints, aa)
	log.Infof("Core: registered new application agent for EID %s", aa.EID())
	return nil
}

// UnregisterApplicationAgent removes the agent with the same EID as aa, if any.
func (c *Core) UnregisterApplicationAgent(aa ApplicationAgent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(aa.EID())
	if i < 0 {
		log.Debugf("Core: no application agent for EID %s to unregister", aa.EID())
		return
	}
	c.endpoints = append(c.endpoints[:i], c.endpoints[i+1:]...)
	log.Infof("Core: unregistered application agent for EID %s", aa.EID())
}

// EIDs lists the registered endpoints in registration order.
func (c *Core) EIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.endpoints))
	for _, aa := range c.endpoints {
		out = append(out, aa.EID().String())
	}
	return out
}

// Bundles lists the IDs of all bundles held by the store.
func (c *Core) Bundles() ([]string, error) {
	return c.store.ListBundleIDs()
}

// Store returns the bundle store the core was built with.
func (c *Core) Store() bundle.Store {
	return c.store
}

func (c *Core) GetEndpoint(id eid.EndpointID) (ApplicationAgent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i := c.indexOf(id)
	if i < 0 {
		return nil, false
	}
	return c.endpoints[i], true
}

// WithEndpoint runs fn on the agent registered for id while holding the core
// exclusively. fn must not call back into the core. It reports whether the
// endpoint exists.
func (c *Core) WithEndpoint(id eid.EndpointID, fn func(ApplicationAgent)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(id)
	if i < 0 {
		return false
	}
	fn(c.endpoints[i])
	return true
}

// IsInEndpoints reports whether id is hosted by this node.
func (c *Core) IsInEndpoints(id eid.EndpointID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.indexOf(id) >= 0
}

// RegisterCLA adds a convergence layer. Names must be unique.
func (c *Core) RegisterCLA(agent cla.ConvergenceLayerAgent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, existing := range c.clas {
		if existing.Name() == agent.Name() {
			return ErrCLAExists
		}
	}
	c.clas = append(c.clas, agent)
	log.Infof("Core: registered convergence layer %s on port %d", agent.Name(), agent.Port())
	return nil
}

func (c *Core) CLAs() []cla.ConvergenceLayerAgent {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]cla.ConvergenceLayerAgent, len(c.clas))
	copy(out, c.clas)
	return out
}

func (c *Core) CLA(name string) (cla.ConvergenceLayerAgent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, agent := range c.clas {
		if agent.Name() == name {
			return agent, true
		}
	}
	return nil, false
}

// HasCLA reports whether a convergence layer with the given name is active.
func (c *Core) HasCLA(name string) bool {
	_, ok := c.CLA(name)
	return ok
}

func (c *Core) CLANames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.clas))
	for _, agent := range c.clas {
		out = append(out, agent.Name())
	}
	return out
}

func (c *Core) RoutingAgent() routing.Agent {
	return c.routing
}
