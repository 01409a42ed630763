package core

import (
	"sync"

	"dtnd/datamodel/bundle"
	"dtnd/eid"
)

// ApplicationAgent is a local endpoint bundles can be delivered to.
type ApplicationAgent interface {
	EID() eid.EndpointID

	// Push queues a bundle delivered to this endpoint.
	Push(b *bundle.Bundle)

	// Pop removes the oldest queued bundle, or returns nil.
	Pop() *bundle.Bundle
}

// SimpleApplicationAgent is an in-memory mailbox.
type SimpleApplicationAgent struct {
	eid eid.EndpointID

	mu      sync.Mutex
	bundles []*bundle.Bundle
}

func NewSimpleApplicationAgent(id eid.EndpointID) *SimpleApplicationAgent {
	return &SimpleApplicationAgent{eid: id}
}

func (a *SimpleApplicationAgent) EID() eid.EndpointID {
	return a.eid
}

func (a *SimpleApplicationAgent) Push(b *bundle.Bundle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bundles = append(a.bundles, b)
}

func (a *SimpleApplicationAgent) Pop() *bundle.Bundle {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.bundles) == 0 {
		return nil
	}
	b := a.bundles[0]
	a.bundles[0] = nil
	a.bundles = a.bundles[1:]
	return b
}
