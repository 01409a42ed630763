package routing

import (
	"sync"

	"dtnd/eid"

	log "github.com/sirupsen/logrus"
)

// Epidemic hands a bundle to each peer at most once. A peer hosting the
// destination is preferred and used exclusively when present.
type Epidemic struct {
	mu      sync.Mutex
	history map[string]map[eid.EndpointID]struct{} // bundle ID -> peers it was sent to
}

func NewEpidemic() *Epidemic {
	return &Epidemic{
		history: make(map[string]map[eid.EndpointID]struct{}),
	}
}

func (e *Epidemic) Name() string {
	return "epidemic"
}

func (e *Epidemic) Targets(bundleID string, dst eid.EndpointID, candidates []eid.EndpointID) []eid.EndpointID {
	e.mu.Lock()
	defer e.mu.Unlock()

	sent := e.history[bundleID]

	if direct, ok := directHit(dst, candidates); ok {
		if _, done := sent[direct]; done {
			return nil
		}
		return []eid.EndpointID{direct}
	}

	var out []eid.EndpointID
	for _, c := range candidates {
		if _, done := sent[c]; !done {
			out = append(out, c)
		}
	}
	return out
}

func (e *Epidemic) NotifySent(bundleID string, peer eid.EndpointID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sent, ok := e.history[bundleID]
	if !ok {
		sent = make(map[eid.EndpointID]struct{})
		e.history[bundleID] = sent
	}
	sent[peer] = struct{}{}
	log.Debugf("epidemic: %s sent to %s", bundleID, peer)
}

// Forget drops the history of a bundle once the node no longer holds it.
func (e *Epidemic) Forget(bundleID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.history, bundleID)
}
