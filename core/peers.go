package core

import (
	"net"
	"sort"
	"sync"

	"dtnd/cla"
	"dtnd/eid"

	"github.com/benbjohnson/clock"

	log "github.com/sirupsen/logrus"
)

// TimeoutFunc returns the peer liveness timeout in seconds. It is called on
// every validity check so that configuration changes apply immediately.
type TimeoutFunc func() uint64

// PeerRegistry is the set of known neighbours. There is at most one record per
// node: EIDs naming different services of the same node share a record.
type PeerRegistry struct {
	mu      sync.Mutex
	peers   map[eid.EndpointID]*Peer // keyed by EndpointID.NodeID()
	clock   clock.Clock
	timeout TimeoutFunc
}

func NewPeerRegistry(clk clock.Clock, timeout TimeoutFunc) *PeerRegistry {
	return &PeerRegistry{
		peers:   make(map[eid.EndpointID]*Peer),
		clock:   clk,
		timeout: timeout,
	}
}

// Now returns the registry clock in seconds since the Unix epoch.
func (r *PeerRegistry) Now() uint64 {
	now := r.clock.Now().Unix()
	if now < 0 {
		return 0
	}
	return uint64(now)
}

// NewPeer creates a peer record stamped with the registry clock.
func (r *PeerRegistry) NewPeer(id eid.EndpointID, addr net.IP, t PeerType, clas []CLABinding) Peer {
	return NewPeer(id, addr, t, clas, r.Now())
}

// Add inserts a peer or replaces the record of the same node.
// The last contact of an existing record never moves backwards.
func (r *PeerRegistry) Add(p Peer) {
	p = p.clone()
	key := p.EID.NodeID()

	r.mu.Lock()
	existing, ok := r.peers[key]
	if ok && existing.LastContact > p.LastContact {
		p.LastContact = existing.LastContact
	}
	r.peers[key] = &p
	r.mu.Unlock()

	if ok {
		log.Debugf("PeerRegistry: updated %s peer %s @ %s", p.Type, p.EID, p.Addr)
	} else {
		log.Infof("PeerRegistry: added %s peer %s @ %s, clas: %v", p.Type, p.EID, p.Addr, p.CLAs)
	}
}

// Touch records fresh contact with the node of id. It reports whether the node is known.
func (r *PeerRegistry) Touch(id eid.EndpointID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[id.NodeID()]
	if !ok {
		return false
	}
	p.touch(r.Now())
	return true
}

// StillValid reports whether a peer has been heard from within the configured timeout.
// Static peers are always valid.
func (r *PeerRegistry) StillValid(p Peer) bool {
	return p.validAt(r.Now(), r.timeout())
}

// Get returns the record of the node hosting id.
func (r *PeerRegistry) Get(id eid.EndpointID) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[id.NodeID()]
	if !ok {
		return Peer{}, false
	}
	return p.clone(), true
}

// Remove forgets the node hosting id. It reports whether the node was known.
func (r *PeerRegistry) Remove(id eid.EndpointID) bool {
	key := id.NodeID()

	r.mu.Lock()
	_, ok := r.peers[key]
	delete(r.peers, key)
	r.mu.Unlock()

	if ok {
		log.Infof("PeerRegistry: removed peer %s", key)
	}
	return ok
}

// sortedKeys expects r.mu to be held
func (r *PeerRegistry) sortedKeys() []eid.EndpointID {
	keys := make([]eid.EndpointID, 0, len(r.peers))
	for k := range r.peers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

// ForNode finds the peer hosting the node of id. Only the node part of the
// EIDs is compared, so dtn://n1/mailbox and dtn://n1/admin both match the
// peer registered as dtn://n1/.
func (r *PeerRegistry) ForNode(id eid.EndpointID) (Peer, bool) {
	if _, ok := id.NodePart(); !ok {
		return Peer{}, false
	}
	return r.Get(id)
}

// ResolveCLA returns the first transport binding of the peer hosting id that
// is active on this node. The registry lock is released before active is
// called, so active may take other locks.
func (r *PeerRegistry) ResolveCLA(id eid.EndpointID, active func(name string) bool) (cla.Sender, bool) {
	p, ok := r.ForNode(id)
	if !ok {
		log.Debugf("PeerRegistry: no peer known for %s", id)
		return cla.Sender{}, false
	}
	return p.FirstCLA(active)
}

// Sweep evicts every dynamic peer that is no longer valid.
func (r *PeerRegistry) Sweep() {
	r.mu.Lock()
	now := r.Now()
	timeout := r.timeout()

	var evicted []*Peer
	for k, p := range r.peers {
		if p.Type == Dynamic && !p.validAt(now, timeout) {
			evicted = append(evicted, p)
			delete(r.peers, k)
		}
	}
	r.mu.Unlock()

	for _, p := range evicted {
		log.Infof("PeerRegistry: evicted %s (node %s), last contact %ds ago (timeout %ds)", p.EID, p.NodeName(), now-min(now, p.LastContact), timeout)
	}
}

// List returns a copy of all peers ordered by EID.
func (r *PeerRegistry) List() []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Peer, 0, len(r.peers))
	for _, k := range r.sortedKeys() {
		out = append(out, r.peers[k].clone())
	}
	return out
}

func (r *PeerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}
