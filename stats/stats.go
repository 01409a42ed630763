// Package stats keeps node-wide bundle counters.
package stats

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is a consistent copy of all counters.
type Snapshot struct {
	Incoming  uint64 `cbor:"1,keyasint" json:"incoming"`
	Dups      uint64 `cbor:"2,keyasint" json:"dups"`
	Outgoing  uint64 `cbor:"3,keyasint" json:"outgoing"`
	Delivered uint64 `cbor:"4,keyasint" json:"delivered"`
	Broken    uint64 `cbor:"5,keyasint" json:"broken"`
}

// Statistics counts bundle events for the lifetime of the process.
type Statistics struct {
	mu sync.Mutex
	s  Snapshot
}

func New() *Statistics {
	return &Statistics{}
}

func (st *Statistics) IncIncoming() {
	st.mu.Lock()
	st.s.Incoming++
	st.mu.Unlock()
}

func (st *Statistics) IncDups() {
	st.mu.Lock()
	st.s.Dups++
	st.mu.Unlock()
}

func (st *Statistics) IncOutgoing() {
	st.mu.Lock()
	st.s.Outgoing++
	st.mu.Unlock()
}

func (st *Statistics) IncDelivered() {
	st.mu.Lock()
	st.s.Delivered++
	st.mu.Unlock()
}

func (st *Statistics) IncBroken() {
	st.mu.Lock()
	st.s.Broken++
	st.mu.Unlock()
}

func (st *Statistics) Snapshot() Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s
}

// Register exposes the counters to Prometheus. The values are read on every scrape.
func (st *Statistics) Register(reg prometheus.Registerer, namespace string) error {
	counters := []struct {
		name string
		help string
		get  func(Snapshot) uint64
	}{
		{"bundles_incoming_total", "Bundles received from peers or local applications", func(s Snapshot) uint64 { return s.Incoming }},
		{"bundles_dups_total", "Received bundles that were already stored", func(s Snapshot) uint64 { return s.Dups }},
		{"bundles_outgoing_total", "Bundles handed to a convergence layer", func(s Snapshot) uint64 { return s.Outgoing }},
		{"bundles_delivered_total", "Bundles delivered to a local endpoint", func(s Snapshot) uint64 { return s.Delivered }},
		{"bundles_broken_total", "Bundles that failed to be processed or forwarded", func(s Snapshot) uint64 { return s.Broken }},
	}

	for _, c := range counters {
		get := c.get
		cf := prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      c.name,
			Help:      c.help,
		}, func() float64 {
			return float64(get(st.Snapshot()))
		})
		if err := reg.Register(cf); err != nil {
			return err
		}
	}
	return nil
}
