package routing

import "dtnd/eid"

// Flooding hands every bundle to every known peer, every time.
type Flooding struct{}

func NewFlooding() *Flooding {
	return &Flooding{}
}

func (f *Flooding) Name() string {
	return "flooding"
}

func (f *Flooding) Targets(bundleID string, dst eid.EndpointID, candidates []eid.EndpointID) []eid.EndpointID {
	out := make([]eid.EndpointID, len(candidates))
	copy(out, candidates)
	return out
}

func (f *Flooding) NotifySent(string, eid.EndpointID) {}
