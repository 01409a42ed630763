// Package protocol holds the messages exchanged between nodes and between a
// node and its administration client.
package protocol

import (
	"dtnd/core"
	"dtnd/datamodel/bundle"
	"dtnd/eid"
	"dtnd/stats"
)

// Published periodically on the discovery group
type BeaconMessage struct {
	EID  eid.EndpointID    `cbor:"1,keyasint"`           // Node identifier
	CLAs []core.CLABinding `cbor:"2,keyasint,omitempty"` // Transports the node accepts bundles on
}

// Node to node: Bundles.Push

type PushRequest struct {
	Bundle *bundle.Bundle `cbor:"1,keyasint"`
	From   eid.EndpointID `cbor:"2,keyasint"` // Node ID of the sender
}

type PushResponse struct {
	ID string `cbor:"1,keyasint,omitempty"` // ID of the accepted bundle
}

// Client to node: the Admin service

type Empty struct{}

type EndpointsResponse struct {
	EIDs []string `cbor:"1,keyasint,omitempty"`
}

type BundlesResponse struct {
	IDs []string `cbor:"1,keyasint,omitempty"`
}

type PeersResponse struct {
	Peers []core.Peer `cbor:"1,keyasint,omitempty"`
}

type StatsResponse struct {
	Stats stats.Snapshot `cbor:"1,keyasint"`
}

type EndpointRequest struct {
	EID eid.EndpointID `cbor:"1,keyasint"`
}

type SendRequest struct {
	Source      eid.EndpointID `cbor:"1,keyasint,omitempty"` // Defaults to the node EID
	Destination eid.EndpointID `cbor:"2,keyasint"`
	Lifetime    uint64         `cbor:"3,keyasint,omitempty"` // Seconds
	Payload     []byte         `cbor:"4,keyasint,omitempty"`
}

type SendResponse struct {
	ID string `cbor:"1,keyasint"`
}

type PollResponse struct {
	Bundles []*bundle.Bundle `cbor:"1,keyasint,omitempty"` // Oldest first
}
