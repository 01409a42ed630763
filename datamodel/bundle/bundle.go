package bundle

import (
	"errors"
	"fmt"

	"dtnd/eid"
)

var ErrNotFound = errors.New("bundle not found")

// Bundle is the node-local record of a bundle. It is not the RFC 9171 wire format.
type Bundle struct {
	Source      eid.EndpointID `cbor:"1,keyasint" json:"source"`
	Destination eid.EndpointID `cbor:"2,keyasint" json:"destination"`

	// Seconds since the Unix epoch
	CreationTime uint64 `cbor:"3,keyasint" json:"creation_time"`

	// Disambiguates bundles created within the same second
	Sequence uint64 `cbor:"4,keyasint" json:"sequence"`

	// Seconds, 0 means no expiry
	Lifetime uint64 `cbor:"5,keyasint,omitempty" json:"lifetime,omitempty"`

	Payload []byte `cbor:"6,keyasint,omitempty" json:"payload,omitempty"`
}

// ID returns the bundle identifier <source>-<creation time>-<sequence>.
func (b *Bundle) ID() string {
	return fmt.Sprintf("%s-%d-%d", b.Source.String(), b.CreationTime, b.Sequence)
}

// Expired reports whether the lifetime of the bundle has elapsed at now (seconds since epoch).
func (b *Bundle) Expired(now uint64) bool {
	if b.Lifetime == 0 {
		return false
	}
	return now >= b.CreationTime+b.Lifetime
}

// Store defines the interface for persisting bundles held by the node.
type Store interface {
	// Push stores a bundle. Pushing a bundle with an existing ID replaces it.
	Push(*Bundle) error

	// Get retrieves a bundle by its ID, or ErrNotFound.
	Get(id string) (*Bundle, error)

	// Has checks if a bundle with the given ID is stored.
	Has(id string) (bool, error)

	// Remove deletes a bundle. Removing an unknown bundle is not an error.
	Remove(id string) error

	// ListBundleIDs returns the IDs of all bundles currently held.
	ListBundleIDs() ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}
