package eid

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

type Scheme int

const (
	SchemeUnknown Scheme = iota
	SchemeDTN
	SchemeIPN
)

const (
	dtnPrefix = "dtn:"
	ipnPrefix = "ipn:"
	dtnNone   = "dtn:none"
)

var ErrInvalidScheme = errors.New("invalid endpoint scheme")
var ErrInvalidFormat = errors.New("invalid endpoint format")

// EndpointID names a node and, optionally, a service hosted on it.
// Supported forms are dtn://node/service, dtn:none and ipn:node.service.
// EndpointID values are comparable with ==.
type EndpointID struct {
	scheme  Scheme
	node    string
	service string
}

// None is the null endpoint dtn:none.
var None = EndpointID{scheme: SchemeDTN}

func (e EndpointID) Scheme() Scheme {
	return e.scheme
}

func (e EndpointID) IsNone() bool {
	return e.scheme == SchemeDTN && e.node == ""
}

// NodePart returns the node component shared by all services of a node.
// dtn:none and the zero value have no node part.
func (e EndpointID) NodePart() (string, bool) {
	if e.node == "" {
		return "", false
	}
	return e.node, true
}

// NodeID returns the administrative endpoint of the node, e.g. dtn://node1/
func (e EndpointID) NodeID() EndpointID {
	switch e.scheme {
	case SchemeIPN:
		return EndpointID{scheme: SchemeIPN, node: e.node, service: "0"}
	default:
		return EndpointID{scheme: e.scheme, node: e.node}
	}
}

func (e EndpointID) String() string {
	switch e.scheme {
	case SchemeDTN:
		if e.node == "" {
			return dtnNone
		}
		return "dtn://" + e.node + "/" + e.service
	case SchemeIPN:
		return ipnPrefix + e.node + "." + e.service
	default:
		return ""
	}
}

func Parse(s string) (EndpointID, error) {
	switch {
	case s == dtnNone:
		return None, nil
	case strings.HasPrefix(s, "dtn://"):
		rest := strings.TrimPrefix(s, "dtn://")
		node, service, _ := strings.Cut(rest, "/")
		if node == "" {
			return EndpointID{}, fmt.Errorf("%w: missing node name in %q", ErrInvalidFormat, s)
		}
		return EndpointID{scheme: SchemeDTN, node: node, service: service}, nil
	case strings.HasPrefix(s, dtnPrefix):
		return EndpointID{}, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	case strings.HasPrefix(s, ipnPrefix):
		node, service, ok := strings.Cut(strings.TrimPrefix(s, ipnPrefix), ".")
		if !ok {
			return EndpointID{}, fmt.Errorf("%w: missing service number in %q", ErrInvalidFormat, s)
		}
		if _, err := strconv.ParseUint(node, 10, 64); err != nil {
			return EndpointID{}, fmt.Errorf("%w: bad node number in %q", ErrInvalidFormat, s)
		}
		if _, err := strconv.ParseUint(service, 10, 64); err != nil {
			return EndpointID{}, fmt.Errorf("%w: bad service number in %q", ErrInvalidFormat, s)
		}
		return EndpointID{scheme: SchemeIPN, node: node, service: service}, nil
	default:
		return EndpointID{}, fmt.Errorf("%w: %q", ErrInvalidScheme, s)
	}
}

func MustParse(s string) EndpointID {
	e, err := Parse(s)
	if err != nil {
		log.Fatalf("Failed to parse EID: %v", err)
	}
	return e
}

// The string form is used on the wire so that encoded records stay readable.
func (e EndpointID) MarshalBinary() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *EndpointID) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		*e = EndpointID{}
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

func (e EndpointID) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

func (e *EndpointID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return e.UnmarshalBinary([]byte(s))
}
