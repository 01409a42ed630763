package core

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"

	"dtnd/cla"
	"dtnd/eid"
)

type PeerType int

const (
	// Static peers are configured by the operator and never expire.
	Static PeerType = iota
	// Dynamic peers are learned through discovery and expire when silent.
	Dynamic
)

func (t PeerType) String() string {
	switch t {
	case Static:
		return "static"
	case Dynamic:
		return "dynamic"
	default:
		return fmt.Sprintf("PeerType(%d)", int(t))
	}
}

func ParsePeerType(s string) (PeerType, error) {
	switch strings.ToLower(s) {
	case "static":
		return Static, nil
	case "dynamic":
		return Dynamic, nil
	default:
		return 0, fmt.Errorf("unknown peer type %q", s)
	}
}

func (t PeerType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *PeerType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	pt, err := ParsePeerType(s)
	if err != nil {
		return err
	}
	*t = pt
	return nil
}

// CLABinding is a transport a peer can be reached through.
type CLABinding struct {
	Name string `cbor:"1,keyasint" json:"name"`
	Port uint16 `cbor:"2,keyasint,omitempty" json:"port,omitempty"` // 0 when no port is advertised
}

// ParseCLABinding parses "name" or "name:port".
func ParseCLABinding(s string) (CLABinding, error) {
	name, port, hasPort := strings.Cut(s, ":")
	if name == "" {
		return CLABinding{}, fmt.Errorf("empty convergence layer name in %q", s)
	}
	if !hasPort {
		return CLABinding{Name: name}, nil
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return CLABinding{}, fmt.Errorf("bad port in %q: %w", s, err)
	}
	return CLABinding{Name: name, Port: uint16(p)}, nil
}

func (c CLABinding) String() string {
	if c.Port == 0 {
		return c.Name
	}
	return c.Name + ":" + strconv.Itoa(int(c.Port))
}

// Peer is one known neighbouring node.
type Peer struct {
	EID         eid.EndpointID `cbor:"1,keyasint" json:"eid"`
	Addr        net.IP         `cbor:"2,keyasint" json:"addr"`
	Type        PeerType       `cbor:"3,keyasint" json:"type"`
	CLAs        []CLABinding   `cbor:"4,keyasint,omitempty" json:"clas,omitempty"` // In order of preference
	LastContact uint64         `cbor:"5,keyasint" json:"last_contact"`             // Seconds since the Unix epoch
}

// NewPeer creates a peer record whose last contact is now (seconds since epoch).
func NewPeer(id eid.EndpointID, addr net.IP, t PeerType, clas []CLABinding, now uint64) Peer {
	return Peer{
		EID:         id,
		Addr:        addr,
		Type:        t,
		CLAs:        clas,
		LastContact: now,
	}
}

func (p *Peer) NodeName() string {
	n, _ := p.EID.NodePart()
	return n
}

// touch moves the last contact forward to now. It never moves it backwards.
func (p *Peer) touch(now uint64) {
	if now > p.LastContact {
		p.LastContact = now
	}
}

// validAt reports whether the peer was heard from within timeout seconds of now.
// A clock behind the last contact counts as zero elapsed time.
func (p *Peer) validAt(now uint64, timeout uint64) bool {
	if p.Type == Static {
		return true
	}
	var elapsed uint64
	if now > p.LastContact {
		elapsed = now - p.LastContact
	}
	return elapsed < timeout
}

// FirstCLA returns the first advertised binding whose transport is active on this node.
func (p *Peer) FirstCLA(active func(name string) bool) (cla.Sender, bool) {
	for _, c := range p.CLAs {
		if active(c.Name) {
			return cla.Sender{
				Remote: p.Addr,
				Port:   c.Port,
				Agent:  c.Name,
			}, true
		}
	}
	return cla.Sender{}, false
}

func (p *Peer) clone() Peer {
	c := *p
	c.Addr = append(net.IP(nil), p.Addr...)
	c.CLAs = append([]CLABinding(nil), p.CLAs...)
	return c
}
