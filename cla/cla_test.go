package cla

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSenderAddress(t *testing.T) {
	s := Sender{Remote: net.ParseIP("10.0.0.1"), Agent: "crpc"}
	assert.Equal(t, "10.0.0.1:4556", s.Address(4556))
	assert.Equal(t, "crpc://10.0.0.1", s.String())

	s.Port = 16162
	assert.Equal(t, "10.0.0.1:16162", s.Address(4556))
	assert.Equal(t, "crpc://10.0.0.1:16162", s.String())

	v6 := Sender{Remote: net.ParseIP("fe80::1"), Port: 1, Agent: "crpc"}
	assert.Equal(t, "[fe80::1]:1", v6.Address(0))
}
