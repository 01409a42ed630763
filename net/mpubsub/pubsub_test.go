package mpubsub

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Ping struct {
	Name string `cbor:"1,keyasint"`
}

type received struct {
	msg *Ping
	src *net.UDPAddr
}

type Greeter struct {
	ch chan received
}

func (g *Greeter) Hello(msg *Ping, src *net.UDPAddr) {
	g.ch <- received{msg, src}
}

// ignored: no source address
func (g *Greeter) Bye(msg *Ping) {}

func loopbackBus(t *testing.T) (*PubSub, *net.UDPConn) {
	t.Helper()
	rc, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	wc, err := net.DialUDP("udp4", nil, rc.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { wc.Close() })
	return New(rc, wc), wc
}

func TestPublishAndDispatch(t *testing.T) {
	ps, wc := loopbackBus(t)
	g := &Greeter{ch: make(chan received, 1)}
	require.NoError(t, ps.Register(g))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ps.Listen(ctx) }()

	require.NoError(t, ps.Publish("Greeter.Hello", &Ping{Name: "node1"}))

	select {
	case r := <-g.ch:
		assert.Equal(t, "node1", r.msg.Name)
		require.NotNil(t, r.src)
		assert.Equal(t, wc.LocalAddr().(*net.UDPAddr).Port, r.src.Port)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}

func TestUnknownMessagesAreDropped(t *testing.T) {
	ps, _ := loopbackBus(t)
	g := &Greeter{ch: make(chan received, 1)}
	require.NoError(t, ps.Register(g))

	assert.Error(t, ps.dispatch([]byte{0xff}, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ps.Listen(ctx)

	require.NoError(t, ps.Publish("Greeter.Bye", &Ping{Name: "x"}))
	require.NoError(t, ps.Publish("Nobody.Hello", &Ping{Name: "x"}))
	require.NoError(t, ps.Publish("Greeter.Hello", &Ping{Name: "y"}))

	select {
	case r := <-g.ch:
		assert.Equal(t, "y", r.msg.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestRegister(t *testing.T) {
	ps := New(nil, nil)
	assert.Error(t, ps.Register(&struct{}{}))
	require.NoError(t, ps.Register(&Greeter{}))
	assert.Error(t, ps.Register(&Greeter{}))

	assert.Error(t, ps.Publish("Greeter.Hello", &Ping{}))
	assert.Error(t, ps.Listen(context.Background()))
}
