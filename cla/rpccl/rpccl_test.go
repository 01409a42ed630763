package rpccl

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"dtnd/cla"
	"dtnd/datamodel/bundle"
	"dtnd/eid"
	"dtnd/net/crpc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	b    *bundle.Bundle
	from eid.EndpointID
}

type chanReceiver struct {
	ch  chan received
	err error
}

func (r *chanReceiver) Receive(ctx context.Context, b *bundle.Bundle, from eid.EndpointID) error {
	if r.err != nil {
		return r.err
	}
	r.ch <- received{b: b, from: from}
	return nil
}

func serve(t *testing.T, rx cla.Receiver) *Agent {
	t.Helper()
	a, err := New("127.0.0.1:0", eid.MustParse("dtn://b/"))
	require.NoError(t, err)
	require.NotZero(t, a.Port())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Serve(ctx, rx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return a
}

func TestPushBundle(t *testing.T) {
	rx := &chanReceiver{ch: make(chan received, 1)}
	remote := serve(t, rx)

	local, err := New("127.0.0.1:0", eid.MustParse("dtn://a/admin"))
	require.NoError(t, err)
	defer local.listener.Close()

	b := &bundle.Bundle{
		Source:       eid.MustParse("dtn://a/app"),
		Destination:  eid.MustParse("dtn://b/app"),
		CreationTime: 1700000000,
		Sequence:     3,
		Payload:      []byte("hello"),
	}
	to := cla.Sender{Remote: net.ParseIP("127.0.0.1"), Port: remote.Port(), Agent: Name}
	require.NoError(t, local.Send(context.Background(), to, b))

	select {
	case got := <-rx.ch:
		assert.Equal(t, b.ID(), got.b.ID())
		assert.Equal(t, []byte("hello"), got.b.Payload)
		assert.Equal(t, "dtn://a/", got.from.String())
	case <-time.After(2 * time.Second):
		t.Fatal("bundle not received")
	}
}

func TestPushRejected(t *testing.T) {
	rx := &chanReceiver{err: errors.New("store full")}
	remote := serve(t, rx)

	local, err := New("127.0.0.1:0", eid.MustParse("dtn://a/admin"))
	require.NoError(t, err)
	defer local.listener.Close()

	b := &bundle.Bundle{Source: eid.MustParse("dtn://a/"), Destination: eid.MustParse("dtn://b/")}
	to := cla.Sender{Remote: net.ParseIP("127.0.0.1"), Port: remote.Port(), Agent: Name}
	err = local.Send(context.Background(), to, b)

	var se crpc.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "store full", se.Error())
}

func TestSendToClosedPort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(l.Addr().(*net.TCPAddr).Port)
	l.Close()

	local, err := New("127.0.0.1:0", eid.MustParse("dtn://a/admin"))
	require.NoError(t, err)
	defer local.listener.Close()

	to := cla.Sender{Remote: net.ParseIP("127.0.0.1"), Port: port, Agent: Name}
	b := &bundle.Bundle{Source: eid.MustParse("dtn://a/"), Destination: eid.MustParse("dtn://b/")}
	assert.Error(t, local.Send(context.Background(), to, b))
}
