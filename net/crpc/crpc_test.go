package crpc

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type EchoArgs struct {
	Text  string `cbor:"1,keyasint"`
	Times int    `cbor:"2,keyasint"`
}

type EchoReply struct {
	Text string `cbor:"1,keyasint"`
}

type Echo struct{}

func (e *Echo) Repeat(args *EchoArgs, reply *EchoReply) error {
	for i := 0; i < args.Times; i++ {
		reply.Text += args.Text
	}
	return nil
}

func (e *Echo) Fail(args *EchoArgs, reply *EchoReply) error {
	return errors.New("refused: " + args.Text)
}

func (e *Echo) Crash(args *EchoArgs, reply *EchoReply) error {
	panic("boom")
}

// not exported over RPC: wrong signature
func (e *Echo) Helper() string { return "" }

func startServer(t *testing.T) (*Server, context.CancelFunc) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(l)
	require.NoError(t, srv.Register(&Echo{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return srv, cancel
}

func dial(t *testing.T, srv *Server) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, "tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCall(t *testing.T) {
	srv, _ := startServer(t)
	c := dial(t, srv)

	var reply EchoReply
	err := c.Call(context.Background(), "Echo.Repeat", &EchoArgs{Text: "ab", Times: 3}, &reply)
	require.NoError(t, err)
	assert.Equal(t, "ababab", reply.Text)
}

func TestServerErrors(t *testing.T) {
	srv, _ := startServer(t)
	c := dial(t, srv)
	ctx := context.Background()

	var reply EchoReply
	err := c.Call(ctx, "Echo.Fail", &EchoArgs{Text: "nope"}, &reply)
	var se ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "refused: nope", se.Error())

	err = c.Call(ctx, "Echo.Missing", &EchoArgs{}, &reply)
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Error(), "can't find method")

	err = c.Call(ctx, "Nobody.Repeat", &EchoArgs{}, &reply)
	require.ErrorAs(t, err, &se)

	err = c.Call(ctx, "Echo.Crash", &EchoArgs{}, &reply)
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Error(), "internal server error")

	// the connection survives all of the above
	require.NoError(t, c.Call(ctx, "Echo.Repeat", &EchoArgs{Text: "x", Times: 1}, &reply))
	assert.Equal(t, "x", reply.Text)
}

func TestConcurrentCalls(t *testing.T) {
	srv, _ := startServer(t)
	c := dial(t, srv)

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			var reply EchoReply
			err := c.Call(context.Background(), "Echo.Repeat", &EchoArgs{Text: "z", Times: n}, &reply)
			assert.NoError(t, err)
			assert.Len(t, reply.Text, n)
		}(i)
	}
	wg.Wait()
}

func TestRegisterRejectsBadServices(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	srv := NewServer(l)

	type hidden struct{}
	assert.Error(t, srv.Register(&hidden{}))
	assert.Error(t, srv.Register(&struct{}{}))

	require.NoError(t, srv.Register(&Echo{}))
	assert.Error(t, srv.Register(&Echo{}))
	require.NoError(t, srv.RegisterName("Echo2", &Echo{}))
}

func TestCallAfterClose(t *testing.T) {
	srv, _ := startServer(t)
	c := dial(t, srv)
	require.NoError(t, c.Close())

	var reply EchoReply
	err := c.Call(context.Background(), "Echo.Repeat", &EchoArgs{}, &reply)
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestServerShutdownFailsPendingClients(t *testing.T) {
	srv, cancel := startServer(t)
	c := dial(t, srv)

	var reply EchoReply
	require.NoError(t, c.Call(context.Background(), "Echo.Repeat", &EchoArgs{Text: "a", Times: 1}, &reply))

	cancel()
	assert.Eventually(t, func() bool {
		err := c.Call(context.Background(), "Echo.Repeat", &EchoArgs{}, &reply)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}
