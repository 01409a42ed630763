package crpc

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

// ServerError is an error returned by the remote method.
type ServerError string

func (e ServerError) Error() string {
	return string(e)
}

var ErrShutdown = errors.New("connection is shut down")

type call struct {
	reply any
	done  chan error
}

// Client multiplexes concurrent calls over one connection.
type Client struct {
	conn io.ReadWriteCloser

	wmu sync.Mutex // serializes request writes
	enc *cbor.Encoder

	mu       sync.Mutex // protects following fields
	seq      uint64
	pending  map[uint64]*call
	closing  bool
	shutdown bool
}

func NewClient(conn io.ReadWriteCloser) *Client {
	c := &Client{
		conn:    conn,
		enc:     cbor.NewEncoder(conn),
		pending: make(map[uint64]*call),
	}
	go c.input()
	return c
}

// Dial connects to an RPC server at the specified network address.
func Dial(ctx context.Context, network, address string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// Call invokes the named method and waits for it to complete or for ctx to be done.
func (c *Client) Call(ctx context.Context, serviceMethod string, args any, reply any) error {
	cl := &call{reply: reply, done: make(chan error, 1)}

	c.mu.Lock()
	if c.closing || c.shutdown {
		c.mu.Unlock()
		return ErrShutdown
	}
	seq := c.seq
	c.seq++
	c.pending[seq] = cl
	c.mu.Unlock()

	c.wmu.Lock()
	err := c.enc.Encode(&RequestHeader{Seq: seq, Method: serviceMethod})
	if err == nil {
		err = c.enc.Encode(args)
	}
	c.wmu.Unlock()

	if err != nil {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
		return err
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
		return ctx.Err()
	case err := <-cl.done:
		return err
	}
}

func (c *Client) input() {
	var err error
	dec := cbor.NewDecoder(c.conn)

	for err == nil {
		res := ResponseHeader{}
		if err = dec.Decode(&res); err != nil {
			break
		}

		c.mu.Lock()
		cl := c.pending[res.Seq]
		delete(c.pending, res.Seq)
		c.mu.Unlock()

		switch {
		case res.Err != "":
			if cl != nil {
				cl.done <- ServerError(res.Err)
			}
		case cl == nil:
			// The caller gave up; consume the body to stay in sync
			var discard cbor.RawMessage
			err = dec.Decode(&discard)
			log.Debugf("crpc: discarded reply for abandoned call %d", res.Seq)
		default:
			err = dec.Decode(cl.reply)
			cl.done <- err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.shutdown = true
	if !c.closing && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		log.Warnf("crpc: client input loop error: %v", err)
	}
	for _, cl := range c.pending {
		cl.done <- ErrShutdown
	}
	c.pending = make(map[uint64]*call)
}

// Close closes the underlying connection. Pending calls fail with ErrShutdown.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return ErrShutdown
	}
	c.closing = true
	c.mu.Unlock()
	return c.conn.Close()
}
