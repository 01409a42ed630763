package core

import (
	"context"
	"net"
	"sync"
	"testing"

	"dtnd/cla"
	"dtnd/datamodel/bundle"
	"dtnd/eid"
	"dtnd/routing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu  sync.Mutex
	ids []string
}

func (m *memStore) Push(b *bundle.Bundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, b.ID())
	return nil
}
func (m *memStore) Get(string) (*bundle.Bundle, error) { return nil, bundle.ErrNotFound }
func (m *memStore) Has(string) (bool, error)            { return false, nil }
func (m *memStore) Remove(string) error                 { return nil }
func (m *memStore) Close() error                        { return nil }
func (m *memStore) ListBundleIDs() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ids...), nil
}

type fakeCLA struct {
	name string
}

func (f *fakeCLA) Name() string { return f.name }
func (f *fakeCLA) Port() uint16 { return 4556 }

func (f *fakeCLA) Serve(ctx context.Context, _ cla.Receiver) error {
	<-ctx.Done()
	return nil
}

func (f *fakeCLA) Send(context.Context, cla.Sender, *bundle.Bundle) error {
	return nil
}

func TestNewDefaultsToEpidemic(t *testing.T) {
	c := New(&memStore{}, nil)
	assert.Equal(t, "epidemic", c.RoutingAgent().Name())

	c = New(&memStore{}, routing.NewFlooding())
	assert.Equal(t, "flooding", c.RoutingAgent().Name())
}

func TestRegisterAndUnregister(t *testing.T) {
	c := New(&memStore{}, nil)
	mailbox := NewSimpleApplicationAgent(eid.MustParse("dtn://node1/mailbox"))
	admin := NewSimpleApplicationAgent(eid.MustParse("dtn://node1/admin"))

	require.NoError(t, c.RegisterApplicationAgent(mailbox))
	require.NoError(t, c.RegisterApplicationAgent(admin))
	assert.Equal(t, []string{"dtn://node1/mailbox", "dtn://node1/admin"}, c.EIDs())

	c.UnregisterApplicationAgent(mailbox)
	assert.Equal(t, []string{"dtn://node1/admin"}, c.EIDs())

	// Unknown agents are a no-op
	c.UnregisterApplicationAgent(NewSimpleApplicationAgent(eid.MustParse("dtn://other/x")))
	c.UnregisterApplicationAgent(mailbox)
	assert.Equal(t, []string{"dtn://node1/admin"}, c.EIDs())
}

func TestDuplicateEndpointRejected(t *testing.T) {
	c := New(&memStore{}, nil)
	id := eid.MustParse("dtn://node1/mailbox")

	require.NoError(t, c.RegisterApplicationAgent(NewSimpleApplicationAgent(id)))
	assert.ErrorIs(t, c.RegisterApplicationAgent(NewSimpleApplicationAgent(id)), ErrEndpointExists)
	assert.Equal(t, []string{"dtn://node1/mailbox"}, c.EIDs())
}

func TestEndpointLookupIsExact(t *testing.T) {
	c := New(&memStore{}, nil)
	id := eid.MustParse("dtn://node1/mailbox")
	require.NoError(t, c.RegisterApplicationAgent(NewSimpleApplicationAgent(id)))

	aa, ok := c.GetEndpoint(id)
	require.True(t, ok)
	assert.Equal(t, id, aa.EID())
	assert.True(t, c.IsInEndpoints(id))

	other := eid.MustParse("dtn://node1/admin")
	_, ok = c.GetEndpoint(other)
	assert.False(t, ok)
	assert.False(t, c.IsInEndpoints(other))
}

func TestWithEndpointMutates(t *testing.T) {
	c := New(&memStore{}, nil)
	id := eid.MustParse("dtn://node1/mailbox")
	require.NoError(t, c.RegisterApplicationAgent(NewSimpleApplicationAgent(id)))

	b := &bundle.Bundle{Source: eid.MustParse("dtn://n2/app"), Destination: id}
	ok := c.WithEndpoint(id, func(aa ApplicationAgent) {
		aa.Push(b)
	})
	require.True(t, ok)

	aa, _ := c.GetEndpoint(id)
	assert.Equal(t, b, aa.Pop())
	assert.Nil(t, aa.Pop())

	assert.False(t, c.WithEndpoint(eid.MustParse("dtn://x/y"), func(ApplicationAgent) {
		t.Fatal("must not be called")
	}))
}

func TestBundlesDelegatesToStore(t *testing.T) {
	st := &memStore{}
	c := New(st, nil)
	b := &bundle.Bundle{Source: eid.MustParse("dtn://n1/app"), CreationTime: 1, Sequence: 2}
	require.NoError(t, st.Push(b))

	ids, err := c.Bundles()
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID()}, ids)
}

func TestCLARegistration(t *testing.T) {
	c := New(&memStore{}, nil)
	require.NoError(t, c.RegisterCLA(&fakeCLA{name: "tcp"}))
	require.NoError(t, c.RegisterCLA(&fakeCLA{name: "udp"}))
	assert.ErrorIs(t, c.RegisterCLA(&fakeCLA{name: "tcp"}), ErrCLAExists)

	assert.True(t, c.HasCLA("udp"))
	assert.False(t, c.HasCLA("quic"))
	assert.Equal(t, []string{"tcp", "udp"}, c.CLANames())
	assert.Len(t, c.CLAs(), 2)

	agent, ok := c.CLA("tcp")
	require.True(t, ok)
	assert.Equal(t, "tcp", agent.Name())
}

func TestResolveAgainstCore(t *testing.T) {
	c := New(&memStore{}, nil)
	require.NoError(t, c.RegisterCLA(&fakeCLA{name: "udp"}))

	r, _, _ := newTestRegistry(60)
	addr := net.ParseIP("10.1.1.1")
	r.Add(r.NewPeer(eid.MustParse("dtn://a/"), addr, Dynamic, []CLABinding{{Name: "tcp"}, {Name: "udp", Port: 4556}}))

	s, ok := r.ResolveCLA(eid.MustParse("dtn://a/inbox"), c.HasCLA)
	require.True(t, ok)
	assert.Equal(t, cla.Sender{Remote: addr, Port: 4556, Agent: "udp"}, s)
}

func TestConcurrentCoreAccess(t *testing.T) {
	c := New(&memStore{}, nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			aa := NewSimpleApplicationAgent(eid.MustParse("dtn://node1/svc" + string(rune('a'+i))))
			for j := 0; j < 50; j++ {
				_ = c.RegisterApplicationAgent(aa)
				c.IsInEndpoints(aa.EID())
				c.EIDs()
				c.UnregisterApplicationAgent(aa)
			}
		}(i)
	}
	wg.Wait()
	assert.Empty(t, c.EIDs())
}
