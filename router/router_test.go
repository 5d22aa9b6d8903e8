package router

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/trustwire/tcpmux/protocol"
)

type fakeClient struct {
	id   string
	sent []*protocol.Packet
	mu   sync.Mutex
}

func (f *fakeClient) ID() string { return f.id }
func (f *fakeClient) Send(pkt *protocol.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, pkt)
	return nil
}

func newTestRouter() *Router {
	return New(zerolog.Nop())
}

func TestRoute_InvokesRegisteredHandler(t *testing.T) {
	r := newTestRouter()
	id, _ := protocol.NewPacketIdentifier(101)

	var gotPayload []byte
	r.Register(id, func(ctx context.Context, client Client, pkt *protocol.Packet) error {
		gotPayload = pkt.Payload
		return nil
	})

	pkt := protocol.NewPacket(id, false, []byte("hello"))
	err := r.Route(context.Background(), &fakeClient{id: "c1"}, pkt)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), gotPayload)
}

func TestRoute_NilHandlerIsExplicitIgnore(t *testing.T) {
	r := newTestRouter()
	id, _ := protocol.NewPacketIdentifier(101)
	r.Register(id, nil)

	pkt := protocol.NewPacket(id, false, nil)
	err := r.Route(context.Background(), &fakeClient{id: "c1"}, pkt)
	require.NoError(t, err)
}

func TestRoute_UnknownIdentifierIsNotFatal(t *testing.T) {
	r := newTestRouter()
	id, _ := protocol.NewPacketIdentifier(999)
	pkt := protocol.NewPacket(id, false, nil)

	err := r.Route(context.Background(), &fakeClient{id: "c1"}, pkt)
	require.NoError(t, err)
}

func TestRoute_PropagatesHandlerError(t *testing.T) {
	r := newTestRouter()
	id, _ := protocol.NewPacketIdentifier(101)
	wantErr := require.Error
	r.Register(id, func(ctx context.Context, client Client, pkt *protocol.Packet) error {
		return context.Canceled
	})

	pkt := protocol.NewPacket(id, false, nil)
	err := r.Route(context.Background(), &fakeClient{id: "c1"}, pkt)
	wantErr(t, err)
}

func TestRegister_ConcurrentWithRoute(t *testing.T) {
	r := newTestRouter()
	id, _ := protocol.NewPacketIdentifier(101)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register(id, func(ctx context.Context, client Client, pkt *protocol.Packet) error { return nil })
		}()
		go func() {
			defer wg.Done()
			pkt := protocol.NewPacket(id, false, nil)
			_ = r.Route(context.Background(), &fakeClient{id: "c1"}, pkt)
		}()
	}
	wg.Wait()
}
