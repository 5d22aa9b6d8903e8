package client

import (
	"context"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/trustwire/tcpmux/config"
	"github.com/trustwire/tcpmux/errs"
	"github.com/trustwire/tcpmux/handshake"
	"github.com/trustwire/tcpmux/identity"
	"github.com/trustwire/tcpmux/protocol"
	"github.com/trustwire/tcpmux/router"
	"github.com/trustwire/tcpmux/trust"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeServer accepts connections, completes the server side of the
// handshake, and drains inbound frames until the connection ends. It stands
// in for the real server package so these tests exercise the Client alone.
type fakeServer struct {
	ln    net.Listener
	wg    sync.WaitGroup
	mu    sync.Mutex
	conns []net.Conn

	// closeAfterHandshake makes every accepted connection drop immediately
	// after the handshake completes, to drive the client's OnDisconnected path.
	closeAfterHandshake bool
}

func startFakeServer(t *testing.T, closeAfterHandshake bool) (*fakeServer, string, int) {
	t.Helper()
	ident, err := identity.Load(filepath.Join(t.TempDir(), "server_key.json"))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	fs := &fakeServer{ln: ln, closeAfterHandshake: closeAfterHandshake}
	fs.wg.Add(1)
	go func() {
		defer fs.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			fs.mu.Lock()
			fs.conns = append(fs.conns, conn)
			fs.mu.Unlock()

			fs.wg.Add(1)
			go func() {
				defer fs.wg.Done()
				if _, err := handshake.Server(conn, ident, protocol.DefaultMaxPacketSize); err != nil {
					_ = conn.Close()
					return
				}
				if fs.closeAfterHandshake {
					_ = conn.Close()
					return
				}
				for {
					if _, _, err := protocol.ReadFrame(conn, protocol.DefaultMaxPacketSize); err != nil {
						return
					}
				}
			}()
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	// Callers defer fs.stop themselves, after their goleak.VerifyNone defer,
	// so the harness goroutines are gone by the time the leak check runs.
	return fs, host, port
}

func (fs *fakeServer) stop() {
	_ = fs.ln.Close()
	fs.mu.Lock()
	for _, c := range fs.conns {
		_ = c.Close()
	}
	fs.mu.Unlock()
	fs.wg.Wait()
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	trustStore, err := trust.Load(filepath.Join(t.TempDir(), "known_servers.json"))
	require.NoError(t, err)
	cfg := &config.Client{DialTimeout: 2 * time.Second}
	return New(cfg, trustStore, router.New(zerolog.Nop()))
}

func TestConnect_SecondConnectFailsWithAlreadyConnected(t *testing.T) {
	defer goleak.VerifyNone(t)

	fs, host, port := startFakeServer(t, false)
	defer fs.stop()
	cli := newTestClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, cli.Connect(ctx, host, port))
	err := cli.Connect(ctx, host, port)
	require.ErrorIs(t, err, errs.ErrAlreadyConnected)

	cli.Disconnect("done")
}

func TestSend_WithoutSessionFailsWithNotConnected(t *testing.T) {
	cli := newTestClient(t)
	id, err := protocol.NewPacketIdentifier(101)
	require.NoError(t, err)

	err = cli.Send(protocol.NewPacket(id, false, []byte("x")))
	require.ErrorIs(t, err, errs.ErrNotConnected)
}

func TestDisconnect_ThenReconnectSucceeds(t *testing.T) {
	defer goleak.VerifyNone(t)

	fs, host, port := startFakeServer(t, false)
	defer fs.stop()
	cli := newTestClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, cli.Connect(ctx, host, port))
	cli.Disconnect("first session over")

	require.NoError(t, cli.Connect(ctx, host, port))
	cli.Disconnect("second session over")
}

func TestConnect_HandshakeFailureLeavesClientReconnectable(t *testing.T) {
	defer goleak.VerifyNone(t)

	// A listener that hangs up before speaking the protocol.
	badLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := badLn.Accept()
		if err != nil {
			return
		}
		_ = conn.Close()
	}()

	badHost, badPortStr, err := net.SplitHostPort(badLn.Addr().String())
	require.NoError(t, err)
	badPort, err := strconv.Atoi(badPortStr)
	require.NoError(t, err)

	cli := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.Error(t, cli.Connect(ctx, badHost, badPort))
	<-done
	_ = badLn.Close()

	fs, host, port := startFakeServer(t, false)
	defer fs.stop()
	require.NoError(t, cli.Connect(ctx, host, port))
	cli.Disconnect("done")
}

func TestOnDisconnected_FiresWhenServerDropsSession(t *testing.T) {
	defer goleak.VerifyNone(t)

	fs, host, port := startFakeServer(t, true)
	defer fs.stop()
	cli := newTestClient(t)

	disconnected := make(chan string, 1)
	cli.OnDisconnected = func(reason string) { disconnected <- reason }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, cli.Connect(ctx, host, port))

	select {
	case reason := <-disconnected:
		require.NotEmpty(t, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("expected OnDisconnected after the server dropped the session")
	}
}

func TestDisconnect_DoesNotFireOnDisconnected(t *testing.T) {
	defer goleak.VerifyNone(t)

	fs, host, port := startFakeServer(t, false)
	defer fs.stop()
	cli := newTestClient(t)

	fired := make(chan string, 1)
	cli.OnDisconnected = func(reason string) { fired <- reason }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, cli.Connect(ctx, host, port))

	cli.Disconnect("local decision")

	select {
	case reason := <-fired:
		t.Fatalf("OnDisconnected fired for a locally requested disconnect: %q", reason)
	case <-time.After(200 * time.Millisecond):
	}
}
