package server

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Mmx233/TcpFrame/config"
	"github.com/Mmx233/TcpFrame/conn"
	"github.com/Mmx233/TcpFrame/protocol"
	"github.com/rs/zerolog"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/quic-go/quic-go.(*packetHandlerMap).runCloseQueue"),
	)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func newTestServer(t *testing.T, port int) *Server {
	t.Helper()
	srv, err := New(&config.Server{
		Listen: config.Listen{IP: "127.0.0.1", Port: port},
	}, WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv
}

func startTestServer(t *testing.T) *Server {
	t.Helper()
	srv := newTestServer(t, freePort(t))
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv
}

// testPeer is a framed connection dialed to the server.
type testPeer struct {
	conn   *conn.Conn
	frames chan []byte
	done   chan struct{}
}

func dialPeer(t *testing.T, addr net.Addr) *testPeer {
	t.Helper()
	raw, err := net.DialTimeout("tcp", addr.String(), 5*time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	p := &testPeer{
		frames: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	logger := zerolog.Nop()
	p.conn, err = conn.New(raw, conn.Options{
		Layout: protocol.DefaultLayout(),
		Logger: &logger,
		OnFrame: func(_ *conn.Conn, frame []byte) {
			p.frames <- frame
		},
	})
	if err != nil {
		t.Fatalf("conn.New failed: %v", err)
	}
	go func() {
		defer close(p.done)
		_ = p.conn.Run(context.Background())
	}()
	t.Cleanup(p.close)
	return p
}

func (p *testPeer) close() {
	_ = p.conn.Close()
	<-p.done
}

func (p *testPeer) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case frame := <-p.frames:
		if string(frame) != want {
			t.Fatalf("expected frame %q, got %q", want, frame)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for frame %q", want)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServer_StartStop(t *testing.T) {
	srv := newTestServer(t, 9001)

	var started, stopped atomic.Int32
	srv.Subscribe(ListenerFuncs{
		Started: func() { started.Add(1) },
		Stopped: func() { stopped.Add(1) },
	})

	if srv.IsActive() {
		t.Fatal("server should not be active before Start")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !srv.IsActive() {
		t.Fatal("server should be active after Start")
	}
	if got := srv.Addr().String(); got != "127.0.0.1:9001" {
		t.Errorf("expected addr 127.0.0.1:9001, got %s", got)
	}

	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if srv.IsActive() {
		t.Fatal("server should not be active after Stop")
	}
	if srv.Addr() != nil {
		t.Error("Addr should be nil after Stop")
	}
	if started.Load() != 1 || stopped.Load() != 1 {
		t.Errorf("expected one started and one stopped event, got %d and %d", started.Load(), stopped.Load())
	}
}

func TestServer_StartTwice(t *testing.T) {
	srv := startTestServer(t)
	if err := srv.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	if !srv.IsActive() {
		t.Fatal("second Start must not change state")
	}
}

func TestServer_StartBindFailure(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer occupied.Close()

	srv := newTestServer(t, occupied.Addr().(*net.TCPAddr).Port)
	var stopped atomic.Int32
	srv.Subscribe(ListenerFuncs{Stopped: func() { stopped.Add(1) }})

	if err := srv.Start(context.Background()); err == nil {
		t.Fatal("expected bind error")
	}
	if srv.IsActive() {
		t.Fatal("server should stay inactive after bind failure")
	}
	if stopped.Load() != 0 {
		t.Error("failed start must not fire stopped")
	}
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("Stop on stopped server failed: %v", err)
	}
}

func TestServer_Restart(t *testing.T) {
	srv := newTestServer(t, freePort(t))
	for i := 0; i < 3; i++ {
		if err := srv.Start(context.Background()); err != nil {
			t.Fatalf("start %d failed: %v", i, err)
		}
		p := dialPeer(t, srv.Addr())
		waitFor(t, "client registration", func() bool { return srv.ClientCount() == 1 })
		if err := srv.Stop(context.Background()); err != nil {
			t.Fatalf("stop %d failed: %v", i, err)
		}
		<-p.done
		if srv.ClientCount() != 0 {
			t.Fatalf("expected empty registry after stop, got %d", srv.ClientCount())
		}
	}
}

func TestServer_ClientLifecycle(t *testing.T) {
	srv := startTestServer(t)

	connected := make(chan *conn.Conn, 1)
	disconnected := make(chan *conn.Conn, 1)
	messages := make(chan string, 4)
	srv.Subscribe(ListenerFuncs{
		ClientConnected:    func(c *conn.Conn) { connected <- c },
		ClientDisconnected: func(c *conn.Conn) { disconnected <- c },
		Message: func(c *conn.Conn, frame []byte) {
			messages <- string(frame)
		},
	})

	p := dialPeer(t, srv.Addr())

	var serverSide *conn.Conn
	select {
	case serverSide = <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for client connected event")
	}
	if got, ok := srv.Client(serverSide.ID()); !ok || got != serverSide {
		t.Fatal("connected client not in registry")
	}

	for _, msg := range []string{"first", "second", "third"} {
		if err := p.conn.Send(context.Background(), []byte(msg)); err != nil {
			t.Fatalf("send failed: %v", err)
		}
	}
	for _, want := range []string{"first", "second", "third"} {
		select {
		case got := <-messages:
			if got != want {
				t.Fatalf("expected %q, got %q", want, got)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for %q", want)
		}
	}

	if err := srv.UnicastString(context.Background(), serverSide, "reply"); err != nil {
		t.Fatalf("unicast failed: %v", err)
	}
	p.expect(t, "reply")

	p.close()
	select {
	case c := <-disconnected:
		if c != serverSide {
			t.Fatal("disconnected event for wrong connection")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for client disconnected event")
	}
	if srv.ClientCount() != 0 {
		t.Fatalf("expected empty registry, got %d", srv.ClientCount())
	}
	if err := srv.Unicast(context.Background(), serverSide, []byte("late")); !errors.Is(err, conn.ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestServer_Broadcast(t *testing.T) {
	srv := startTestServer(t)

	peers := make([]*testPeer, 3)
	for i := range peers {
		peers[i] = dialPeer(t, srv.Addr())
	}
	waitFor(t, "all clients", func() bool { return srv.ClientCount() == len(peers) })

	if err := srv.BroadcastString(context.Background(), "hello all"); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}
	for _, p := range peers {
		p.expect(t, "hello all")
	}

	type notice struct {
		Kind string `json:"kind"`
	}
	if err := BroadcastAs(context.Background(), srv, notice{Kind: "ping"}, protocol.JSON[notice]()); err != nil {
		t.Fatalf("typed broadcast failed: %v", err)
	}
	for _, p := range peers {
		p.expect(t, `{"kind":"ping"}`)
	}
}

func TestServer_BroadcastEmpty(t *testing.T) {
	srv := startTestServer(t)
	if err := srv.Broadcast(context.Background(), []byte("nobody")); err != nil {
		t.Fatalf("broadcast to no clients failed: %v", err)
	}
}

func TestServer_MulticastPartialFailure(t *testing.T) {
	srv := startTestServer(t)

	a, b := dialPeer(t, srv.Addr()), dialPeer(t, srv.Addr())
	waitFor(t, "both clients", func() bool { return srv.ClientCount() == 2 })

	clients := srv.Clients()
	dead := clients[0]
	_ = dead.Close()

	err := srv.MulticastString(context.Background(), clients, "survivors")
	if !errors.Is(err, conn.ErrConnectionClosed) {
		t.Fatalf("expected joined ErrConnectionClosed, got %v", err)
	}

	// exactly one of the peers is still served
	select {
	case frame := <-a.frames:
		if string(frame) != "survivors" {
			t.Fatalf("unexpected frame %q", frame)
		}
	case frame := <-b.frames:
		if string(frame) != "survivors" {
			t.Fatalf("unexpected frame %q", frame)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("live client did not receive multicast")
	}

	if err := srv.Multicast(context.Background(), []*conn.Conn{nil}, []byte("x")); !errors.Is(err, ErrNilConn) {
		t.Fatalf("expected ErrNilConn, got %v", err)
	}
}

func TestServer_FanoutConcurrencyLimit(t *testing.T) {
	port := freePort(t)
	srv, err := New(&config.Server{
		Listen:            config.Listen{IP: "127.0.0.1", Port: port},
		FanoutConcurrency: 1,
	}, WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer srv.Stop(context.Background())

	peers := make([]*testPeer, 4)
	for i := range peers {
		peers[i] = dialPeer(t, srv.Addr())
	}
	waitFor(t, "all clients", func() bool { return srv.ClientCount() == len(peers) })

	if err := srv.BroadcastString(context.Background(), "serial"); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}
	for _, p := range peers {
		p.expect(t, "serial")
	}
}

func TestServer_StopClosesClients(t *testing.T) {
	srv := newTestServer(t, freePort(t))
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var disconnected atomic.Int32
	srv.Subscribe(ListenerFuncs{ClientDisconnected: func(*conn.Conn) { disconnected.Add(1) }})

	peers := make([]*testPeer, 3)
	for i := range peers {
		peers[i] = dialPeer(t, srv.Addr())
	}
	waitFor(t, "all clients", func() bool { return srv.ClientCount() == len(peers) })

	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if disconnected.Load() != int32(len(peers)) {
		t.Fatalf("expected %d disconnected events before Stop returned, got %d", len(peers), disconnected.Load())
	}
	for i, p := range peers {
		select {
		case <-p.done:
		case <-time.After(5 * time.Second):
			t.Fatalf("peer %d still connected after Stop", i)
		}
	}
}

func TestServer_ListenerPanicIsolated(t *testing.T) {
	srv := startTestServer(t)

	received := make(chan string, 1)
	srv.Subscribe(ListenerFuncs{Message: func(*conn.Conn, []byte) { panic("boom") }})
	srv.Subscribe(ListenerFuncs{Message: func(_ *conn.Conn, frame []byte) { received <- string(frame) }})

	p := dialPeer(t, srv.Addr())
	if err := p.conn.Send(context.Background(), []byte("still delivered")); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	select {
	case got := <-received:
		if got != "still delivered" {
			t.Fatalf("unexpected frame %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("second listener did not receive the frame")
	}
}

func TestServer_DecodeErrorClosesClient(t *testing.T) {
	srv, err := New(&config.Server{
		Listen:  config.Listen{IP: "127.0.0.1", Port: freePort(t)},
		Framing: config.Framing{MaxFrameLength: 64, FailFast: true},
	}, WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer srv.Stop(context.Background())

	raw, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer raw.Close()
	waitFor(t, "client registration", func() bool { return srv.ClientCount() == 1 })

	// length above the configured maximum
	if _, err := raw.Write([]byte{0x7f, 0xff, 0xff, 0xff}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	waitFor(t, "client removal", func() bool { return srv.ClientCount() == 0 })
}

// Registry stays consistent while clients connect, disconnect and receive
// broadcasts concurrently.
func TestServer_RegistryConsistency(t *testing.T) {
	srv := startTestServer(t)

	stop := make(chan struct{})
	var broadcasts sync.WaitGroup
	broadcasts.Add(1)
	go func() {
		defer broadcasts.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			_ = srv.BroadcastString(context.Background(), "tick "+strconv.Itoa(i))
			time.Sleep(time.Millisecond)
		}
	}()

	var clients sync.WaitGroup
	for i := 0; i < 20; i++ {
		clients.Add(1)
		go func() {
			defer clients.Done()
			raw, err := net.DialTimeout("tcp", srv.Addr().String(), 5*time.Second)
			if err != nil {
				t.Errorf("dial failed: %v", err)
				return
			}
			time.Sleep(time.Duration(i%5) * time.Millisecond)
			_ = raw.Close()
		}()
	}
	clients.Wait()

	waitFor(t, "empty registry", func() bool { return srv.ClientCount() == 0 })
	close(stop)
	broadcasts.Wait()

	if n := len(srv.Clients()); n != 0 {
		t.Fatalf("snapshot still holds %d clients", n)
	}
}
