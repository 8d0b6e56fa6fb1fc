package e2e

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Mmx233/TcpFrame/client"
	"github.com/Mmx233/TcpFrame/cmd/generate/certs"
	"github.com/Mmx233/TcpFrame/config"
	"github.com/Mmx233/TcpFrame/conn"
	"github.com/Mmx233/TcpFrame/server"
	"github.com/Mmx233/TcpFrame/transport"
	"github.com/rs/zerolog"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/quic-go/quic-go.(*packetHandlerMap).runCloseQueue"),
	)
}

var transports = []string{config.TransportTCP, config.TransportTLS, config.TransportQUIC}

// freePort returns a port free for both TCP and UDP on loopback.
func freePort(t *testing.T) int {
	t.Helper()
	for i := 0; i < 10; i++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("failed to find free port: %v", err)
		}
		port := ln.Addr().(*net.TCPAddr).Port
		_ = ln.Close()

		pc, err := net.ListenPacket("udp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			continue
		}
		_ = pc.Close()
		return port
	}
	t.Fatal("failed to find a port free for tcp and udp")
	return 0
}

type testEnv struct {
	certDir string
	port    int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	if _, err := certs.WriteFiles(dir, 1); err != nil {
		t.Fatalf("failed to generate certificates: %v", err)
	}
	return &testEnv{certDir: dir, port: freePort(t)}
}

func (e *testEnv) path(name string) string {
	return filepath.Join(e.certDir, name)
}

func (e *testEnv) serverConfig(kind string) *config.Server {
	return &config.Server{
		Listen:    config.Listen{IP: "127.0.0.1", Port: e.port},
		Transport: kind,
		TLS: config.ServerTLS{
			Certificate: config.CertificateFiles{
				CertFile: e.path(certs.ServerCertFile),
				KeyFile:  e.path(certs.ServerKeyFile),
			},
			ClientCAFile:      e.path(certs.CACertFile),
			RequireClientCert: true,
		},
	}
}

func (e *testEnv) clientConfig(kind string) *config.Client {
	return &config.Client{
		Host:           "localhost",
		Port:           e.port,
		Transport:      kind,
		ReconnectDelay: 20 * time.Millisecond,
		TLS: config.ClientTLS{
			CACertFile: e.path(certs.CACertFile),
			Certificate: config.CertificateFiles{
				CertFile: e.path(certs.ClientCertFile),
				KeyFile:  e.path(certs.ClientKeyFile),
			},
		},
	}
}

func startServer(t *testing.T, conf *config.Server) *server.Server {
	t.Helper()
	srv, err := server.New(conf, server.WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() { stopServer(t, srv) })
	return srv
}

func stopServer(t *testing.T, srv *server.Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Errorf("failed to stop server: %v", err)
	}
}

func newClient(t *testing.T, conf *config.Client) *client.Client {
	t.Helper()
	c, err := client.New(conf, client.WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func expectFrame(t *testing.T, frames <-chan string, want string) {
	t.Helper()
	select {
	case got := <-frames:
		if got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("timeout waiting for %q", want)
	}
}

func TestFramedExchange(t *testing.T) {
	for _, kind := range transports {
		t.Run(kind, func(t *testing.T) {
			env := newTestEnv(t)
			srv := startServer(t, env.serverConfig(kind))

			serverFrames := make(chan string, 16)
			srv.Subscribe(server.ListenerFuncs{
				Message: func(c *conn.Conn, frame []byte) {
					serverFrames <- string(frame)
					_ = srv.UnicastString(context.Background(), c, "Ack")
				},
			})

			clients := make([]*client.Client, 2)
			inboxes := make([]chan string, len(clients))
			for i := range clients {
				inboxes[i] = make(chan string, 16)
				inbox := inboxes[i]
				clients[i] = newClient(t, env.clientConfig(kind))
				clients[i].Subscribe(client.ListenerFuncs{
					Message: func(frame []byte) { inbox <- string(frame) },
				})
				if err := clients[i].Connect(context.Background()); err != nil {
					t.Fatalf("client %d connect failed: %v", i, err)
				}
			}
			waitFor(t, "registration", func() bool { return srv.ClientCount() == len(clients) })

			if err := clients[0].SendString(context.Background(), "hello"); err != nil {
				t.Fatalf("send failed: %v", err)
			}
			expectFrame(t, serverFrames, "hello")
			expectFrame(t, inboxes[0], "Ack")

			if err := srv.BroadcastString(context.Background(), "to everyone"); err != nil {
				t.Fatalf("broadcast failed: %v", err)
			}
			for _, inbox := range inboxes {
				expectFrame(t, inbox, "to everyone")
			}

			big := make([]byte, 256*1024)
			for i := range big {
				big[i] = byte(i)
			}
			if err := clients[1].Send(context.Background(), big); err != nil {
				t.Fatalf("large send failed: %v", err)
			}
			select {
			case got := <-serverFrames:
				if got != string(big) {
					t.Fatalf("large frame corrupted: got %d bytes", len(got))
				}
			case <-time.After(10 * time.Second):
				t.Fatal("timeout waiting for large frame")
			}
			expectFrame(t, inboxes[1], "Ack")
		})
	}
}

func TestAbruptDisconnect(t *testing.T) {
	for _, kind := range transports {
		t.Run(kind, func(t *testing.T) {
			env := newTestEnv(t)
			srv := startServer(t, env.serverConfig(kind))

			var disconnected atomic.Int32
			srv.Subscribe(server.ListenerFuncs{
				ClientDisconnected: func(*conn.Conn) { disconnected.Add(1) },
			})

			disabled := false
			conf := env.clientConfig(kind)
			conf.AutoReconnect = &disabled
			c := newClient(t, conf)
			if err := c.Connect(context.Background()); err != nil {
				t.Fatalf("connect failed: %v", err)
			}
			waitFor(t, "registration", func() bool { return srv.ClientCount() == 1 })

			// drop the connection under the client
			_ = c.Conn().Close()

			waitFor(t, "server side removal", func() bool { return srv.ClientCount() == 0 })
			waitFor(t, "disconnected event", func() bool { return disconnected.Load() == 1 })
			waitFor(t, "client inactive", func() bool { return !c.IsActive() })

			if err := srv.BroadcastString(context.Background(), "anyone?"); err != nil {
				t.Fatalf("broadcast to empty registry failed: %v", err)
			}
		})
	}
}

func TestReconnectAfterServerRestart(t *testing.T) {
	for _, kind := range transports {
		t.Run(kind, func(t *testing.T) {
			env := newTestEnv(t)
			srv := startServer(t, env.serverConfig(kind))

			c := newClient(t, env.clientConfig(kind))
			var connected atomic.Int32
			c.Subscribe(client.ListenerFuncs{Connected: func() { connected.Add(1) }})

			if err := c.Connect(context.Background()); err != nil {
				t.Fatalf("connect failed: %v", err)
			}

			stopServer(t, srv)
			waitFor(t, "client disconnect", func() bool { return !c.IsActive() })

			if err := srv.Start(context.Background()); err != nil {
				t.Fatalf("restart failed: %v", err)
			}
			waitFor(t, "reconnect", c.IsActive)
			waitFor(t, "registration", func() bool { return srv.ClientCount() == 1 })
			if connected.Load() != 2 {
				t.Fatalf("expected 2 connected events, got %d", connected.Load())
			}

			if kind != config.TransportTCP {
				type sessionTransport interface {
					Sessions() *transport.SessionCache
				}
				st, ok := c.Transport().(sessionTransport)
				if !ok {
					t.Fatalf("%s transport has no session cache", kind)
				}
				if st.Sessions().Count() != 1 {
					t.Fatalf("expected one cached session address, got %d", st.Sessions().Count())
				}
			}
		})
	}
}

func TestHandshakeFailure(t *testing.T) {
	for _, kind := range []string{config.TransportTLS, config.TransportQUIC} {
		t.Run(kind, func(t *testing.T) {
			env := newTestEnv(t)
			srv := startServer(t, env.serverConfig(kind))

			conf := env.clientConfig(kind)
			conf.TLS.ServerName = "not-the-server.example"
			c := newClient(t, conf)

			err := c.Connect(context.Background())
			if !errors.Is(err, transport.ErrHandshake) {
				t.Fatalf("expected ErrHandshake, got %v", err)
			}
			if c.IsActive() || c.State() != client.StateDisconnected {
				t.Fatalf("expected disconnected client, got %s", c.State())
			}
			if srv.ClientCount() != 0 {
				t.Fatal("failed handshake must not register a client")
			}
		})
	}
}
