package run

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mmx233/TcpFrame/config"
	"github.com/Mmx233/TcpFrame/conn"
	"github.com/Mmx233/TcpFrame/metrics"
	"github.com/Mmx233/TcpFrame/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const sendTimeout = 5 * time.Second

var (
	serverCmd = &cobra.Command{
		Use:   "server",
		Short: "Start server",
		Args:  cobra.NoArgs,
		RunE:  runServer,
	}
)

func runServer(cmd *cobra.Command, args []string) error {
	logger := log.With().Str("com", "server-cmd").Logger()

	logger.Info().Str("config", configFile).Msg("loading configuration")
	cfg, err := config.LoadServerConfig(configFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	srv, err := server.New(cfg, server.WithMetrics(metrics.New(metrics.WithRegistry(registry))))
	if err != nil {
		return err
	}
	srv.Subscribe(newChatHandler(srv, logger))

	if err := srv.Start(ctx); err != nil {
		return err
	}
	serveMetrics(ctx, cfg.Metrics.Listen, registry, logger)

	<-ctx.Done()
	logger.Info().Msg("received shutdown signal")

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(stopCtx)
}

// chatHandler acknowledges every message and announces joins and leaves to
// the other clients.
type chatHandler struct {
	srv    *server.Server
	logger zerolog.Logger
}

func newChatHandler(srv *server.Server, logger zerolog.Logger) *chatHandler {
	return &chatHandler{srv: srv, logger: logger}
}

func (h *chatHandler) OnStarted() {
	h.logger.Info().Str("addr", h.srv.Addr().String()).Msg("server is listening")
}

func (h *chatHandler) OnStopped() {
	h.logger.Info().Msg("server stopped")
}

func (h *chatHandler) OnClientConnected(c *conn.Conn) {
	h.logger.Info().Str("client", c.RemoteAddr().String()).Int("clients", h.srv.ClientCount()).Msg("client joined")
	h.announce(c, "joined: "+c.RemoteAddr().String())
}

func (h *chatHandler) OnClientDisconnected(c *conn.Conn) {
	stats := c.Stats()
	h.logger.Info().
		Str("client", c.RemoteAddr().String()).
		Uint64("frames_in", stats.FramesIn).
		Uint64("frames_out", stats.FramesOut).
		Msg("client left")
	h.announce(c, "left: "+c.RemoteAddr().String())
}

func (h *chatHandler) OnMessage(c *conn.Conn, frame []byte) {
	h.logger.Info().Str("client", c.RemoteAddr().String()).Str("message", string(frame)).Msg("message received")

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := h.srv.UnicastString(ctx, c, "Ack"); err != nil {
		h.logger.Warn().Err(err).Msg("ack failed")
	}
}

// announce sends notice to every client except origin.
func (h *chatHandler) announce(origin *conn.Conn, notice string) {
	clients := h.srv.Clients()
	others := make([]*conn.Conn, 0, len(clients))
	for _, c := range clients {
		if c != origin {
			others = append(others, c)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := h.srv.MulticastString(ctx, others, notice); err != nil {
		h.logger.Debug().Err(err).Msg("announce partially failed")
	}
}
