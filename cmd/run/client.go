package run

import (
	"bufio"
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/Mmx233/TcpFrame/client"
	"github.com/Mmx233/TcpFrame/config"
	"github.com/Mmx233/TcpFrame/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	clientCmd = &cobra.Command{
		Use:   "client",
		Short: "Start client, sending each stdin line as a frame",
		Args:  cobra.NoArgs,
		RunE:  runClient,
	}
)

func runClient(cmd *cobra.Command, args []string) error {
	logger := log.With().Str("com", "client-cmd").Logger()

	logger.Info().Str("config", configFile).Msg("loading configuration")
	cfg, err := config.LoadClientConfig(configFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	c, err := client.New(cfg, client.WithMetrics(metrics.New(metrics.WithRegistry(registry))))
	if err != nil {
		return err
	}
	defer c.Close()

	c.Subscribe(client.ListenerFuncs{
		Connected: func() {
			logger.Info().Str("server", cfg.Addr()).Msg("connected")
		},
		Disconnected: func() {
			logger.Warn().Bool("auto_reconnect", cfg.IsAutoReconnect()).Msg("disconnected")
		},
		Message: func(frame []byte) {
			logger.Info().Str("message", string(frame)).Msg("message received")
		},
	})

	if err := c.Connect(ctx); err != nil {
		return err
	}
	serveMetrics(ctx, cfg.Metrics.Listen, registry, logger)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("received shutdown signal")
			return nil
		case line, ok := <-lines:
			if !ok {
				logger.Info().Msg("stdin closed")
				return nil
			}
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			err := c.SendString(sendCtx, line)
			cancel()
			if errors.Is(err, client.ErrNotConnected) {
				logger.Warn().Msg("not connected, message dropped")
			} else if err != nil {
				logger.Error().Err(err).Msg("send failed")
			}
		}
	}
}
