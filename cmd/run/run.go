package run

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Mmx233/TcpFrame/config"
	"github.com/Mmx233/TcpFrame/tools"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	configFile = tools.GetenvDefault(config.EnvPrefix+"CONFIG", "config.yaml")
	Cmd        = &cobra.Command{
		Use:   "run",
		Short: "Run tcpframe server or client",
		Args:  cobra.NoArgs,
	}
)

func init() {
	Cmd.PersistentFlags().StringVarP(&configFile, "config", "c", configFile, "path of config file")
	Cmd.AddCommand(serverCmd)
	Cmd.AddCommand(clientCmd)
}

// serveMetrics exposes registry on addr until ctx is done. An empty addr
// disables the endpoint.
func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry, logger zerolog.Logger) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics endpoint failed")
		}
	}()
}
