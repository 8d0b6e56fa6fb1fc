package server

import (
	"github.com/Mmx233/TcpFrame/metrics"
	"github.com/Mmx233/TcpFrame/transport"
	"github.com/rs/zerolog"
)

type options struct {
	logger    *zerolog.Logger
	metrics   *metrics.Collector
	transport transport.Transport
}

type Option func(*options)

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &logger
	}
}

func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithTransport overrides the transport built from the config.
func WithTransport(t transport.Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}
