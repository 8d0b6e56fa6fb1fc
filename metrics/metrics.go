// Package metrics exposes Prometheus instrumentation for framed sessions.
//
// Every method is safe to call on a nil *Collector, which records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures a Collector.
type Config struct {
	// Namespace is the metrics namespace (default: "tcpframe").
	Namespace string

	// Subsystem is usually "client" or "server".
	Subsystem string

	// ConstLabels are added to all metrics.
	ConstLabels prometheus.Labels

	// Registry defaults to prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// Option configures a Collector.
type Option func(*Config)

func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "tcpframe",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Collector holds the session metrics.
type Collector struct {
	connectionsActive  prometheus.Gauge
	connectionsTotal   prometheus.Counter
	framesReceived     prometheus.Counter
	framesSent         prometheus.Counter
	bytesReceived      prometheus.Counter
	bytesSent          prometheus.Counter
	decodeErrors       *prometheus.CounterVec
	sendFailures       prometheus.Counter
	reconnectAttempts  prometheus.Counter
	handshakeFailures  prometheus.Counter
	frameSizeHistogram prometheus.Histogram
}

// New registers a Collector with the configured registry.
// It panics if the metrics are already registered there, like promauto does.
func New(opts ...Option) *Collector {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	counterOpts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}
	}

	return &Collector{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections_active",
			Help:        "Number of currently open connections",
			ConstLabels: config.ConstLabels,
		}),
		connectionsTotal:  factory.NewCounter(counterOpts("connections_total", "Total number of established connections")),
		framesReceived:    factory.NewCounter(counterOpts("frames_received_total", "Total number of decoded frames")),
		framesSent:        factory.NewCounter(counterOpts("frames_sent_total", "Total number of encoded frames written")),
		bytesReceived:     factory.NewCounter(counterOpts("received_bytes_total", "Total number of bytes read from connections")),
		bytesSent:         factory.NewCounter(counterOpts("sent_bytes_total", "Total number of bytes written to connections")),
		decodeErrors:      factory.NewCounterVec(counterOpts("decode_errors_total", "Total number of frame decode failures"), []string{"reason"}),
		sendFailures:      factory.NewCounter(counterOpts("send_failures_total", "Total number of failed frame writes")),
		reconnectAttempts: factory.NewCounter(counterOpts("reconnect_attempts_total", "Total number of automatic reconnect attempts")),
		handshakeFailures: factory.NewCounter(counterOpts("handshake_failures_total", "Total number of failed transport handshakes")),
		frameSizeHistogram: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frame_payload_bytes",
			Help:        "Payload size of decoded frames",
			ConstLabels: config.ConstLabels,
			Buckets:     prometheus.ExponentialBuckets(16, 4, 9),
		}),
	}
}

func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Inc()
	c.connectionsTotal.Inc()
}

func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Dec()
}

func (c *Collector) FrameReceived(payloadSize int) {
	if c == nil {
		return
	}
	c.framesReceived.Inc()
	c.frameSizeHistogram.Observe(float64(payloadSize))
}

func (c *Collector) FrameSent(wireSize int) {
	if c == nil {
		return
	}
	c.framesSent.Inc()
	c.bytesSent.Add(float64(wireSize))
}

func (c *Collector) BytesReceived(n int) {
	if c == nil {
		return
	}
	c.bytesReceived.Add(float64(n))
}

// DecodeError counts a decode failure. reason is one of "too_long", "corrupt" or "other".
func (c *Collector) DecodeError(reason string) {
	if c == nil {
		return
	}
	c.decodeErrors.WithLabelValues(reason).Inc()
}

func (c *Collector) SendFailed() {
	if c == nil {
		return
	}
	c.sendFailures.Inc()
}

func (c *Collector) ReconnectAttempt() {
	if c == nil {
		return
	}
	c.reconnectAttempts.Inc()
}

func (c *Collector) HandshakeFailed() {
	if c == nil {
		return
	}
	c.handshakeFailures.Inc()
}
