package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(WithRegistry(reg), WithSubsystem("server"))

	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.FrameReceived(10)
	c.FrameSent(14)
	c.BytesReceived(14)
	c.DecodeError("too_long")
	c.SendFailed()
	c.ReconnectAttempt()
	c.HandshakeFailed()

	if got := testutil.ToFloat64(c.connectionsActive); got != 1 {
		t.Errorf("connections_active=%v, want 1", got)
	}
	if got := testutil.ToFloat64(c.connectionsTotal); got != 2 {
		t.Errorf("connections_total=%v, want 2", got)
	}
	if got := testutil.ToFloat64(c.bytesSent); got != 14 {
		t.Errorf("sent_bytes_total=%v, want 14", got)
	}
	if got := testutil.ToFloat64(c.decodeErrors.WithLabelValues("too_long")); got != 1 {
		t.Errorf("decode_errors_total{reason=too_long}=%v, want 1", got)
	}

	n, err := testutil.GatherAndCount(reg, "tcpframe_server_frames_received_total")
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 frames_received series, got %d", n)
	}
}

func TestCollector_Nil(t *testing.T) {
	var c *Collector
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.FrameReceived(1)
	c.FrameSent(1)
	c.BytesReceived(1)
	c.DecodeError("corrupt")
	c.SendFailed()
	c.ReconnectAttempt()
	c.HandshakeFailed()
}

func TestCollector_SeparateRegistries(t *testing.T) {
	New(WithRegistry(prometheus.NewRegistry()))
	New(WithRegistry(prometheus.NewRegistry()))
}
