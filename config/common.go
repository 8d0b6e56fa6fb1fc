package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/Mmx233/TcpFrame/protocol"
	"github.com/quic-go/quic-go"
)

const (
	EnvPrefix = "TCPFRAME_"
)

var ErrInvalidConfig = errors.New("invalid config")

// Transport kinds
const (
	TransportTCP  = "tcp"
	TransportTLS  = "tls"
	TransportQUIC = "quic"
)

func validateTransport(kind string) error {
	switch kind {
	case TransportTCP, TransportTLS, TransportQUIC:
		return nil
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, kind)
	}
}

type Listen struct {
	IP   string `yaml:"ip" toml:"ip"`
	Port int    `yaml:"port" toml:"port"`
}

func (l Listen) GetIP() (net.IP, error) {
	ip := net.ParseIP(l.IP)
	if ip == nil {
		return nil, fmt.Errorf("invalid ip address: %s", l.IP)
	}
	return ip, nil
}

// Addr returns the listen address in host:port form.
func (l Listen) Addr() string {
	return net.JoinHostPort(l.IP, strconv.Itoa(l.Port))
}

// Framing is the frame layout shared by the encoder and decoder of every connection.
type Framing struct {
	ByteOrder                 string `yaml:"byte_order" toml:"byte_order"`
	LengthFieldLength         int    `yaml:"length_field_length" toml:"length_field_length"`
	LengthFieldOffset         int    `yaml:"length_field_offset" toml:"length_field_offset"`
	LengthAdjustment          int    `yaml:"length_adjustment" toml:"length_adjustment"`
	InitialBytesToStrip       *int   `yaml:"initial_bytes_to_strip" toml:"initial_bytes_to_strip"` // nil means 4
	LengthIncludesLengthField bool   `yaml:"length_includes_length_field" toml:"length_includes_length_field"`
	MaxFrameLength            int    `yaml:"max_frame_length" toml:"max_frame_length"`
	FailFast                  bool   `yaml:"fail_fast" toml:"fail_fast"`
}

// Layout converts the framing options into a validated protocol.Layout.
func (f Framing) Layout() (protocol.Layout, error) {
	order, err := protocol.ParseByteOrder(f.ByteOrder)
	if err != nil {
		return protocol.Layout{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	layout := protocol.Layout{
		ByteOrder:                 order,
		LengthFieldLength:         f.LengthFieldLength,
		LengthFieldOffset:         f.LengthFieldOffset,
		LengthAdjustment:          f.LengthAdjustment,
		InitialBytesToStrip:       protocol.DefaultInitialBytesToStrip,
		LengthIncludesLengthField: f.LengthIncludesLengthField,
	}
	if layout.LengthFieldLength == 0 {
		layout.LengthFieldLength = protocol.DefaultLengthFieldLength
	}
	if f.InitialBytesToStrip != nil {
		layout.InitialBytesToStrip = *f.InitialBytesToStrip
	}

	if err := layout.Validate(); err != nil {
		return protocol.Layout{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return layout, nil
}

func (f Framing) Validate() error {
	if _, err := f.Layout(); err != nil {
		return err
	}
	if f.MaxFrameLength < 0 {
		return fmt.Errorf("%w: max_frame_length must not be negative, got %d", ErrInvalidConfig, f.MaxFrameLength)
	}
	return nil
}

type Quic struct {
	InitialStreamReceiveWindow     uint64        `yaml:"initial_stream_receive_window" toml:"initial_stream_receive_window"`
	MaxStreamReceiveWindow         uint64        `yaml:"max_stream_receive_window" toml:"max_stream_receive_window"`
	InitialConnectionReceiveWindow uint64        `yaml:"initial_connection_receive_window" toml:"initial_connection_receive_window"`
	MaxConnectionReceiveWindow     uint64        `yaml:"max_connection_receive_window" toml:"max_connection_receive_window"`
	KeepAlivePeriod                time.Duration `yaml:"keep_alive_period" toml:"keep_alive_period"`
	HandshakeIdleTimeout           time.Duration `yaml:"handshake_idle_timeout" toml:"handshake_idle_timeout"`
	MaxIdleTimeout                 time.Duration `yaml:"max_idle_timeout" toml:"max_idle_timeout"`
}

// GetConfig returns the quic-go config. Each connection carries exactly one stream.
func (q Quic) GetConfig() *quic.Config {
	if q.MaxIdleTimeout == 0 {
		q.MaxIdleTimeout = DefaultMaxIdleTimeout
	}
	return &quic.Config{
		InitialStreamReceiveWindow:     q.InitialStreamReceiveWindow,
		MaxStreamReceiveWindow:         q.MaxStreamReceiveWindow,
		InitialConnectionReceiveWindow: q.InitialConnectionReceiveWindow,
		MaxConnectionReceiveWindow:     q.MaxConnectionReceiveWindow,
		MaxIncomingStreams:             1,
		MaxIncomingUniStreams:          -1,
		KeepAlivePeriod:                q.KeepAlivePeriod,
		HandshakeIdleTimeout:           q.HandshakeIdleTimeout,
		MaxIdleTimeout:                 q.MaxIdleTimeout,
	}
}

// ValidateAddress validates that an address is in valid host:port format.
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format %q: %w", addr, err)
	}

	if host == "" {
		return fmt.Errorf("host cannot be empty in address %q", addr)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port in address %q: %w", addr, err)
	}

	if err := validatePort(port); err != nil {
		return fmt.Errorf("%w in address %q", err, addr)
	}

	return nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}
