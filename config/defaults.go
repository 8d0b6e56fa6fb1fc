package config

import (
	"time"

	"github.com/Mmx233/TcpFrame/protocol"
)

const (
	DefaultHost   = "127.0.0.1"
	DefaultPort   = 9000
	DefaultListen = "0.0.0.0"

	DefaultReconnectDelay   = time.Second
	DefaultConnectTimeout   = 10 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultMaxIdleTimeout is the default QUIC connection idle timeout
	DefaultMaxIdleTimeout = 5 * time.Minute

	DefaultSessionTicketKeyRotationInterval = 24 * time.Hour
	DefaultSessionTicketKeyRotationOverlap  = 3
)

// ApplyDefaults fills zero framing fields.
func (f *Framing) ApplyDefaults() {
	if f.ByteOrder == "" {
		f.ByteOrder = protocol.BigEndian.String()
	}
	if f.LengthFieldLength == 0 {
		f.LengthFieldLength = protocol.DefaultLengthFieldLength
	}
	if f.InitialBytesToStrip == nil {
		strip := protocol.DefaultInitialBytesToStrip
		f.InitialBytesToStrip = &strip
	}
	if f.MaxFrameLength == 0 {
		f.MaxFrameLength = protocol.DefaultMaxFrameLength
	}
}

func (c *Client) ApplyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Transport == "" {
		c.Transport = TransportTCP
	}
	if c.AutoReconnect == nil {
		enabled := true
		c.AutoReconnect = &enabled
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	c.Framing.ApplyDefaults()
}

func (s *Server) ApplyDefaults() {
	if s.Listen.IP == "" {
		s.Listen.IP = DefaultListen
	}
	if s.Listen.Port == 0 {
		s.Listen.Port = DefaultPort
	}
	if s.Transport == "" {
		s.Transport = TransportTCP
	}
	if s.HandshakeTimeout == 0 {
		s.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if s.TLS.SessionTicketEncryptionKeyRotationInterval == 0 {
		s.TLS.SessionTicketEncryptionKeyRotationInterval = DefaultSessionTicketKeyRotationInterval
	}
	if s.TLS.SessionTicketEncryptionKeyRotationOverlap == 0 {
		s.TLS.SessionTicketEncryptionKeyRotationOverlap = DefaultSessionTicketKeyRotationOverlap
	}
	s.Framing.ApplyDefaults()
}
