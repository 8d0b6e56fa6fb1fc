package config

import (
	"crypto/tls"
	"fmt"
	"time"
)

type Server struct {
	Listen    Listen  `yaml:"listen" toml:"listen"`
	Transport string  `yaml:"transport" toml:"transport"` // tcp, tls or quic
	Framing   Framing `yaml:"framing" toml:"framing"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout" toml:"handshake_timeout"`
	// FanoutConcurrency bounds concurrent sends of one multicast. 0 means unbounded.
	FanoutConcurrency int `yaml:"fanout_concurrency" toml:"fanout_concurrency"`

	TLS     ServerTLS `yaml:"tls" toml:"tls"`
	Quic    Quic      `yaml:"quic" toml:"quic"`
	Metrics Metrics   `yaml:"metrics" toml:"metrics"`
}

// Validate checks a server config after defaults were applied.
func (s *Server) Validate() error {
	if _, err := s.Listen.GetIP(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if s.Listen.Port < 0 || s.Listen.Port > 65535 {
		return fmt.Errorf("%w: listen port must be between 0 and 65535, got %d", ErrInvalidConfig, s.Listen.Port)
	}
	if err := validateTransport(s.Transport); err != nil {
		return err
	}
	if err := s.Framing.Validate(); err != nil {
		return err
	}
	if s.FanoutConcurrency < 0 {
		return fmt.Errorf("%w: fanout_concurrency must not be negative", ErrInvalidConfig)
	}
	if s.Transport != TransportTCP && s.TLS.Certificate.IsZero() {
		return fmt.Errorf("%w: %s transport requires a server certificate", ErrInvalidConfig, s.Transport)
	}
	if s.Metrics.Listen != "" {
		if err := ValidateAddress(s.Metrics.Listen); err != nil {
			return fmt.Errorf("%w: metrics: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

type ServerTLS struct {
	Certificate       CertificateFiles `yaml:"certificate" toml:"certificate"`
	ClientCAFile      string           `yaml:"client_ca_file" toml:"client_ca_file"`
	RequireClientCert bool             `yaml:"require_client_cert" toml:"require_client_cert"`

	SessionTicketEncryptionKeyRotationInterval time.Duration `yaml:"session_ticket_encryption_key_rotation_interval" toml:"session_ticket_encryption_key_rotation_interval"`
	SessionTicketEncryptionKeyRotationOverlap  uint8         `yaml:"session_ticket_encryption_key_rotation_overlap" toml:"session_ticket_encryption_key_rotation_overlap"`
}

// Config builds the server tls.Config without session ticket keys.
func (t ServerTLS) Config() (*tls.Config, error) {
	cert, err := LoadCertificate(t.Certificate.Source())
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}

	conf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		ClientAuth:   tls.NoClientCert,
	}

	if t.ClientCAFile != "" {
		pool, err := LoadCertPool(t.ClientCAFile)
		if err != nil {
			return nil, err
		}
		conf.ClientCAs = pool
		conf.ClientAuth = tls.VerifyClientCertIfGiven
		if t.RequireClientCert {
			conf.ClientAuth = tls.RequireAndVerifyClientCert
		}
	}

	return conf, nil
}

type Metrics struct {
	// Listen is the address of the /metrics endpoint. Empty disables it.
	Listen string `yaml:"listen" toml:"listen"`
}
