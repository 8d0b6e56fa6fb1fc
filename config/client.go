package config

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"
)

type Client struct {
	Host      string  `yaml:"host" toml:"host"`
	Port      int     `yaml:"port" toml:"port"`
	Transport string  `yaml:"transport" toml:"transport"` // tcp, tls or quic
	Framing   Framing `yaml:"framing" toml:"framing"`

	AutoReconnect         *bool         `yaml:"auto_reconnect" toml:"auto_reconnect"` // default true
	ReconnectInitialDelay time.Duration `yaml:"reconnect_initial_delay" toml:"reconnect_initial_delay"`
	ReconnectDelay        time.Duration `yaml:"reconnect_delay" toml:"reconnect_delay"`
	ConnectTimeout        time.Duration `yaml:"connect_timeout" toml:"connect_timeout"`

	TLS     ClientTLS `yaml:"tls" toml:"tls"`
	Quic    Quic      `yaml:"quic" toml:"quic"`
	Metrics Metrics   `yaml:"metrics" toml:"metrics"`
}

// Addr returns host:port of the configured server.
func (c *Client) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Client) IsAutoReconnect() bool {
	return c.AutoReconnect == nil || *c.AutoReconnect
}

// Validate checks a client config after defaults were applied.
func (c *Client) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidConfig)
	}
	if err := validatePort(c.Port); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := validateTransport(c.Transport); err != nil {
		return err
	}
	if err := c.Framing.Validate(); err != nil {
		return err
	}
	if c.ReconnectDelay < 0 || c.ReconnectInitialDelay < 0 {
		return fmt.Errorf("%w: reconnect delays must not be negative", ErrInvalidConfig)
	}
	return nil
}

type ClientTLS struct {
	CACertFile         string `yaml:"ca_cert_file" toml:"ca_cert_file"`
	ServerName         string `yaml:"server_name" toml:"server_name"` // defaults to host
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" toml:"insecure_skip_verify"`

	// Optional client certificate
	Certificate CertificateFiles `yaml:"certificate" toml:"certificate"`
}

// Config builds the client tls.Config. ServerName stays empty unless configured.
func (t ClientTLS) Config() (*tls.Config, error) {
	conf := &tls.Config{
		ServerName:         t.ServerName,
		InsecureSkipVerify: t.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}

	if t.CACertFile != "" {
		pool, err := LoadCertPool(t.CACertFile)
		if err != nil {
			return nil, err
		}
		conf.RootCAs = pool
	}

	if !t.Certificate.IsZero() {
		cert, err := LoadCertificate(t.Certificate.Source())
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		conf.Certificates = []tls.Certificate{cert}
	}

	return conf, nil
}
