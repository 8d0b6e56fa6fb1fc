package client

import (
	"github.com/Mmx233/TcpFrame/config"
	"github.com/Mmx233/TcpFrame/transport"
	"github.com/rs/zerolog"
)

func newTransport(conf *config.Client, logger zerolog.Logger) (transport.Transport, error) {
	opt := transport.WithLogger(logger)
	switch conf.Transport {
	case config.TransportTLS, config.TransportQUIC:
		tlsConf, err := conf.TLS.Config()
		if err != nil {
			return nil, err
		}
		if conf.Transport == config.TransportQUIC {
			return transport.NewQUICClient(tlsConf, conf.Quic.GetConfig(), opt), nil
		}
		return transport.NewTLSClient(transport.NewTCP(opt), tlsConf, opt), nil
	default:
		return transport.NewTCP(opt), nil
	}
}
