package server

import (
	"fmt"

	"github.com/Mmx233/TcpFrame/config"
	"github.com/Mmx233/TcpFrame/server/tls/stek"
	"github.com/Mmx233/TcpFrame/transport"
	"github.com/rs/zerolog"
)

// newTransport builds the listening transport. Encrypted transports get a
// session ticket key rotator, returned so the server can drive it.
func newTransport(conf *config.Server, logger zerolog.Logger) (transport.Transport, *stek.Rotator, error) {
	opt := transport.WithLogger(logger)
	if conf.Transport == config.TransportTCP {
		return transport.NewTCP(opt), nil, nil
	}

	tlsConf, err := conf.TLS.Config()
	if err != nil {
		return nil, nil, err
	}

	rotator, err := stek.New(
		conf.TLS.SessionTicketEncryptionKeyRotationInterval,
		conf.TLS.SessionTicketEncryptionKeyRotationOverlap,
		logger,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize session ticket key rotation: %w", err)
	}
	tlsConf = rotator.Bind(tlsConf)

	if conf.Transport == config.TransportQUIC {
		return transport.NewQUICServer(tlsConf, conf.Quic.GetConfig(), opt), rotator, nil
	}
	return transport.NewTLSServer(transport.NewTCP(opt), tlsConf, opt), rotator, nil
}
