package config

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pkcs12"
)

var (
	ErrCertificateIO     = errors.New("certificate io")
	ErrCertificateFormat = errors.New("certificate format")
)

// CertificateFiles is certificate material referenced from a config file.
type CertificateFiles struct {
	CertFile       string `yaml:"cert_file" toml:"cert_file"`
	KeyFile        string `yaml:"key_file" toml:"key_file"` // empty when cert_file holds both
	PKCS12File     string `yaml:"pkcs12_file" toml:"pkcs12_file"`
	PKCS12Password string `yaml:"pkcs12_password" toml:"pkcs12_password"`
}

func (f CertificateFiles) IsZero() bool {
	return f.CertFile == "" && f.PKCS12File == ""
}

func (f CertificateFiles) Source() CertificateSource {
	return CertificateSource{
		CertFile:   f.CertFile,
		KeyFile:    f.KeyFile,
		PKCS12File: f.PKCS12File,
		Password:   f.PKCS12Password,
	}
}

// CertificateSource describes where a certificate and its private key come from.
// Exactly one form should be set. They are tried in field order.
type CertificateSource struct {
	// PKCS#12 archive, from a file or raw bytes, protected by Password.
	PKCS12File string
	PKCS12     []byte
	Password   string

	// PEM certificate and key files. A single file holding both is allowed when KeyFile is empty.
	CertFile string
	KeyFile  string

	// Raw PEM. KeyPEM may be empty when CertPEM holds both.
	CertPEM []byte
	KeyPEM  []byte

	// Raw DER certificate and PKCS#8, PKCS#1 or SEC 1 private key.
	CertDER []byte
	KeyDER  []byte
}

// LoadCertificate loads a certificate with its private key.
func LoadCertificate(src CertificateSource) (tls.Certificate, error) {
	switch {
	case src.PKCS12File != "":
		data, err := os.ReadFile(src.PKCS12File)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("%w: read pkcs12 file: %w", ErrCertificateIO, err)
		}
		return parsePKCS12(data, src.Password)
	case len(src.PKCS12) != 0:
		return parsePKCS12(src.PKCS12, src.Password)
	case src.CertFile != "":
		certPEM, err := os.ReadFile(src.CertFile)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("%w: read cert file: %w", ErrCertificateIO, err)
		}
		var keyPEM []byte
		if src.KeyFile != "" {
			keyPEM, err = os.ReadFile(src.KeyFile)
			if err != nil {
				return tls.Certificate{}, fmt.Errorf("%w: read key file: %w", ErrCertificateIO, err)
			}
		}
		return parsePEM(certPEM, keyPEM)
	case len(src.CertPEM) != 0:
		return parsePEM(src.CertPEM, src.KeyPEM)
	case len(src.CertDER) != 0:
		return parseDER(src.CertDER, src.KeyDER)
	default:
		return tls.Certificate{}, fmt.Errorf("%w: no certificate material", ErrCertificateFormat)
	}
}

// LoadCertPool reads PEM CA certificates from a file.
func LoadCertPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read CA cert: %w", ErrCertificateIO, err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("%w: no CA certificate found in %s", ErrCertificateFormat, path)
	}
	return pool, nil
}

func parsePEM(certPEM, keyPEM []byte) (tls.Certificate, error) {
	if len(keyPEM) == 0 {
		certPEM, keyPEM = splitPEM(certPEM)
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: %w", ErrCertificateFormat, err)
	}
	return cert, nil
}

// splitPEM separates certificate blocks from private key blocks of a combined PEM file.
func splitPEM(data []byte) (certPEM, keyPEM []byte) {
	var certs, keys bytes.Buffer
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		switch {
		case block.Type == "CERTIFICATE":
			_ = pem.Encode(&certs, block)
		case strings.HasSuffix(block.Type, "PRIVATE KEY"):
			_ = pem.Encode(&keys, block)
		}
	}
	return certs.Bytes(), keys.Bytes()
}

func parseDER(certDER, keyDER []byte) (tls.Certificate, error) {
	if _, err := x509.ParseCertificate(certDER); err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: parse DER certificate: %w", ErrCertificateFormat, err)
	}

	var keyType string
	if _, err := x509.ParsePKCS8PrivateKey(keyDER); err == nil {
		keyType = "PRIVATE KEY"
	} else if _, err := x509.ParsePKCS1PrivateKey(keyDER); err == nil {
		keyType = "RSA PRIVATE KEY"
	} else if _, err := x509.ParseECPrivateKey(keyDER); err == nil {
		keyType = "EC PRIVATE KEY"
	} else {
		return tls.Certificate{}, fmt.Errorf("%w: unsupported DER private key", ErrCertificateFormat)
	}

	return parsePEM(
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
		pem.EncodeToMemory(&pem.Block{Type: keyType, Bytes: keyDER}),
	)
}

func parsePKCS12(data []byte, password string) (tls.Certificate, error) {
	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: decode pkcs12: %w", ErrCertificateFormat, err)
	}

	var combined []byte
	for _, b := range blocks {
		combined = append(combined, pem.EncodeToMemory(b)...)
	}
	return parsePEM(combined, nil)
}
