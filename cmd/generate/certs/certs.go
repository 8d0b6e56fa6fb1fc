package certs

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	outputDir  string
	validYears int
	Cmd        = &cobra.Command{
		Use:   "certs",
		Short: "Generate TLS certificates (CA, server, client)",
		RunE:  runGenerate,
	}
)

// File names written by WriteFiles
const (
	CACertFile     = "ca.crt"
	CAKeyFile      = "ca.key"
	ServerCertFile = "server.crt"
	ServerKeyFile  = "server.key"
	ClientCertFile = "client.crt"
	ClientKeyFile  = "client.key"
)

func init() {
	Cmd.Flags().StringVarP(&outputDir, "output", "o", "./certs", "output directory")
	Cmd.Flags().IntVarP(&validYears, "years", "y", 10, "certificate validity in years")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	logger := log.With().Str("com", "generate").Logger()

	logger.Info().Str("dir", outputDir).Int("years", validYears).Msg("generating certificates")

	paths, err := WriteFiles(outputDir, validYears)
	if err != nil {
		return err
	}
	for _, path := range paths {
		logger.Info().Str("file", path).Msg("generated")
	}

	logger.Info().Msg("certificate generation complete")
	return nil
}

// WriteFiles generates a CA with one server and one client certificate and
// writes them as PEM files into dir. It returns the written paths.
func WriteFiles(dir string, validYears int) ([]string, error) {
	caKey, caCert, err := GenerateCA(validYears)
	if err != nil {
		return nil, fmt.Errorf("generate CA: %w", err)
	}
	serverKey, serverCert, err := GenerateServerCert(caKey, caCert, validYears)
	if err != nil {
		return nil, fmt.Errorf("generate server cert: %w", err)
	}
	clientKey, clientCert, err := GenerateClientCert(caKey, caCert, validYears)
	if err != nil {
		return nil, fmt.Errorf("generate client cert: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	files := []struct {
		name string
		data []byte
	}{
		{CACertFile, EncodeCertificate(caCert)},
		{CAKeyFile, EncodePrivateKey(caKey)},
		{ServerCertFile, EncodeCertificate(serverCert)},
		{ServerKeyFile, EncodePrivateKey(serverKey)},
		{ClientCertFile, EncodeCertificate(clientCert)},
		{ClientKeyFile, EncodePrivateKey(clientKey)},
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := os.WriteFile(path, f.data, 0600); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// GenerateCA generates a self-signed CA certificate
func GenerateCA(validYears int) (*ecdsa.PrivateKey, *x509.Certificate, error) {
	template := &x509.Certificate{
		Subject: pkix.Name{
			Organization: []string{"TcpFrame CA"},
			CommonName:   "TcpFrame Root CA",
		},
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
	}
	return issue(template, nil, nil, validYears)
}

// GenerateServerCert generates a server certificate for localhost
func GenerateServerCert(caKey *ecdsa.PrivateKey, caCert *x509.Certificate, validYears int) (*ecdsa.PrivateKey, *x509.Certificate, error) {
	template := &x509.Certificate{
		Subject: pkix.Name{
			Organization: []string{"TcpFrame"},
			CommonName:   "TcpFrame Server",
		},
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:    []string{"localhost", "tcpframe-server"},
		IPAddresses: []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}
	return issue(template, caCert, caKey, validYears)
}

// GenerateClientCert generates a client certificate
func GenerateClientCert(caKey *ecdsa.PrivateKey, caCert *x509.Certificate, validYears int) (*ecdsa.PrivateKey, *x509.Certificate, error) {
	template := &x509.Certificate{
		Subject: pkix.Name{
			Organization: []string{"TcpFrame"},
			CommonName:   "TcpFrame Client",
		},
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	return issue(template, caCert, caKey, validYears)
}

// issue signs template with parent, or self-signs when parent is nil.
func issue(template, parent *x509.Certificate, parentKey *ecdsa.PrivateKey, validYears int) (*ecdsa.PrivateKey, *x509.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("generate serial number: %w", err)
	}
	template.SerialNumber = serialNumber
	template.NotBefore = time.Now().Add(-time.Minute)
	template.NotAfter = time.Now().AddDate(validYears, 0, 0)

	var signer crypto.Signer = key
	if parent == nil {
		parent = template
	} else {
		signer = parentKey
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, parent, &key.PublicKey, signer)
	if err != nil {
		return nil, nil, fmt.Errorf("create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, nil, fmt.Errorf("parse certificate: %w", err)
	}

	return key, cert, nil
}

// EncodePrivateKey encodes a private key to PKCS#8 PEM
func EncodePrivateKey(key *ecdsa.PrivateKey) []byte {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		// only fails for unsupported key types
		panic(err)
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: der,
	})
}

// EncodeCertificate encodes a certificate to PEM format
func EncodeCertificate(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: cert.Raw,
	})
}
