package security

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"google.golang.org/grpc/credentials"
)

// ServerTLSConfig names the files the hub needs for mutual TLS.
type ServerTLSConfig struct {
	CertFile     string // hub certificate
	KeyFile      string // hub private key
	ClientCAFile string // CA that signed agent certificates
}

// ClientTLSConfig names the files an agent needs to reach the hub.
type ClientTLSConfig struct {
	CertFile   string // agent certificate
	KeyFile    string // agent private key
	CAFile     string // CA that signed the hub certificate
	ServerName string // overrides the name verified against the hub certificate
}

// LoadServerTLS builds gRPC server credentials that require a client
// certificate signed by ClientCAFile.
func LoadServerTLS(cfg *ServerTLSConfig) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}
	pool, err := loadPool(cfg.ClientCAFile)
	if err != nil {
		return nil, fmt.Errorf("client CA: %w", err)
	}

	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS13,
	}), nil
}

// LoadClientTLS builds gRPC client credentials presenting the agent
// certificate and verifying the hub against CAFile.
func LoadClientTLS(cfg *ClientTLSConfig) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}
	pool, err := loadPool(cfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("server CA: %w", err)
	}

	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		ServerName:   cfg.ServerName,
		MinVersion:   tls.VersionTLS13,
	}), nil
}

func loadPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates in %s", path)
	}
	return pool, nil
}
