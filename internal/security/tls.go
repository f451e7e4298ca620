package security

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// TLSConfig names the PEM files for the API listener. Setting CAFile turns
// on mutual TLS: clients must present a certificate signed by that CA.
type TLSConfig struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

func (c TLSConfig) Enabled() bool { return c.CertFile != "" && c.KeyFile != "" }

// LoadServerTLSConfig builds a TLS 1.3 server config from cfg.
func LoadServerTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	if err := VerifyTLSFiles(cfg.CertFile, cfg.KeyFile); err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		ClientAuth:   tls.NoClientCert,
	}
	if cfg.CAFile == "" {
		return tlsCfg, nil
	}

	pool, err := loadCertPool(cfg.CAFile)
	if err != nil {
		return nil, err
	}
	tlsCfg.ClientCAs = pool
	tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	return tlsCfg, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
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

// VerifyTLSFiles checks that every path is set and points at a regular file.
func VerifyTLSFiles(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			return errors.New("TLS file path must not be empty")
		}
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("TLS file %s: %w", p, err)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("TLS file %s is not a regular file", p)
		}
	}
	return nil
}
