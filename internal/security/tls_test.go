package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSelfSigned(t *testing.T, dir, name string) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: name},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	certFile = filepath.Join(dir, name+".crt")
	keyFile = filepath.Join(dir, name+".key")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certFile, keyFile
}

func TestLoadServerTLSConfig(t *testing.T) {
	dir := t.TempDir()
	cert, key := writeSelfSigned(t, dir, "api")

	cfg, err := LoadServerTLSConfig(TLSConfig{CertFile: cert, KeyFile: key})
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	assert.Equal(t, tls.NoClientCert, cfg.ClientAuth)
	assert.Nil(t, cfg.ClientCAs)
}

func TestLoadServerTLSConfigMutual(t *testing.T) {
	dir := t.TempDir()
	cert, key := writeSelfSigned(t, dir, "api")
	ca, _ := writeSelfSigned(t, dir, "clients-ca")

	cfg, err := LoadServerTLSConfig(TLSConfig{CertFile: cert, KeyFile: key, CAFile: ca})
	require.NoError(t, err)
	assert.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)
	assert.NotNil(t, cfg.ClientCAs)
}

func TestLoadServerTLSConfigErrors(t *testing.T) {
	dir := t.TempDir()
	cert, key := writeSelfSigned(t, dir, "api")
	garbage := filepath.Join(dir, "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not a certificate"), 0o600))

	tests := []struct {
		name string
		cfg  TLSConfig
	}{
		{"missing key", TLSConfig{CertFile: cert}},
		{"absent cert file", TLSConfig{CertFile: filepath.Join(dir, "nope.crt"), KeyFile: key}},
		{"mismatched pair", TLSConfig{CertFile: cert, KeyFile: garbage}},
		{"bad CA", TLSConfig{CertFile: cert, KeyFile: key, CAFile: garbage}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadServerTLSConfig(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestVerifyTLSFiles(t *testing.T) {
	dir := t.TempDir()
	cert, key := writeSelfSigned(t, dir, "api")

	assert.NoError(t, VerifyTLSFiles(cert, key))
	assert.Error(t, VerifyTLSFiles(cert, ""))
	assert.Error(t, VerifyTLSFiles(filepath.Join(dir, "missing.crt")))
	assert.Error(t, VerifyTLSFiles(dir))
}

func TestTLSConfigEnabled(t *testing.T) {
	assert.False(t, TLSConfig{}.Enabled())
	assert.False(t, TLSConfig{CertFile: "a"}.Enabled())
	assert.True(t, TLSConfig{CertFile: "a", KeyFile: "b"}.Enabled())
}
