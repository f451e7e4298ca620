package auth

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// KeySet holds the RSA public keys accepted for token signatures, by key id.
type KeySet struct {
	keys map[string]*rsa.PublicKey
}

func NewKeySet() *KeySet {
	return &KeySet{keys: map[string]*rsa.PublicKey{}}
}

// Add registers pub and returns its key id, derived from the key itself.
func (ks *KeySet) Add(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(der)
	kid := base64.RawURLEncoding.EncodeToString(sum[:12])
	ks.keys[kid] = pub
	return kid, nil
}

// Lookup returns the key for kid. Tokens without a kid are accepted only
// when the set holds exactly one key.
func (ks *KeySet) Lookup(kid string) (*rsa.PublicKey, bool) {
	if kid == "" {
		if len(ks.keys) != 1 {
			return nil, false
		}
		for _, k := range ks.keys {
			return k, true
		}
	}
	k, ok := ks.keys[kid]
	return k, ok
}

func (ks *KeySet) Len() int { return len(ks.keys) }

// LoadPEMFile reads every public key PEM block in path.
func LoadPEMFile(path string) (*KeySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read JWT public keys: %w", err)
	}
	return ParsePEM(data)
}

func ParsePEM(data []byte) (*KeySet, error) {
	ks := NewKeySet()
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		pub, err := parsePublicKey(block)
		if err != nil {
			return nil, err
		}
		if _, err := ks.Add(pub); err != nil {
			return nil, err
		}
	}
	if ks.Len() == 0 {
		return nil, errors.New("no RSA public keys found in PEM data")
	}
	return ks, nil
}

func parsePublicKey(block *pem.Block) (*rsa.PublicKey, error) {
	switch block.Type {
	case "PUBLIC KEY":
		k, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse public key: %w", err)
		}
		pub, ok := k.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("public key is not RSA")
		}
		return pub, nil
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("certificate key is not RSA")
		}
		return pub, nil
	}
	return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
}
