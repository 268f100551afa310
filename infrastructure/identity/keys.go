// Package identity owns the node key pair and implements message signing
// and verification.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"esence/infrastructure/persistence/filestore"
)

const (
	privateKeyFile = "private.pem"
	publicKeyFile  = "public.pem"
)

// ErrCorruptKey is returned when the key file exists but cannot be used
var ErrCorruptKey = errors.New("private key file is corrupt")

// KeyPair is the node's Ed25519 key pair
type KeyPair struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// GenerateKeyPair creates a fresh key pair
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &KeyPair{private: priv, public: pub}, nil
}

// PublicKeyString is the raw public key in base64url without padding
func (k *KeyPair) PublicKeyString() string {
	return EncodeSignature(k.public)
}

// Sign signs data
func (k *KeyPair) Sign(data []byte) string {
	return EncodeSignature(ed25519.Sign(k.private, data))
}

// KeysExist reports whether a private key is already on disk
func KeysExist(keysDir string) bool {
	_, err := os.Stat(filepath.Join(keysDir, privateKeyFile))
	return err == nil
}

// SaveKeyPair writes private.pem (PKCS#8, 0600) and public.pem (SPKI)
func SaveKeyPair(keysDir string, k *KeyPair) error {
	privDER, err := x509.MarshalPKCS8PrivateKey(k.private)
	if err != nil {
		return fmt.Errorf("encode private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(k.public)
	if err != nil {
		return fmt.Errorf("encode public key: %w", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	if err := filestore.WriteFileAtomic(filepath.Join(keysDir, privateKeyFile), privPEM, 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	if err := filestore.WriteFileAtomic(filepath.Join(keysDir, publicKeyFile), pubPEM, 0o644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	return nil
}

// LoadKeyPair reads private.pem. Any decoding problem is ErrCorruptKey.
func LoadKeyPair(keysDir string) (*KeyPair, error) {
	data, err := os.ReadFile(filepath.Join(keysDir, privateKeyFile))
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PRIVATE KEY" {
		return nil, fmt.Errorf("%w: no PKCS#8 PEM block", ErrCorruptKey)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptKey, err)
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an ed25519 key", ErrCorruptKey)
	}
	return &KeyPair{private: priv, public: priv.Public().(ed25519.PublicKey)}, nil
}

// EncodeSignature renders bytes as base64url without padding
func EncodeSignature(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeSignature accepts base64url with or without padding
func DecodeSignature(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// VerifyWithKey checks sig over data with a base64url public key
func VerifyWithKey(publicKey string, data []byte, sig string) bool {
	pub, err := DecodeSignature(publicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	raw, err := DecodeSignature(sig)
	if err != nil || len(raw) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, raw)
}
