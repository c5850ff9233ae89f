package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	// ErrInvalidKey is returned for empty input, undecodable PEM or an unexpected block type.
	ErrInvalidKey = errors.New("invalid key")
	// ErrKeyMismatch is returned when the configured public key does not belong to the signing key.
	ErrKeyMismatch = errors.New("public key does not match signing key")
)

// KeyPair is the key access and refresh tokens are signed with and the key they are verified with.
type KeyPair struct {
	Signer crypto.Signer
	Public crypto.PublicKey
}

// LoadKeyPair reads the signing key and, when publicPEM is set, the verification key.
// Without publicPEM the signer's own public half is used. Either argument may be inline
// PEM or a file path.
func LoadKeyPair(privatePEM, publicPEM string) (KeyPair, error) {
	signer, err := ParsePrivateKey(privatePEM)
	if err != nil {
		return KeyPair{}, fmt.Errorf("signing key: %w", err)
	}
	if strings.TrimSpace(publicPEM) == "" {
		return KeyPair{Signer: signer, Public: signer.Public()}, nil
	}
	pub, err := ParsePublicKey(publicPEM)
	if err != nil {
		return KeyPair{}, fmt.Errorf("verification key: %w", err)
	}
	if k, ok := signer.Public().(interface{ Equal(crypto.PublicKey) bool }); !ok || !k.Equal(pub) {
		return KeyPair{}, ErrKeyMismatch
	}
	return KeyPair{Signer: signer, Public: pub}, nil
}

// GenerateEphemeralKey returns a fresh ECDSA P-256 pair. Tokens signed with it do not
// survive a restart.
func GenerateEphemeralKey() (KeyPair, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Signer: key, Public: key.Public()}, nil
}

// LoadPEM returns s itself when it is inline PEM, else the contents of the file s names.
// Literal "\n" sequences, as left by single-line environment variables, become newlines.
func LoadPEM(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return nil, ErrInvalidKey
	case strings.HasPrefix(s, "-----BEGIN"):
		return []byte(strings.ReplaceAll(s, `\n`, "\n")), nil
	default:
		return os.ReadFile(s)
	}
}

func decodeBlock(s string) (*pem.Block, error) {
	raw, err := LoadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, ErrInvalidKey
	}
	return block, nil
}

// ParsePrivateKey accepts PKCS#1 RSA, SEC 1 EC and PKCS#8 private keys.
func ParsePrivateKey(s string) (crypto.Signer, error) {
	block, err := decodeBlock(s)
	if err != nil {
		return nil, err
	}
	var key any
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	default:
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, err
	}
	signer, ok := key.(crypto.Signer)
	if !ok || KeyAlg(signer.Public()) == "" {
		return nil, ErrInvalidKey
	}
	return signer, nil
}

// ParsePublicKey accepts PKCS#1 RSA and PKIX public keys.
func ParsePublicKey(s string) (crypto.PublicKey, error) {
	block, err := decodeBlock(s)
	if err != nil {
		return nil, err
	}
	switch block.Type {
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		return x509.ParsePKIXPublicKey(block.Bytes)
	default:
		return nil, ErrInvalidKey
	}
}

// KeyAlg names the JWS algorithm tokens signed by pub's private half use; empty when unsupported.
func KeyAlg(pub crypto.PublicKey) string {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return "RS256"
	case *ecdsa.PublicKey:
		switch k.Curve {
		case elliptic.P256():
			return "ES256"
		case elliptic.P384():
			return "ES384"
		}
	}
	return ""
}
