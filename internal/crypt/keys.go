package crypt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
)

// Handshake keys are exchanged as exported bytes, so the modulus length is
// a local choice; 2048 clears the protocol's documented 1024-bit minimum.
const keyBits = 2048

var (
	ErrInvalidKey       = errors.New("invalid key")
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// GenerateKeys creates a fresh RSA keypair for one handshake or chat bootstrap.
func GenerateKeys() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, keyBits)
}

// ExportPublicKey renders the public key as PEM text for transport in a
// response payload.
func ExportPublicKey(key *rsa.PublicKey) (string, error) {
	asn1, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", err
	}
	block := &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: asn1,
	}
	return string(pem.EncodeToMemory(block)), nil
}

// ImportPublicKey parses a PEM-encoded public key received from a peer.
func ImportPublicKey(pemText string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, ErrInvalidKey
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, ErrInvalidKey
	}
	return rsaPub, nil
}

// EncryptRSA encrypts a short secret under the peer's public key with OAEP
// and wraps the ciphertext in base64 for the wire.
func EncryptRSA(key *rsa.PublicKey, plaintext []byte) (string, error) {
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, key, plaintext, nil)
	if err != nil {
		return "", ErrEncryptionFailed
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptRSA reverses EncryptRSA with the held private key.
func DecryptRSA(key *rsa.PrivateKey, encoded string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, key, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
