package crypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

const secretLength = 32

var (
	ErrShortCiphertext = errors.New("ciphertext shorter than IV")
	ErrBadPadding      = errors.New("invalid padding")
)

// Cipher encrypts pairwise chat traffic with AES-CBC. A fresh random IV is
// generated per message and prepended to the ciphertext, so two encryptions
// of the same plaintext differ.
type Cipher struct {
	secret []byte
	block  cipher.Block
}

// NewCipher wraps an agreed symmetric secret.
func NewCipher(secret []byte) (*Cipher, error) {
	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, err
	}
	return &Cipher{secret: secret, block: block}, nil
}

// DeriveSecret builds a chat secret from the two participants' usernames and
// a random salt. This is the first-contact fallback: the secret is not
// reproducible by the peer and must still be transported RSA-encrypted, and
// it carries less entropy than a fully random key. Kept for compatibility
// with stored secrets from earlier sessions.
func DeriveSecret(user, contact string) ([]byte, error) {
	salt := make([]byte, secretLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	seed := append([]byte(user+contact), salt...)
	digest := sha256.Sum256(seed)
	return digest[:], nil
}

// Secret exposes the raw key for persistence and RSA transport.
func (c *Cipher) Secret() []byte {
	return c.secret
}

// Encrypt pads the plaintext to the AES block size, encrypts it in CBC mode
// under a fresh IV and returns base64(iv + ciphertext).
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	padded := pad(plaintext)

	buf := make([]byte, aes.BlockSize+len(padded))
	iv := buf[:aes.BlockSize]
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(buf[aes.BlockSize:], padded)
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Decrypt splits the IV off the decoded payload, decrypts and strips padding.
func (c *Cipher) Decrypt(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if len(raw) < aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return nil, ErrShortCiphertext
	}

	iv, ciphertext := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plaintext, ciphertext)
	return unpad(plaintext)
}

// PKCS#7. Space padding from the legacy protocol revision cannot restore
// plaintexts with trailing whitespace, so the round-trip-safe scheme is used.
func pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrBadPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, ErrBadPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrBadPadding
		}
	}
	return data[:len(data)-n], nil
}
