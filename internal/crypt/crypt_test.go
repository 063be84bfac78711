package crypt

import (
	"bytes"
	"strings"
	"testing"
)

func TestExportImportPublicKey(t *testing.T) {
	key, err := GenerateKeys()
	if err != nil {
		t.Fatalf("GenerateKeys() error = %v", err)
	}

	pemText, err := ExportPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("ExportPublicKey() error = %v", err)
	}
	if !strings.HasPrefix(pemText, "-----BEGIN PUBLIC KEY-----") {
		t.Error("ExportPublicKey() does not start with PEM header")
	}

	imported, err := ImportPublicKey(pemText)
	if err != nil {
		t.Fatalf("ImportPublicKey() error = %v", err)
	}
	if imported.N.Cmp(key.PublicKey.N) != 0 || imported.E != key.PublicKey.E {
		t.Error("ImportPublicKey() key mismatch")
	}
}

func TestImportPublicKeyInvalid(t *testing.T) {
	for _, input := range []string{"", "not a PEM block"} {
		if _, err := ImportPublicKey(input); err == nil {
			t.Errorf("ImportPublicKey(%q) expected error", input)
		}
	}
}

func TestRSAEncryptDecrypt(t *testing.T) {
	key, err := GenerateKeys()
	if err != nil {
		t.Fatalf("GenerateKeys() error = %v", err)
	}

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{name: "password", plaintext: []byte("hunter2")},
		{name: "empty", plaintext: []byte{}},
		{name: "binary secret", plaintext: bytes.Repeat([]byte{0x00, 0xFF}, 16)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := EncryptRSA(&key.PublicKey, tt.plaintext)
			if err != nil {
				t.Fatalf("EncryptRSA() error = %v", err)
			}
			decrypted, err := DecryptRSA(key, encoded)
			if err != nil {
				t.Fatalf("DecryptRSA() error = %v", err)
			}
			if !bytes.Equal(decrypted, tt.plaintext) {
				t.Errorf("DecryptRSA() = %v, want %v", decrypted, tt.plaintext)
			}
		})
	}
}

func TestDecryptRSAWrongKey(t *testing.T) {
	key, _ := GenerateKeys()
	other, _ := GenerateKeys()

	encoded, err := EncryptRSA(&key.PublicKey, []byte("secret"))
	if err != nil {
		t.Fatalf("EncryptRSA() error = %v", err)
	}
	if _, err := DecryptRSA(other, encoded); err == nil {
		t.Error("DecryptRSA() expected error with wrong key")
	}
}

func TestCipherEncryptDecrypt(t *testing.T) {
	secret, err := DeriveSecret("alice", "bob")
	if err != nil {
		t.Fatalf("DeriveSecret() error = %v", err)
	}
	c, err := NewCipher(secret)
	if err != nil {
		t.Fatalf("NewCipher() error = %v", err)
	}

	tests := []struct {
		name      string
		plaintext string
	}{
		{name: "short", plaintext: "hi"},
		{name: "empty", plaintext: ""},
		{name: "block multiple", plaintext: strings.Repeat("a", 32)},
		{name: "trailing spaces", plaintext: "padded   "},
		{name: "unicode", plaintext: "привет мир"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := c.Encrypt([]byte(tt.plaintext))
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			decrypted, err := c.Decrypt(encoded)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if string(decrypted) != tt.plaintext {
				t.Errorf("Decrypt() = %q, want %q", decrypted, tt.plaintext)
			}
		})
	}
}

func TestCipherRandomIV(t *testing.T) {
	secret, _ := DeriveSecret("alice", "bob")
	c, _ := NewCipher(secret)

	first, err := c.Encrypt([]byte("same plaintext"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	second, err := c.Encrypt([]byte("same plaintext"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if first == second {
		t.Error("Encrypt() produced identical ciphertexts for same plaintext")
	}
}

func TestCipherDecryptInvalid(t *testing.T) {
	secret, _ := DeriveSecret("alice", "bob")
	c, _ := NewCipher(secret)

	for _, input := range []string{"", "bm90IGEgYmxvY2s=", "!!!"} {
		if _, err := c.Decrypt(input); err == nil {
			t.Errorf("Decrypt(%q) expected error", input)
		}
	}
}

func TestDeriveSecretLength(t *testing.T) {
	first, err := DeriveSecret("alice", "bob")
	if err != nil {
		t.Fatalf("DeriveSecret() error = %v", err)
	}
	if len(first) != secretLength {
		t.Errorf("DeriveSecret() length = %d, want %d", len(first), secretLength)
	}

	second, _ := DeriveSecret("alice", "bob")
	if bytes.Equal(first, second) {
		t.Error("DeriveSecret() returned identical secrets; salt not applied")
	}
}

func TestHashPassword(t *testing.T) {
	hash := HashPassword("hunter2", "alice")
	if len(hash) != 2*hashLength {
		t.Errorf("HashPassword() length = %d, want %d", len(hash), 2*hashLength)
	}
	if hash != HashPassword("hunter2", "alice") {
		t.Error("HashPassword() not deterministic")
	}
	if hash == HashPassword("hunter2", "bob") {
		t.Error("HashPassword() ignores username salt")
	}
	if hash == HashPassword("other", "alice") {
		t.Error("HashPassword() ignores password")
	}
}
