package crypt

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/pbkdf2"
)

const (
	hashIterations = 100000
	hashLength     = 32
)

// HashPassword derives the stored credential digest. The username acts as
// the salt, so the same password hashes differently per account.
func HashPassword(password, username string) string {
	digest := pbkdf2.Key([]byte(password), []byte(username), hashIterations, hashLength, sha256.New)
	return hex.EncodeToString(digest)
}
