package authgate

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/keithlinneman/linnemanlabs-cv/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-cv/internal/xerrors"
)

const (
	Iterations = 100_000
	KeyLen     = 32
	SaltBytes  = 16
	SecretLen  = 64
)

func derive(plain, salt string) string {
	return hex.EncodeToString(pbkdf2.Key([]byte(plain), []byte(salt), Iterations, KeyLen, sha256.New))
}

// HashPassword returns "salt:hexhash" for plain using a fresh random salt.
func HashPassword(plain string) (string, error) {
	salt, err := cryptoutil.RandomHex(SaltBytes)
	if err != nil {
		return "", xerrors.Wrap(err, "generate salt")
	}
	return salt + ":" + derive(plain, salt), nil
}

// splitHash parses a stored hash. The hash part must be hex of the derived key length.
func splitHash(stored string) (salt, sum string, ok bool) {
	if strings.Count(stored, ":") != 1 {
		return "", "", false
	}
	salt, sum, _ = strings.Cut(stored, ":")
	if salt == "" || len(sum) != 2*KeyLen {
		return "", "", false
	}
	if _, err := hex.DecodeString(sum); err != nil {
		return "", "", false
	}
	return salt, strings.ToLower(sum), true
}

// VerifyPassword reports whether plain matches stored. Malformed stored
// hashes never match.
func VerifyPassword(plain, stored string) bool {
	salt, sum, ok := splitHash(stored)
	if !ok {
		return false
	}
	return cryptoutil.HashEqual(derive(plain, salt), sum)
}

// GenerateSecret returns a random URL-safe signing secret.
func GenerateSecret() (string, error) {
	s, err := cryptoutil.RandomToken(SecretLen)
	if err != nil {
		return "", xerrors.Wrap(err, "generate secret")
	}
	return s, nil
}
