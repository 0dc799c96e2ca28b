package utils

import (
	"crypto/rand"
	"encoding/base64"
	"io"
	"math/big"
)

const suffixAlphabet = "abcdefghjkmnpqrstuvwxyz23456789"

// GenerateSecureToken creates a cryptographically secure random token.
func GenerateSecureToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, bytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

// GenerateUsernameSuffix returns n random characters from an alphabet with
// no lookalikes (no 0/O, 1/l/i), suitable for usernames read over the phone.
func GenerateUsernameSuffix(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(suffixAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = suffixAlphabet[idx.Int64()]
	}
	return string(out), nil
}
