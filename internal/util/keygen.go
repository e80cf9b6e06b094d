package util

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"strings"
)

const redeemKeyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var redeemKeyEncoding = base32.NewEncoding(redeemKeyAlphabet).WithPadding(base32.NoPadding)

func generateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func generateRandomString(length int) (string, error) {
	byteLength := (length*5 + 7) / 8
	b, err := generateRandomBytes(byteLength)
	if err != nil {
		return "", err
	}

	str := redeemKeyEncoding.EncodeToString(b)
	if len(str) > length {
		return str[:length], nil
	}
	return str, nil
}

// GenerateRedeemKey returns a human-typable key such as "GIFT-7KQ2MX9A".
// The alphabet leaves out 0, 1, I and O.
func GenerateRedeemKey(prefix string, length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("key length must be positive, got %d", length)
	}

	body, err := generateRandomString(length)
	if err != nil {
		return "", fmt.Errorf("failed to generate key body: %w", err)
	}

	if prefix == "" {
		return body, nil
	}
	return strings.ToUpper(prefix) + "-" + body, nil
}

// HashSecret digests a shared secret so that comparisons run over fixed-length
// inputs.
func HashSecret(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}
