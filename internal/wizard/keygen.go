package wizard

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	// KeyAlphabet is the character set of generated keys.
	KeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	// GeneratedKeyLength is the length of generated keys.
	GeneratedKeyLength = 16

	// MinKeyLength is the shortest key accepted at the key step.
	MinKeyLength = 4
)

// GenerateKey returns a random key of GeneratedKeyLength characters drawn
// uniformly from KeyAlphabet.
func GenerateKey() (string, error) {
	limit := big.NewInt(int64(len(KeyAlphabet)))
	buf := make([]byte, GeneratedKeyLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate key: %w", err)
		}
		buf[i] = KeyAlphabet[n.Int64()]
	}
	return string(buf), nil
}
