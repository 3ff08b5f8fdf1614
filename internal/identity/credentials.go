package identity

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Alphabet for generated credentials; ambiguous glyphs (0/O, 1/l/I) are
// excluded so operators can read a temporary password over the phone.
const passwordAlphabet = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789!@#$%&*"

// DefaultPasswordLength is used when the caller does not supply a credential.
const DefaultPasswordLength = 16

// GenerateTemporaryPassword returns a temporary credential drawn from a
// cryptographically secure source.
func GenerateTemporaryPassword(length int) (string, error) {
	if length <= 0 {
		length = DefaultPasswordLength
	}
	max := big.NewInt(int64(len(passwordAlphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("identity: generate credential: %w", err)
		}
		buf[i] = passwordAlphabet[n.Int64()]
	}
	return string(buf), nil
}
