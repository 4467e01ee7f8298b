// Package idgen generates short, content-derived task IDs.
package idgen

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// base36Alphabet is the character set for base36 encoding (0-9, a-z).
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// EncodeBase36 converts a byte slice to a base36 string of specified length.
func EncodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)

	var result strings.Builder
	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}

	for i := len(chars) - 1; i >= 0; i-- {
		result.WriteByte(chars[i])
	}

	str := result.String()
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	if len(str) > length {
		str = str[len(str)-length:]
	}
	return str
}

// GenerateTaskID creates a hash-based "tx-" ID for a task. Uses base36
// encoding (0-9, a-z) for better information density than hex. length is
// expected to be 6-8: the store starts new tasks at 6 and grows to 7 or 8
// only when a collision is detected against existing rows. nonce lets the
// store retry with a fresh ID on collision without changing the task's
// content.
func GenerateTaskID(title, description, creator string, timestamp time.Time, length, nonce int) string {
	content := fmt.Sprintf("%s|%s|%s|%d|%d", title, description, creator, timestamp.UnixNano(), nonce)
	hash := sha256.Sum256([]byte(content))

	var numBytes int
	switch length {
	case 6:
		numBytes = 4 // 4 bytes = 32 bits ≈ 6.18 base36 chars
	case 7:
		numBytes = 5 // 5 bytes = 40 bits ≈ 7.73 base36 chars
	case 8:
		numBytes = 5
	default:
		numBytes = 4
	}

	shortHash := EncodeBase36(hash[:numBytes], length)
	return fmt.Sprintf("tx-%s", shortHash)
}

// GenerateLearningRef derives a short content-addressed reference linking a
// promoted learning back to its source material, reusing the task-ID
// hashing scheme with a fixed 8-char width.
func GenerateLearningRef(content string, timestamp time.Time) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", content, timestamp.UnixNano())))
	return EncodeBase36(hash[:5], 8)
}
