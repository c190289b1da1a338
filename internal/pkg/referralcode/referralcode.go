// Package referralcode generates and normalizes affiliate referral codes.
package referralcode

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// Crockford-style alphabet without 0/O and 1/I/L to keep codes readable.
const alphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const DefaultLength = 8

// Generate returns a cryptographically random code of the given length.
func Generate(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid referral code length: %d", length)
	}

	// Rejection sampling avoids modulo bias: 248 is the largest multiple of
	// len(alphabet) below 256.
	maxRandomByte := 256 - 256%len(alphabet)

	code := make([]byte, length)
	buf := make([]byte, length*2)
	written := 0

	for written < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read secure random bytes: %w", err)
		}

		for _, b := range buf {
			if int(b) >= maxRandomByte {
				continue
			}
			code[written] = alphabet[int(b)%len(alphabet)]
			written++
			if written == length {
				break
			}
		}
	}

	return string(code), nil
}

// Normalize makes user-typed codes comparable with stored ones.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
