package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const (
	ResetTokenLength = 40
	ResetTokenTTL    = 30 * time.Minute

	VerificationCodeLength = 8
	VerificationCodeTTL    = 5 * time.Minute
)

const (
	resetAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	digits        = "0123456789"
)

// GenerateResetToken returns a single-use password reset token.
func GenerateResetToken() (string, error) {
	return randomString(resetAlphabet, ResetTokenLength)
}

// GenerateVerificationCode returns a numeric email verification code.
func GenerateVerificationCode() (string, error) {
	return randomString(digits, VerificationCodeLength)
}

func randomString(alphabet string, n int) (string, error) {
	size := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("generate random string: %w", err)
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}
