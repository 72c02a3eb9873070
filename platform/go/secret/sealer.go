// Package secret seals tenant connection strings at rest. Sealed values are
// encrypted with AES-256-GCM and wrapped in an HS256 JWT so tampering is detected
// before decryption.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

var (
	// ErrTampered is returned when a sealed value fails signature or decryption checks.
	ErrTampered = errors.New("sealed value failed integrity check")
	// ErrEmptySecret is returned when no application secret is configured.
	ErrEmptySecret = errors.New("application secret is required")
)

const issuer = "tenantgate"

type sealedClaims struct {
	Enc string `json:"enc"`
	jwt.RegisteredClaims
}

// Sealer encrypts and signs short strings such as database URIs.
type Sealer struct {
	aead    cipher.AEAD
	signKey []byte
}

// NewSealer derives independent encryption and signing keys from appSecret.
func NewSealer(appSecret string) (*Sealer, error) {
	if appSecret == "" {
		return nil, ErrEmptySecret
	}

	encKey, err := deriveKey(appSecret, "tenantgate/db-uri/enc")
	if err != nil {
		return nil, err
	}
	signKey, err := deriveKey(appSecret, "tenantgate/db-uri/sign")
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	return &Sealer{aead: aead, signKey: signKey}, nil
}

// Seal encrypts plaintext and returns a signed token safe to store in a text column.
func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)

	claims := sealedClaims{
		Enc:              base64.RawURLEncoding.EncodeToString(ciphertext),
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
	if err != nil {
		return "", fmt.Errorf("sign sealed value: %w", err)
	}
	return token, nil
}

// Open verifies and decrypts a value produced by Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	var claims sealedClaims
	_, err := jwt.ParseWithClaims(sealed, &claims, func(*jwt.Token) (any, error) {
		return s.signKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTampered, err)
	}

	ciphertext, err := base64.RawURLEncoding.DecodeString(claims.Enc)
	if err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrTampered, err)
	}
	nonceSize := s.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrTampered)
	}

	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("%w: decrypt: %v", ErrTampered, err)
	}
	return string(plaintext), nil
}

// DeriveKey derives a 32-byte key for purpose from appSecret. Distinct purposes
// yield unrelated keys.
func DeriveKey(appSecret, purpose string) ([]byte, error) {
	if appSecret == "" {
		return nil, ErrEmptySecret
	}
	return deriveKey(appSecret, purpose)
}

func deriveKey(secret, info string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}
