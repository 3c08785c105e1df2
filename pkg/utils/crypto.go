package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"

	"github.com/sirupsen/logrus"
)

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// Sealer encrypts provider secrets at rest with AES-GCM. The stored form is
// base64(nonce || ciphertext).
type Sealer struct {
	aead cipher.AEAD
}

func NewSealer(key []byte) (*Sealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		logrus.WithError(err).Error("invalid encryption key")
		return nil, err
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *Sealer) Open(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}

	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize {
		return "", ErrCiphertextTooShort
	}

	plaintext, err := s.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		logrus.WithError(err).Warn("unable to decrypt sealed value")
		return "", err
	}
	return string(plaintext), nil
}

// SealMap encrypts every value of m, empty values are kept as is.
func (s *Sealer) SealMap(m map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if v == "" {
			out[k] = v
			continue
		}
		sealed, err := s.Seal(v)
		if err != nil {
			return nil, err
		}
		out[k] = sealed
	}
	return out, nil
}

func (s *Sealer) OpenMap(m map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if v == "" {
			out[k] = v
			continue
		}
		plain, err := s.Open(v)
		if err != nil {
			return nil, err
		}
		out[k] = plain
	}
	return out, nil
}
