// Package secrets seals integration settings at rest with NaCl secretbox.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var (
	ErrNoKey           = errors.New("encryption key is not configured")
	ErrMalformedSecret = errors.New("sealed value is malformed")
	ErrDecrypt         = errors.New("sealed value could not be opened")
)

// Box derives its key from a configured secret string
type Box struct {
	key *[32]byte
}

// NewBox returns a Box keyed with sha256(secret). An empty secret yields a Box that
// refuses to seal or open anything.
func NewBox(secret string) *Box {
	if secret == "" {
		return &Box{}
	}
	key := sha256.Sum256([]byte(secret))
	return &Box{key: &key}
}

// Seal encrypts plaintext and returns base64(nonce || ciphertext)
func (b *Box) Seal(plaintext []byte) (string, error) {
	if b == nil || b.key == nil {
		return "", ErrNoKey
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, b.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (b *Box) Open(encoded string) ([]byte, error) {
	if b == nil || b.key == nil {
		return nil, ErrNoKey
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSecret, err)
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return nil, ErrMalformedSecret
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, b.key)
	if !ok {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// OpenSettings decodes a custom settings column. Plain JSON objects are accepted as-is so
// rows written before encryption was enabled keep working.
func (b *Box) OpenSettings(stored string) (map[string]string, error) {
	if stored == "" {
		return map[string]string{}, nil
	}

	payload := []byte(stored)
	if stored[0] != '{' && stored[0] != '[' {
		plain, err := b.Open(stored)
		if err != nil {
			return nil, err
		}
		payload = plain
	}

	return decodeSettings(payload)
}

// SealSettings is the inverse of OpenSettings
func (b *Box) SealSettings(settings map[string]string) (string, error) {
	raw, err := json.Marshal(settings)
	if err != nil {
		return "", err
	}
	return b.Seal(raw)
}

// decodeSettings accepts either {"k":"v"} or the [{"key":..,"value":..}] list form
func decodeSettings(payload []byte) (map[string]string, error) {
	out := map[string]string{}
	if len(payload) > 0 && payload[0] == '[' {
		var list []struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		}
		if err := json.Unmarshal(payload, &list); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedSecret, err)
		}
		for _, kv := range list {
			out[kv.Key] = kv.Value
		}
		return out, nil
	}

	var generic map[string]interface{}
	if err := json.Unmarshal(payload, &generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSecret, err)
	}
	for k, v := range generic {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out, nil
}
