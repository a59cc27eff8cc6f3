package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
)

// apiKeySecretEnv holds the secret API keys are sealed with. It may be a
// base64 encoded 32 byte key or any passphrase.
const apiKeySecretEnv = "UNICHAT_APIKEY_KEY"

// sealedPrefix marks stored values written by a keySealer. Anything else is
// a plaintext key from before sealing was enabled.
const sealedPrefix = "sealed:v1:"

var (
	errSealedKey     = errors.New("api key is sealed but " + apiKeySecretEnv + " is not set")
	errUnreadableKey = errors.New("stored api key cannot be unsealed with the configured secret")
)

// keySealer seals provider API keys before they reach SQL or redis. A nil
// sealer stores keys as they are.
type keySealer struct {
	gcm cipher.AEAD
}

func sealerFromEnv() (*keySealer, error) {
	secret := strings.TrimSpace(os.Getenv(apiKeySecretEnv))
	if secret == "" {
		return nil, nil
	}
	block, err := aes.NewCipher(sealingKey(secret))
	if err != nil {
		return nil, fmt.Errorf("init api key sealer: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init api key sealer: %w", err)
	}
	return &keySealer{gcm: gcm}, nil
}

func sealingKey(secret string) []byte {
	if raw, err := base64.StdEncoding.DecodeString(secret); err == nil && len(raw) == 32 {
		return raw
	}
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// seal returns the value to store for apiKey.
func (s *keySealer) seal(apiKey string) (string, error) {
	if s == nil {
		return apiKey, nil
	}
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("seal api key: %w", err)
	}
	out := s.gcm.Seal(nonce, nonce, []byte(apiKey), []byte(sealedPrefix))
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(out), nil
}

// open recovers the API key from a stored value. Plaintext values pass
// through unchanged whether or not a secret is configured.
func (s *keySealer) open(stored string) (string, error) {
	payload, sealed := strings.CutPrefix(stored, sealedPrefix)
	if !sealed {
		return stored, nil
	}
	if s == nil {
		return "", errSealedKey
	}
	data, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil || len(data) < s.gcm.NonceSize() {
		return "", errUnreadableKey
	}
	n := s.gcm.NonceSize()
	plain, err := s.gcm.Open(nil, data[:n], data[n:], []byte(sealedPrefix))
	if err != nil {
		return "", errUnreadableKey
	}
	return string(plain), nil
}
