// Package crypto derives the static pairing passkeys of the mice from a
// shared secret, so a host can re-pair with the same PIN after a restart
// without storing one PIN per mouse.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SecretSize is the length of a pairing secret in bytes.
const SecretSize = 32

// MaxPasskey is the largest six-digit passkey.
const MaxPasskey = 999999

// GenerateSecret returns a new random pairing secret.
func GenerateSecret() ([]byte, error) {
	secret := make([]byte, SecretSize)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return nil, fmt.Errorf("ble/crypto: random secret: %w", err)
	}
	return secret, nil
}

// ParseSecret decodes a hex-encoded pairing secret.
func ParseSecret(s string) ([]byte, error) {
	secret, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("ble/crypto: decode secret: %w", err)
	}
	if len(secret) != SecretSize {
		return nil, fmt.Errorf("ble/crypto: secret must be %d bytes, got %d", SecretSize, len(secret))
	}
	return secret, nil
}

// DerivePasskey uses HKDF-SHA256 to derive the six-digit passkey of mouse id
// from secret. The same secret and id always give the same passkey.
func DerivePasskey(secret []byte, id uint8) (uint32, error) {
	if len(secret) != SecretSize {
		return 0, fmt.Errorf("ble/crypto: secret must be %d bytes, got %d", SecretSize, len(secret))
	}
	info := append([]byte("ble-mouse-jiggler passkey "), id)
	r := hkdf.New(sha256.New, secret, nil, info)
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("ble/crypto: HKDF: %w", err)
	}
	return binary.BigEndian.Uint32(buf[:]) % (MaxPasskey + 1), nil
}

// FormatPasskey renders a passkey the way pairing dialogs show it, zero
// padded to six digits.
func FormatPasskey(passkey uint32) string {
	return fmt.Sprintf("%06d", passkey)
}
