package vault

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrEmptyKey signals the vault was constructed without key material.
var ErrEmptyKey = errors.New("vault: empty key")

// Vault applies a reversible, keyed transformation to account credentials and
// withdrawal payment details before they hit the database. It is an at-rest
// obfuscation layer, not real encryption.
type Vault struct {
	key []byte
}

// New builds a Vault from the configured key string.
func New(key string) (*Vault, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	return &Vault{key: []byte(key)}, nil
}

// Encode transforms a clear-text secret into its storable form.
func (v *Vault) Encode(plain string) string {
	return base64.StdEncoding.EncodeToString(v.xor([]byte(plain)))
}

// Decode reverses Encode.
func (v *Vault) Decode(stored string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("vault: decode: %w", err)
	}
	return string(v.xor(raw)), nil
}

func (v *Vault) xor(in []byte) []byte {
	out := make([]byte, len(in))
	for i, b := range in {
		out[i] = b ^ v.key[i%len(v.key)]
	}
	return out
}
