package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const keyPrefix = "og_live_key_"

// FormatKey builds the raw key handed to an operator: the key id without its
// "key_" prefix followed by the hex secret. Only HashKey of it is stored.
func FormatKey(keyID string, secret []byte) string {
	return keyPrefix + strings.TrimPrefix(keyID, "key_") + "_" + hex.EncodeToString(secret)
}

// HashKey is the lookup hash for both generated and seeded keys.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}
