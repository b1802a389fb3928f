package interwallet

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// NewReference builds a globally unique transaction reference of the form
// {systemName}-{base36 timestamp}-{16 hex chars}. It is the idempotency key
// for incoming transfers and the correlation key for callbacks.
func NewReference(systemName string) (string, error) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)

	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate reference randomness: %w", err)
	}

	return fmt.Sprintf("%s-%s-%s", systemName, ts, hex.EncodeToString(buf)), nil
}
