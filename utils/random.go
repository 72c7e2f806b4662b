package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func GenerateCode(n int) (string, error) {
	// Make a slice of nBytes random bytes.
	byt := make([]byte, n)

	// Read into the slice.
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}

	// Return the hexadecimal string.
	return strings.ToUpper(hex.EncodeToString(byt)), nil
}

// GenerateTransactionID returns prefix_<unix millis>_<8 hex chars>. It is unique within a
// process with overwhelming probability but is not a global identifier.
func GenerateTransactionID(prefix string) string {
	suffix, err := GenerateCode(4)
	if err != nil {
		// crypto/rand failing is close to impossible; uuid keeps the id usable anyway.
		suffix = strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	}
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), suffix)
}
