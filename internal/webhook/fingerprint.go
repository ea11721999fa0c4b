package webhook

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Fingerprint returns the BLAKE3-256 digest of a raw body as "blake3:<hex>".
// A duplicate delivery whose fingerprint differs from the stored one reused a
// message_id for different content.
func Fingerprint(body []byte) string {
	sum := blake3.Sum256(body)
	return "blake3:" + hex.EncodeToString(sum[:])
}
