package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Hub-Signature-256"

const signaturePrefix = "sha256="

// Verify reports whether provided is a valid HMAC-SHA256 signature of body
// under secret.
//
// The comparison is constant-time (hmac.Equal) and runs over the exact bytes
// received; the body is never re-serialized before hashing.
//
// Accepted formats:
//   - "sha256=<hex>" (GitHub X-Hub-Signature-256)
//   - "<hex>" (plain hex)
//
// The hex part must be exactly 64 characters, either case. An empty secret or
// empty signature always fails.
func Verify(body []byte, provided string, secret []byte) bool {
	if len(secret) == 0 || provided == "" {
		return false
	}

	actualMAC, ok := parseSignature(provided)
	if !ok {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), actualMAC)
}

// parseSignature extracts and decodes the HMAC from either supported format.
func parseSignature(signature string) ([]byte, bool) {
	hexSig := strings.TrimPrefix(signature, signaturePrefix)
	if len(hexSig) != hex.EncodedLen(sha256.Size) {
		return nil, false
	}
	raw, err := hex.DecodeString(hexSig)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// Sign returns the X-Hub-Signature-256 header value for body.
func Sign(body, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
