package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignaturePrefix names the digest in the X-Signature header.
const SignaturePrefix = "sha256="

func digest(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// SignHMAC returns the X-Signature value for body: "sha256=" followed by the
// lowercase hex HMAC-SHA256 under secret.
func SignHMAC(secret string, body []byte) string {
	return SignaturePrefix + hex.EncodeToString(digest(secret, body))
}

// VerifyHMAC checks a signature produced by SignHMAC. The prefix is optional.
func VerifyHMAC(secret string, body []byte, provided string) bool {
	b, err := hex.DecodeString(strings.TrimPrefix(provided, SignaturePrefix))
	if err != nil {
		return false
	}
	return hmac.Equal(digest(secret, body), b)
}
