package relay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// validSignature checks a hex-encoded HMAC-SHA256 of the whole body in
// constant time. hmac.Equal handles the timing discipline; decoding first
// keeps casing differences from failing a correct signature.
func validSignature(body []byte, secret, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}
