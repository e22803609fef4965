package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureVerifier checks the HMAC signature the gateway hands to the client
// after a successful capture.
type SignatureVerifier struct {
	secret []byte
}

// NewSignatureVerifier constructs a verifier sharing the gateway key secret.
func NewSignatureVerifier(secret string) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(secret)}
}

// Verify recomputes HMAC-SHA256 over "<gatewayOrderID>|<gatewayPaymentID>" and
// compares the hex digest against the supplied signature in constant time.
func (v *SignatureVerifier) Verify(gatewayOrderID, gatewayPaymentID, signature string) bool {
	if v == nil || len(v.secret) == 0 {
		return false
	}
	gatewayOrderID = strings.TrimSpace(gatewayOrderID)
	gatewayPaymentID = strings.TrimSpace(gatewayPaymentID)
	signature = strings.TrimSpace(signature)
	if gatewayOrderID == "" || gatewayPaymentID == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
