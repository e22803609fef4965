package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func signPayload(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestSignatureVerifierAcceptsValidSignature(t *testing.T) {
	verifier := NewSignatureVerifier("rzp-secret")

	signature := signPayload("rzp-secret", "order_abc", "pay_xyz")
	if !verifier.Verify("order_abc", "pay_xyz", signature) {
		t.Fatalf("expected valid signature to verify")
	}
}

func TestSignatureVerifierRejectsTamperedPayload(t *testing.T) {
	verifier := NewSignatureVerifier("rzp-secret")

	signature := signPayload("rzp-secret", "order_abc", "pay_xyz")
	if verifier.Verify("order_abc", "pay_other", signature) {
		t.Fatalf("expected tampered payment id to fail verification")
	}
	if verifier.Verify("order_other", "pay_xyz", signature) {
		t.Fatalf("expected tampered order id to fail verification")
	}
}

func TestSignatureVerifierRejectsWrongSecret(t *testing.T) {
	verifier := NewSignatureVerifier("rzp-secret")

	signature := signPayload("other-secret", "order_abc", "pay_xyz")
	if verifier.Verify("order_abc", "pay_xyz", signature) {
		t.Fatalf("expected signature from a different secret to fail")
	}
}

func TestSignatureVerifierRejectsBlankInputs(t *testing.T) {
	verifier := NewSignatureVerifier("rzp-secret")

	if verifier.Verify("", "pay_xyz", "sig") {
		t.Fatalf("expected blank order id to fail")
	}
	if verifier.Verify("order_abc", "", "sig") {
		t.Fatalf("expected blank payment id to fail")
	}
	if verifier.Verify("order_abc", "pay_xyz", "") {
		t.Fatalf("expected blank signature to fail")
	}
	var nilVerifier *SignatureVerifier
	if nilVerifier.Verify("order_abc", "pay_xyz", "sig") {
		t.Fatalf("expected nil verifier to fail closed")
	}
}
