package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/poiesic/tributary/core"
)

// signatureHeaders names the header each vendor puts its body signature in.
var signatureHeaders = map[core.Vendor]string{
	core.VendorAttio:   "Attio-Signature",
	core.VendorPostHog: "X-PostHog-Signature",
}

// DefaultSignatureHeader is used for vendors without a known header.
const DefaultSignatureHeader = "X-Webhook-Signature"

// SignatureHeader returns the header carrying vendor's signature.
func SignatureHeader(vendor core.Vendor) string {
	if h, ok := signatureHeaders[vendor]; ok {
		return h
	}
	return DefaultSignatureHeader
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a hex HMAC-SHA256 signature. An optional
// "sha256=" prefix is accepted.
func VerifySignature(secret, signature string, body []byte) error {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" {
		return ErrMissingSignature
	}
	expected := Sign(secret, body)
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return ErrSignatureMismatch
	}
	return nil
}
