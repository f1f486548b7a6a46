package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// WebhookVerifier authenticates provider callbacks. The shared secret is
// always required; the body signature is checked only when a signing key
// is configured.
type WebhookVerifier struct {
	secret     []byte
	signingKey []byte
}

// NewWebhookVerifier creates a verifier. An empty signingKey disables body
// signature checks.
func NewWebhookVerifier(secret, signingKey string) *WebhookVerifier {
	return &WebhookVerifier{secret: []byte(secret), signingKey: []byte(signingKey)}
}

// Verify reports whether a request carrying the given secret header,
// signature header and body is authentic.
func (v *WebhookVerifier) Verify(secretHeader, signatureHeader string, body []byte) bool {
	if len(v.secret) == 0 {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(secretHeader), v.secret) != 1 {
		return false
	}
	if len(v.signingKey) == 0 {
		return true
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signatureHeader, "sha256="))
	if err != nil {
		return false
	}
	return hmac.Equal(got, v.mac(body))
}

// Sign returns the signature header value for body.
func (v *WebhookVerifier) Sign(body []byte) string {
	return "sha256=" + hex.EncodeToString(v.mac(body))
}

func (v *WebhookVerifier) mac(body []byte) []byte {
	m := hmac.New(sha256.New, v.signingKey)
	m.Write(body)
	return m.Sum(nil)
}
