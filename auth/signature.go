package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/goliatone/go-ingress/core"
)

const (
	EncodingHex    = "hex"
	EncodingBase64 = "base64"

	DefaultSignatureHeader = "X-Webhook-Signature"
	SignaturePrefix        = "sha256="
)

// SignatureVerifier checks an HMAC-SHA256 digest of the exact raw body
// carried in Header. An optional Prefix (for example "sha256=") is stripped.
type SignatureVerifier struct {
	Header   string
	Prefix   string
	Secret   string
	Encoding string
}

func (v SignatureVerifier) HeaderName() string {
	if header := strings.TrimSpace(v.Header); header != "" {
		return header
	}
	return DefaultSignatureHeader
}

func (v SignatureVerifier) Verify(_ context.Context, req core.InboundRequest) (core.Principal, error) {
	header := req.Header(v.HeaderName())
	if header == "" {
		return core.Principal{}, unauthenticated(core.AuthSchemeSignature, "missing signature header")
	}
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return core.Principal{}, unauthenticated(core.AuthSchemeSignature, "signature authentication is not configured")
	}
	signature := header
	if prefix := strings.TrimSpace(v.Prefix); prefix != "" {
		signature = strings.TrimPrefix(signature, prefix)
	} else if len(signature) > len(SignaturePrefix) && strings.EqualFold(signature[:len(SignaturePrefix)], SignaturePrefix) {
		signature = signature[len(SignaturePrefix):]
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return core.Principal{}, unauthenticated(core.AuthSchemeSignature, "empty signature")
	}

	expected := computeHMAC(secret, req.Body)
	var decoded []byte
	var err error
	switch strings.ToLower(strings.TrimSpace(v.Encoding)) {
	case EncodingBase64:
		decoded, err = base64.StdEncoding.DecodeString(signature)
	default:
		decoded, err = hex.DecodeString(signature)
	}
	if err != nil {
		return core.Principal{}, unauthenticated(core.AuthSchemeSignature, "malformed signature")
	}
	if subtle.ConstantTimeCompare(decoded, expected) != 1 {
		return core.Principal{}, unauthenticated(core.AuthSchemeSignature, "signature mismatch")
	}
	return core.Principal{Scheme: core.AuthSchemeSignature}, nil
}

// SignBody returns the hex HMAC-SHA256 of body, the value expected in the
// signature header.
func SignBody(secret string, body []byte) string {
	return hex.EncodeToString(computeHMAC(strings.TrimSpace(secret), body))
}

func computeHMAC(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

var _ core.Verifier = SignatureVerifier{}
