package auth

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-ingress/core"
)

// DualVerifier accepts either credential. A bearer token, when present, is
// the only credential considered: a failed token never falls back to the
// body signature.
type DualVerifier struct {
	Bearer    BearerVerifier
	Signature SignatureVerifier
}

// NewDualVerifier builds the verifier from the auth section of the config.
func NewDualVerifier(cfg core.AuthConfig) DualVerifier {
	return DualVerifier{
		Bearer: BearerVerifier{
			Secret:      strings.TrimSpace(cfg.JWTSecret),
			ServiceName: strings.TrimSpace(cfg.ServiceName),
			ClockSkew:   cfg.ClockSkew,
		},
		Signature: SignatureVerifier{
			Header:   strings.TrimSpace(cfg.SignatureHeader),
			Secret:   strings.TrimSpace(cfg.HMACSecret),
			Encoding: EncodingHex,
		},
	}
}

// WithClock returns a copy using now for token expiry checks.
func (v DualVerifier) WithClock(now func() time.Time) DualVerifier {
	v.Bearer.Now = now
	return v
}

func (v DualVerifier) Verify(ctx context.Context, req core.InboundRequest) (core.Principal, error) {
	if token, ok := BearerToken(req.Header("Authorization")); ok {
		if token == "" {
			return core.Principal{}, unauthenticated(core.AuthSchemeBearer, "empty bearer token")
		}
		return v.Bearer.VerifyToken(token)
	}
	if req.Header(v.Signature.HeaderName()) != "" {
		return v.Signature.Verify(ctx, req)
	}
	return core.Principal{}, unauthenticated("none", "missing credentials")
}

var _ core.Verifier = DualVerifier{}
