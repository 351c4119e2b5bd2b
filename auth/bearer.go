package auth

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-ingress/core"
)

const bearerPrefix = "bearer "

// BearerVerifier accepts HS256 tokens asserting admin=true and the exact
// configured service name.
type BearerVerifier struct {
	Secret      string
	ServiceName string
	ClockSkew   time.Duration
	Now         func() time.Time
}

// BearerToken extracts the token from an Authorization header value. The
// second return is false when the header does not carry a bearer credential.
func BearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(bearerPrefix):]), true
}

func (v BearerVerifier) Verify(_ context.Context, req core.InboundRequest) (core.Principal, error) {
	token, ok := BearerToken(req.Header("Authorization"))
	if !ok || token == "" {
		return core.Principal{}, unauthenticated(core.AuthSchemeBearer, "missing bearer token")
	}
	return v.VerifyToken(token)
}

func (v BearerVerifier) VerifyToken(token string) (core.Principal, error) {
	if strings.TrimSpace(v.Secret) == "" {
		return core.Principal{}, unauthenticated(core.AuthSchemeBearer, "bearer authentication is not configured")
	}
	raw, err := parseHS256JWT(token, v.Secret)
	if err != nil {
		return core.Principal{}, unauthenticated(core.AuthSchemeBearer, err.Error())
	}
	claims, err := claimsFromMap(raw)
	if err != nil {
		return core.Principal{}, unauthenticated(core.AuthSchemeBearer, err.Error())
	}

	now := v.now()
	if !now.Before(claims.ExpiresAt.Add(v.ClockSkew)) {
		return core.Principal{}, unauthenticated(core.AuthSchemeBearer, "token expired")
	}
	if !claims.IssuedAt.IsZero() && claims.IssuedAt.After(now.Add(v.ClockSkew)) {
		return core.Principal{}, unauthenticated(core.AuthSchemeBearer, "token issued in the future")
	}
	if !claims.Admin {
		return core.Principal{}, unauthenticated(core.AuthSchemeBearer, "admin claim required")
	}
	expected := strings.TrimSpace(v.ServiceName)
	if expected == "" || claims.Service != expected {
		return core.Principal{}, unauthenticated(core.AuthSchemeBearer, "service claim mismatch")
	}

	return core.Principal{
		Scheme:  core.AuthSchemeBearer,
		Subject: strings.TrimSpace(claims.Subject),
		Service: claims.Service,
	}, nil
}

func (v BearerVerifier) now() time.Time {
	if v.Now != nil {
		return v.Now().UTC()
	}
	return time.Now().UTC()
}

var _ core.Verifier = BearerVerifier{}
