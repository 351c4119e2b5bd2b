package auth

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	ClaimAdmin   = "admin"
	ClaimService = "service"
)

// ServiceClaims is the claim shape exchanged between the gateway and the
// trusted internal caller, in both directions.
type ServiceClaims struct {
	Admin     bool
	Service   string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (c ServiceClaims) toMap() map[string]any {
	claims := map[string]any{
		ClaimAdmin:   c.Admin,
		ClaimService: strings.TrimSpace(c.Service),
		"iat":        c.IssuedAt.Unix(),
		"exp":        c.ExpiresAt.Unix(),
	}
	if subject := strings.TrimSpace(c.Subject); subject != "" {
		claims["sub"] = subject
	}
	return claims
}

func claimsFromMap(raw map[string]any) (ServiceClaims, error) {
	out := ServiceClaims{}
	switch admin := raw[ClaimAdmin].(type) {
	case bool:
		out.Admin = admin
	case string:
		out.Admin = strings.EqualFold(strings.TrimSpace(admin), "true")
	}
	out.Service, _ = raw[ClaimService].(string)
	out.Subject, _ = raw["sub"].(string)

	exp, ok, err := parseUnixClaim(raw["exp"])
	if err != nil || !ok {
		return ServiceClaims{}, fmt.Errorf("invalid exp claim")
	}
	out.ExpiresAt = exp
	if iat, ok, err := parseUnixClaim(raw["iat"]); err == nil && ok {
		out.IssuedAt = iat
	}
	return out, nil
}

func parseUnixClaim(value any) (time.Time, bool, error) {
	switch typed := value.(type) {
	case nil:
		return time.Time{}, false, nil
	case float64:
		return time.Unix(int64(typed), 0).UTC(), true, nil
	case int64:
		return time.Unix(typed, 0).UTC(), true, nil
	case json.Number:
		parsed, err := typed.Int64()
		if err != nil {
			return time.Time{}, false, err
		}
		return time.Unix(parsed, 0).UTC(), true, nil
	default:
		return time.Time{}, false, fmt.Errorf("unsupported claim type %T", value)
	}
}

// MintServiceToken signs a short lived HS256 token carrying the admin flag
// and service name.
func MintServiceToken(secret string, service string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(service) == "" {
		return "", fmt.Errorf("auth: service name is required to mint a token")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	issued := now.UTC()
	claims := ServiceClaims{
		Admin:     true,
		Service:   service,
		Subject:   service,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(ttl),
	}
	return buildHS256JWT("", secret, claims.toMap())
}
