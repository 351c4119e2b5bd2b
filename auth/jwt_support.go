package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const jwtAlgHS256 = "HS256"

func buildHS256JWT(keyID string, secret string, claims map[string]any) (string, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", fmt.Errorf("auth: jwt signing secret is required")
	}
	header := map[string]any{
		"alg": jwtAlgHS256,
		"typ": "JWT",
	}
	if strings.TrimSpace(keyID) != "" {
		header["kid"] = strings.TrimSpace(keyID)
	}

	headerRaw, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("auth: marshal jwt header: %w", err)
	}
	claimsRaw, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("auth: marshal jwt claims: %w", err)
	}

	headerToken := base64.RawURLEncoding.EncodeToString(headerRaw)
	claimsToken := base64.RawURLEncoding.EncodeToString(claimsRaw)
	signed := headerToken + "." + claimsToken
	return signed + "." + signHS256(secret, signed), nil
}

// parseHS256JWT checks the header algorithm and signature and returns the
// decoded claims. Claim semantics are left to the caller.
func parseHS256JWT(token string, secret string) (map[string]any, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("jwt verification secret is not configured")
	}
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid jwt format")
	}

	headerRaw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid jwt header")
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		return nil, fmt.Errorf("invalid jwt header")
	}
	if header.Alg != jwtAlgHS256 {
		return nil, fmt.Errorf("unsupported jwt algorithm")
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("invalid jwt signature")
	}
	expected, _ := base64.RawURLEncoding.DecodeString(signHS256(secret, parts[0]+"."+parts[1]))
	if !hmac.Equal(signature, expected) {
		return nil, fmt.Errorf("jwt signature mismatch")
	}

	payloadRaw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid jwt payload")
	}
	claims := map[string]any{}
	if err := json.Unmarshal(payloadRaw, &claims); err != nil {
		return nil, fmt.Errorf("invalid jwt payload")
	}
	return claims, nil
}

func signHS256(secret string, signed string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signed))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
