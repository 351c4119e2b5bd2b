package core

import "strings"

const RedactedValue = "[REDACTED]"

// RedactSensitiveMap copies metadata replacing values whose key looks like a
// credential. Nested maps and slices are walked.
func RedactSensitiveMap(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return map[string]any{}
	}
	return redactSensitiveMap(metadata)
}

// RedactHeaders copies inbound headers with credential headers masked.
func RedactHeaders(headers map[string]string, extra ...string) map[string]string {
	out := make(map[string]string, len(headers))
	for key, value := range headers {
		if shouldRedactKey(key) || matchesAny(key, extra) {
			out[key] = RedactedValue
			continue
		}
		out[key] = value
	}
	return out
}

// TokenFingerprint returns a short, log safe prefix of a credential.
func TokenFingerprint(token string) string {
	token = strings.TrimSpace(token)
	if len(token) <= 8 {
		return RedactedValue
	}
	return token[:6] + "..."
}

func redactSensitiveMap(source map[string]any) map[string]any {
	target := make(map[string]any, len(source))
	for key, value := range source {
		if shouldRedactKey(key) {
			target[key] = RedactedValue
			continue
		}
		target[key] = redactSensitiveValue(value)
	}
	return target
}

func redactSensitiveValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return redactSensitiveMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = redactSensitiveValue(typed[i])
		}
		return out
	default:
		return value
	}
}

func shouldRedactKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || isTraceabilityKey(key) {
		return false
	}
	for _, token := range []string{
		"password",
		"secret",
		"token",
		"authorization",
		"api_key",
		"apikey",
		"cookie",
		"credential",
		"signature",
	} {
		if strings.Contains(key, token) {
			return true
		}
	}
	return false
}

func matchesAny(key string, candidates []string) bool {
	for _, candidate := range candidates {
		if strings.EqualFold(strings.TrimSpace(candidate), strings.TrimSpace(key)) {
			return true
		}
	}
	return false
}

func isTraceabilityKey(key string) bool {
	switch key {
	case "thread_id",
		"client_msg_id",
		"message_id",
		"owner_id",
		"event_type",
		"request_id",
		"trace_id":
		return true
	default:
		return false
	}
}
