package auth

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-ingress/core"
)

// unauthenticated builds the 401 returned for every credential failure. The
// reason is safe to show the caller; it never contains token material.
func unauthenticated(scheme string, reason string) error {
	return goerrors.New("authentication failed: "+reason, goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(core.ErrorUnauthenticated).
		WithMetadata(map[string]any{
			"scheme": scheme,
			"reason": reason,
		})
}
