package core

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

type CallbackURLResolverFunc func(ctx context.Context, req CallbackURLResolveRequest) (string, error)

func (fn CallbackURLResolverFunc) ResolveCallbackURL(ctx context.Context, req CallbackURLResolveRequest) (string, error) {
	if fn == nil {
		return "", nil
	}
	resolved, err := fn(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resolved), nil
}

// BaseURLCallbackResolver joins the externally reachable base URL with the
// callback path and tags the URL with the message and thread ids.
type BaseURLCallbackResolver struct {
	BaseURL string
	Path    string
}

func (r BaseURLCallbackResolver) ResolveCallbackURL(_ context.Context, req CallbackURLResolveRequest) (string, error) {
	base := strings.TrimSpace(r.BaseURL)
	if base == "" {
		return "", fmt.Errorf("core: callback base url is not configured")
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("core: parse callback base url: %w", err)
	}
	path := strings.TrimSpace(r.Path)
	if path != "" {
		parsed.Path = strings.TrimSuffix(parsed.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	}
	query := parsed.Query()
	if id := strings.TrimSpace(req.MessageID); id != "" {
		query.Set("message_id", id)
	}
	if id := strings.TrimSpace(req.ThreadID); id != "" {
		query.Set("thread_id", id)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

var (
	_ CallbackURLResolver = CallbackURLResolverFunc(nil)
	_ CallbackURLResolver = BaseURLCallbackResolver{}
)
