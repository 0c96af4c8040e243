package realtime

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrInvalidOrigin = errors.New("invalid page origin")

// Endpoint locates a channel: the page origin decides the scheme and host,
// Path scopes the channel.
type Endpoint struct {
	Origin string
	Path   string
}

// URL builds the WebSocket URL with token as the "token" query parameter.
// An https origin maps to wss, anything else to ws.
func (e Endpoint) URL(token string) (string, error) {
	origin, err := url.Parse(e.Origin)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidOrigin, err)
	}
	if origin.Host == "" {
		return "", fmt.Errorf("%w: %q has no host", ErrInvalidOrigin, e.Origin)
	}

	scheme := "ws"
	switch strings.ToLower(origin.Scheme) {
	case "https", "wss":
		scheme = "wss"
	}

	path := e.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	u := url.URL{Scheme: scheme, Host: origin.Host, Path: path}
	if token != "" {
		u.RawQuery = url.Values{"token": {token}}.Encode()
	}
	return u.String(), nil
}

// redact hides the token query value of a channel URL for logging.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable>"
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
