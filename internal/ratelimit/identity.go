package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// IdentityResolver derives a stable client identity from a request.
// When a trusted header is configured (e.g. X-Forwarded-For behind a proxy),
// its first value wins; otherwise the remote address host is used.
type IdentityResolver struct {
	header string
}

// NewIdentityResolver constructs a resolver. header may be empty.
func NewIdentityResolver(header string) *IdentityResolver {
	return &IdentityResolver{header: strings.TrimSpace(header)}
}

// Identify returns the attribution key for r.
func (res *IdentityResolver) Identify(r *http.Request) string {
	if res.header != "" {
		if v := strings.TrimSpace(r.Header.Get(res.header)); v != "" {
			// Proxies append hops comma-separated; the first is the client.
			if i := strings.IndexByte(v, ','); i >= 0 {
				v = v[:i]
			}
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
