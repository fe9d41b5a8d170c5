package chainstore

import (
	"net"
	"net/http"
)

// KeyFunc derives a store key from a request. The store treats the
// result as an opaque string.
type KeyFunc func(*http.Request) string

// ClientKey returns the client's network address (without port), the
// default identity for rate limiting. It falls back to "unknown" when
// no address is available so the limiter stays total over requests.
func ClientKey(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RequestKey returns "METHOD:PATH", with the raw query appended when
// present, the default cache key.
func RequestKey(r *http.Request) string {
	key := r.Method + ":" + r.URL.Path
	if r.URL.RawQuery != "" {
		key += "?" + r.URL.RawQuery
	}
	return key
}
