package middleware

import (
	"net/http"
	"net/netip"
	"strings"
)

// UnknownClient is the key used when no client address can be derived.
const UnknownClient = "unknown"

// KeyExtractor derives the rate-limit key of a request.
type KeyExtractor interface {
	ClientKey(r *http.Request) string
}

// KeyExtractorFunc adapts a function to KeyExtractor.
type KeyExtractorFunc func(r *http.Request) string

func (f KeyExtractorFunc) ClientKey(r *http.Request) string { return f(r) }

// HeaderKey reads the client address from a proxy header such as
// X-Forwarded-For. Only the first comma-separated token is considered; it
// must parse as an IP address or the key falls back to UnknownClient.
type HeaderKey struct {
	Header string
}

func (h HeaderKey) ClientKey(r *http.Request) string {
	raw := r.Header.Get(h.Header)
	if raw == "" {
		return UnknownClient
	}

	first, _, _ := strings.Cut(raw, ",")
	addr, err := netip.ParseAddr(strings.TrimSpace(first))
	if err != nil {
		return UnknownClient
	}
	return addr.String()
}
