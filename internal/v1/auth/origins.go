package auth

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// CheckSameHost reports whether the request's Origin host matches its Host
// header host, compared without ports and case-insensitively. Requests with
// a missing or unparsable Origin or Host are rejected.
func CheckSameHost(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || r.Host == "" {
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Hostname() == "" {
		return false
	}

	return strings.EqualFold(parsed.Hostname(), hostWithoutPort(r.Host))
}

func hostWithoutPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
