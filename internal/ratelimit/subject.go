package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// ClientSubject identifies the caller of r. The first entry of header wins
// when present (X-Forwarded-For style lists are split on commas); otherwise
// the host part of RemoteAddr is used.
func ClientSubject(r *http.Request, header string) string {
	if header = strings.TrimSpace(header); header != "" {
		if value := r.Header.Get(header); value != "" {
			first, _, _ := strings.Cut(value, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host = strings.TrimSpace(host); host == "" {
		return "anonymous"
	}
	return host
}
