package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// KeyFunc derives the client identifier for a request. An empty result
// means the client cannot be identified.
type KeyFunc func(r *http.Request) string

// DefaultKeyFunc keys on the first X-Forwarded-For entry when trustXFF is
// set, and on the remote host otherwise.
func DefaultKeyFunc(trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if trustXFF {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		addr := strings.TrimSpace(r.RemoteAddr)
		host, _, err := net.SplitHostPort(addr)
		if err == nil && host != "" {
			return host
		}
		return addr
	}
}
