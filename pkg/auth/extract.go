package auth

import (
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// ExtractToken returns the credential carried by r, or "" when none is
// present. Sources are tried in order: Authorization bearer header,
// X-API-Key header, token query parameter. A source whose value is blank
// after trimming is skipped.
func ExtractToken(r *http.Request) string {
	if r == nil {
		return ""
	}

	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		if tok := strings.TrimSpace(h[len(bearerPrefix):]); tok != "" {
			return tok
		}
	}

	if tok := strings.TrimSpace(r.Header.Get("X-API-Key")); tok != "" {
		return tok
	}

	if r.URL != nil {
		// Query() drops malformed pairs instead of failing.
		if tok := strings.TrimSpace(r.URL.Query().Get("token")); tok != "" {
			return tok
		}
	}

	return ""
}

// WellFormed reports whether tok only uses [A-Za-z0-9_.-].
func WellFormed(tok string) bool {
	if tok == "" {
		return false
	}
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '_', c == '.', c == '-':
		default:
			return false
		}
	}
	return true
}
