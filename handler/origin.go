package handler

import (
	"net/http"
	"net/url"
	"strings"
)

// originChecker returns a WebSocket CheckOrigin that accepts requests with no
// Origin header (non-browser clients), same-host origins and the configured
// CORS origins. A "*" entry accepts every origin.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if set["*"] || set[strings.ToLower(origin)] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}
