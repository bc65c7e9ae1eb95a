package oauth

import (
	"net/http"
	"strings"
)

// BaseURL returns the scheme and host the client used to reach this server.
// X-Forwarded-Host and X-Forwarded-Proto are honoured when trustProxy is set;
// otherwise the Host header and TLS state decide. fallback is returned when
// the request carries no host at all.
func BaseURL(r *http.Request, trustProxy bool, fallback string) string {
	if trustProxy {
		if host := firstHeaderValue(r.Header.Get("X-Forwarded-Host")); host != "" {
			scheme := firstHeaderValue(r.Header.Get("X-Forwarded-Proto"))
			if scheme == "" {
				scheme = "https"
			}
			return scheme + "://" + host
		}
	}
	if r.Host != "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		return scheme + "://" + r.Host
	}
	return strings.TrimRight(fallback, "/")
}

// firstHeaderValue returns the left-most entry of a comma-separated proxy header.
func firstHeaderValue(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}
