// Package clientip identifies the client behind a request for logging and rate limiting.
package clientip

import (
	"net"
	"net/http"
	"strings"
)

// FromRequest returns the right-most X-Forwarded-For hop, which Cloud Run's front
// end appends with the address it accepted the connection from. Earlier hops come
// from the client and are ignored. Without the header it returns the RemoteAddr host.
func FromRequest(r *http.Request) string {
	values := r.Header.Values("X-Forwarded-For")
	for i := len(values) - 1; i >= 0; i-- {
		hops := strings.Split(values[i], ",")
		for j := len(hops) - 1; j >= 0; j-- {
			if hop := strings.TrimSpace(hops[j]); hop != "" {
				return hop
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
