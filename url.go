package netbatcher

import (
	"net/url"
	"strings"
)

// hostOf returns the lowercased host component of rawURL, or "" if rawURL
// has no host (the InvalidRequest case at enqueue time).
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
