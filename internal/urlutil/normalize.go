package urlutil

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrNotAbsolute is returned for URLs without an http or https scheme.
	ErrNotAbsolute = errors.New("url must be an absolute http or https url")
	// ErrNoHost is returned for URLs without a host.
	ErrNoHost = errors.New("url must include a host")
)

// Normalize validates a raw URL and returns the form it is stored and probed in.
// The normalization rules are:
// 1. Surrounding whitespace is trimmed.
// 2. Scheme and host are lowercased.
// 3. Default ports (80 for http, 443 for https) are stripped.
// 4. The URL fragment (#...) is removed; it is never sent to the server.
// The path is kept as given, since probes do not follow redirects.
// Returns an error if the URL is not a valid absolute HTTP/HTTPS URL.
func Normalize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("failed to parse url: %w", err)
	}

	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return "", ErrNotAbsolute
	}
	if u.Hostname() == "" {
		return "", ErrNoHost
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if port := u.Port(); (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		u.Host = strings.TrimSuffix(u.Host, ":"+port)
	}

	u.Fragment = ""
	u.RawFragment = ""

	return u.String(), nil
}
