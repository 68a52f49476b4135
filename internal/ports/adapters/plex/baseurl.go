package plex

import (
	"fmt"
	"net/url"
	"strings"
)

const defaultBaseURL = "http://localhost:32400"

func normalizeBaseURL(baseURL string) string {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return strings.TrimRight(baseURL, "/")
}

// ValidateBaseURL accepts an absolute http(s) server URL without userinfo,
// query or fragment. Plex servers usually run on the LAN, so plain http is
// allowed.
func ValidateBaseURL(baseURL string) error {
	baseURL = normalizeBaseURL(baseURL)

	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid plex.base_url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("invalid plex.base_url %q: absolute URL with host is required", baseURL)
	}
	if u.User != nil {
		return fmt.Errorf("invalid plex.base_url %q: userinfo is not allowed", baseURL)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("invalid plex.base_url %q: query and fragment are not allowed", baseURL)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("invalid plex.base_url %q: host is required", baseURL)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("invalid plex.base_url %q: http or https is required", baseURL)
	}
	return nil
}
