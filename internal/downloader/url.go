package downloader

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL validates raw as an http(s) URL and rewrites alternate
// YouTube forms (youtu.be, shorts, live, music.youtube.com) to watch?v= URLs.
// Other hosts pass through unchanged.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", wrapCategory(CategoryInvalidURL, fmt.Errorf("please enter a URL"))
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", wrapCategory(CategoryInvalidURL, fmt.Errorf("invalid URL: %w", err))
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", wrapCategory(CategoryInvalidURL, fmt.Errorf("invalid URL: missing scheme or host"))
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return "", wrapCategory(CategoryInvalidURL, fmt.Errorf("unsupported URL scheme: %s", parsed.Scheme))
	}
	return normalizeYouTube(parsed), nil
}

// IsYouTubeURL reports whether raw points at a YouTube host.
func IsYouTubeURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch normalizeHostname(parsed) {
	case "youtube.com", "youtu.be", "music.youtube.com", "m.youtube.com":
		return true
	}
	return false
}

// normalizeHostname returns the lowercase hostname without "www." and port.
func normalizeHostname(parsed *url.URL) string {
	host := strings.ToLower(parsed.Hostname())
	return strings.TrimPrefix(host, "www.")
}

func normalizeYouTube(parsed *url.URL) string {
	host := normalizeHostname(parsed)
	query := parsed.Query()
	switch host {
	case "music.youtube.com", "m.youtube.com":
		parsed.Host = "www.youtube.com"
		query.Del("si")
		parsed.RawQuery = query.Encode()
		return parsed.String()
	case "youtu.be":
		id := strings.Trim(parsed.Path, "/")
		if id == "" {
			return parsed.String()
		}
		query.Del("si")
		query.Set("v", id)
		return (&url.URL{Scheme: "https", Host: "www.youtube.com", Path: "/watch", RawQuery: query.Encode()}).String()
	case "youtube.com":
		parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
		if len(parts) >= 2 && (parts[0] == "live" || parts[0] == "shorts") && parts[1] != "" {
			if query.Get("v") == "" {
				query.Set("v", parts[1])
			}
			parsed.Path = "/watch"
			parsed.RawQuery = query.Encode()
		}
	}
	return parsed.String()
}
