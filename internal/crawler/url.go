package crawler

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, sorts query
// parameters and drops the fragment.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	normalize(u)
	return u.String(), nil
}

func normalize(u *url.URL) {
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = u.Query().Encode()
}

// SegmentShape describes which listing paths count as catalog segments:
// Prefix, exactly Depth path components, and a numeric last component.
type SegmentShape struct {
	Prefix string
	Depth  int
}

// Matches reports whether path has the segment shape.
func (s SegmentShape) Matches(path string) bool {
	if s.Prefix != "" && !strings.HasPrefix(path, s.Prefix) {
		return false
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != s.Depth {
		return false
	}
	return isDigits(parts[len(parts)-1])
}

// CanonicalSegment resolves href against base and returns the canonical
// segment form: same host as base, no query or fragment, trailing slash.
func CanonicalSegment(href string, base *url.URL, shape SegmentShape) (Segment, bool) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}
	u := base.ResolveReference(ref)
	normalize(u)
	if !strings.EqualFold(u.Hostname(), base.Hostname()) {
		return "", false
	}
	if !shape.Matches(u.Path) {
		return "", false
	}
	u.RawQuery = ""
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.RawPath = ""
	return Segment(u.String()), true
}

// PageURL returns the URL of page number page within seg.
func PageURL(seg Segment, param string, page int) (string, error) {
	u, err := url.Parse(string(seg))
	if err != nil {
		return "", fmt.Errorf("parse segment %q: %w", seg, err)
	}
	q := u.Query()
	q.Set(param, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
