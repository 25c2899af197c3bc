// Package crawl implements the priority-queued, deduplicated crawl engine.
package crawl

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ErrInvalidURL is returned for URLs that cannot be canonicalized. Callers
// skip the URL without aborting the crawl.
var ErrInvalidURL = errors.New("invalid url")

// Query parameters that never change page identity.
var droppedParams = map[string]bool{
	"gclid":      true,
	"fbclid":     true,
	"msclkid":    true,
	"ref":        true,
	"sessionid":  true,
	"sid":        true,
	"mc_cid":     true,
	"mc_eid":     true,
	"igshid":     true,
	"srsltid":    true,
	"variant":    false, // product variants are distinct pages
	"_gl":        true,
	"gad_source": true,
}

// NormalizeURL canonicalizes rawURL, resolving it against base when relative.
// Two URLs are duplicates iff their normalized forms match. The function is
// idempotent: normalize(normalize(u)) == normalize(u).
func NormalizeURL(rawURL string, base *url.URL) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("empty url: %w", ErrInvalidURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", rawURL, ErrInvalidURL)
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q: %w", u.Scheme, ErrInvalidURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in %q: %w", rawURL, ErrInvalidURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.User = nil

	// Trailing slash carries no meaning outside the root path.
	if u.Path != "/" && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	if u.Path == "" {
		u.Path = "/"
	}

	u.RawQuery = normalizeQuery(u.Query())
	return u.String(), nil
}

func normalizeQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		if droppedParams[strings.ToLower(k)] || strings.HasPrefix(strings.ToLower(k), "utm_") {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		vals := q[k]
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// SameHost reports whether normalized URL u belongs to the host of root,
// treating "www." as equivalent to the bare domain.
func SameHost(u, root *url.URL) bool {
	return stripWWW(u.Host) == stripWWW(root.Host)
}

func stripWWW(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}
