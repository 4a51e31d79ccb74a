package utils

import (
	"net/url"
	"strings"
)

// NormalizeHost reduces a hostname, Origin/Referer value or URL to a bare
// lowercase hostname: scheme, userinfo, path, query, port and a trailing dot
// are removed. It returns "" when nothing host-like remains.
func NormalizeHost(raw string) string {
	h := strings.ToLower(strings.TrimSpace(raw))
	if h == "" || h == "null" {
		return ""
	}
	if strings.Contains(h, "://") {
		if u, err := url.Parse(h); err == nil && u.Host != "" {
			return strings.TrimSuffix(stripPort(u.Host), ".")
		}
		h = h[strings.Index(h, "://")+3:]
	}
	if i := strings.IndexAny(h, "/?#"); i != -1 {
		h = h[:i]
	}
	if i := strings.LastIndexByte(h, '@'); i != -1 {
		h = h[i+1:]
	}
	h = stripPort(h)
	h = strings.TrimSuffix(h, ".")
	return h
}

func stripPort(h string) string {
	if strings.HasPrefix(h, "[") {
		if i := strings.IndexByte(h, ']'); i != -1 {
			return h[:i+1]
		}
		return h
	}
	i := strings.LastIndexByte(h, ':')
	if i == -1 {
		return h
	}
	for _, r := range h[i+1:] {
		if r < '0' || r > '9' {
			return h
		}
	}
	return h[:i]
}

// LooksLikeHost reports whether ref carries hostname or URL syntax rather
// than being a bare slug or project name.
func LooksLikeHost(ref string) bool {
	return strings.Contains(ref, ".") || strings.Contains(ref, "://") || strings.Contains(ref, "/")
}
