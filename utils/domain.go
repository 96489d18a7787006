package utils

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// NormalizeDomain reduces a URL or hostname to a canonical lower-case host:
// no scheme, no leading www., no port, path, query or fragment.
// Invalid input yields "".
func NormalizeDomain(input string) string {
	s := strings.ToLower(strings.TrimSpace(input))
	if s == "" {
		return ""
	}
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	s = stripPort(s)
	s = strings.TrimRight(s, ".")
	for strings.HasPrefix(s, "www.") {
		s = strings.TrimPrefix(s, "www.")
	}
	if s == "" || strings.ContainsAny(s, " \t\r\n\\") {
		return ""
	}
	return s
}

func stripPort(host string) string {
	if strings.HasPrefix(host, "[") {
		if h, _, err := net.SplitHostPort(host); err == nil {
			return h
		}
		return strings.Trim(host, "[]")
	}
	if strings.Count(host, ":") == 1 {
		if h, _, err := net.SplitHostPort(host); err == nil {
			return h
		}
	}
	return host
}

// RootDomain returns the registered domain (eTLD+1) for input, e.g.
// "https://shop.example.co.uk/a" -> "example.co.uk". IPs and localhost pass
// through; hosts the suffix list cannot reduce fall back to NormalizeDomain.
func RootDomain(input string) string {
	host := NormalizeDomain(input)
	if host == "" || host == "localhost" || net.ParseIP(host) != nil {
		return host
	}
	root, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return root
}

// URLPath returns the path of raw with a leading slash and no trailing slash
// (root stays "/"). Query and fragment are dropped.
func URLPath(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Path == "" {
		return "/"
	}
	p := strings.TrimRight(u.Path, "/")
	if p == "" {
		return "/"
	}
	return p
}

// LastPathSegment returns the last non-empty segment of raw's path, or "".
func LastPathSegment(raw string) string {
	p := URLPath(raw)
	segs := strings.Split(p, "/")
	for i := len(segs) - 1; i >= 0; i-- {
		if segs[i] != "" {
			return segs[i]
		}
	}
	return ""
}
