package pagecache

import (
	"strings"

	"webability/analytics/utils"
)

// Key carries the lookup forms derived once from the requested url.
type Key struct {
	URL         string
	Trimmed     string
	URLHash     string
	Domain      string
	Path        string
	LastSegment string
}

// NewKey derives the lookup forms for rawURL and an optional precomputed hash.
func NewKey(rawURL, urlHash string) Key {
	trimmed := strings.TrimSpace(rawURL)
	return Key{
		URL:         rawURL,
		Trimmed:     trimmed,
		URLHash:     strings.TrimSpace(urlHash),
		Domain:      utils.NormalizeDomain(trimmed),
		Path:        utils.URLPath(trimmed),
		LastSegment: utils.LastPathSegment(trimmed),
	}
}

// Strategy builds one WHERE clause against page_cache. ok is false when the
// key lacks what the strategy needs.
type Strategy struct {
	Name  string
	Build func(k Key) (where string, args []any, ok bool)
}

// DefaultStrategies are tried in order until a row decodes to valid gzip.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "exact_url", Build: exactURL},
		{Name: "slash_toggle", Build: slashToggle},
		{Name: "url_hash", Build: urlHash},
		{Name: "domain_path", Build: domainPath},
		{Name: "url_contains", Build: urlContains},
		{Name: "last_segment", Build: lastSegment},
		{Name: "trimmed_url", Build: trimmedURL},
	}
}

func exactURL(k Key) (string, []any, bool) {
	if k.URL == "" {
		return "", nil, false
	}
	return "url = ?", []any{k.URL}, true
}

func slashToggle(k Key) (string, []any, bool) {
	toggled := toggleSlash(k.Trimmed)
	if toggled == "" {
		return "", nil, false
	}
	return "url = ?", []any{toggled}, true
}

func toggleSlash(u string) string {
	if strings.HasSuffix(u, "/") {
		return strings.TrimRight(u, "/")
	}
	if u == "" {
		return ""
	}
	return u + "/"
}

func urlHash(k Key) (string, []any, bool) {
	if k.URLHash == "" {
		return "", nil, false
	}
	return "url_hash = ?", []any{k.URLHash}, true
}

func domainPath(k Key) (string, []any, bool) {
	if k.Domain == "" {
		return "", nil, false
	}
	domains := "(domain = ? OR domain = ?)"
	if k.Path == "/" {
		d := escapeLike(k.Domain)
		return domains + ` AND (url LIKE ? ESCAPE '\' OR url LIKE ? ESCAPE '\')`,
			[]any{k.Domain, "www." + k.Domain, "%" + d, "%" + d + "/"}, true
	}
	return domains + ` AND url LIKE ? ESCAPE '\'`,
		[]any{k.Domain, "www." + k.Domain, "%" + escapeLike(k.Path) + "%"}, true
}

func urlContains(k Key) (string, []any, bool) {
	if k.Domain == "" {
		return "", nil, false
	}
	pattern := "%" + escapeLike(k.Domain) + "%"
	if k.Path != "/" {
		pattern += escapeLike(k.Path) + "%"
	}
	return `url LIKE ? ESCAPE '\'`, []any{pattern}, true
}

func lastSegment(k Key) (string, []any, bool) {
	if k.LastSegment == "" {
		return "", nil, false
	}
	return `url LIKE ? ESCAPE '\'`, []any{"%" + escapeLike(k.LastSegment) + "%"}, true
}

// trimmedURL only runs when trimming changed the url; otherwise it would
// repeat exact_url.
func trimmedURL(k Key) (string, []any, bool) {
	if k.Trimmed == "" || k.Trimmed == k.URL {
		return "", nil, false
	}
	return "url = ?", []any{k.Trimmed}, true
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
