package store

import (
	"regexp"
	"strings"
)

// hyphenRunRe matches any whitespace-bounded run containing a hyphen.
var hyphenRunRe = regexp.MustCompile(`\S*-\S*`)

// SanitizeFTSQuery rewrites a user-supplied query so FTS5 treats hyphenated
// tokens (names like "alex-jones", dates like "2024-01-15") as literals
// rather than NOT-operator negations.
//
// Rule: if the query already contains an explicit FTS5 operator (AND, OR,
// NOT surrounded by spaces) or a double quote, it is assumed the caller
// wrote explicit syntax and is passed through unchanged. Otherwise every
// whitespace-bounded hyphen-containing run is wrapped in double quotes.
func SanitizeFTSQuery(query string) string {
	upper := strings.ToUpper(query)
	if strings.Contains(upper, " AND ") || strings.Contains(upper, " OR ") ||
		strings.Contains(upper, " NOT ") || strings.Contains(query, `"`) {
		return query
	}
	return hyphenRunRe.ReplaceAllStringFunc(query, func(tok string) string {
		return `"` + tok + `"`
	})
}
