package helpers

import (
	"fmt"
	"net/url"
	"strings"
)

// Citation is one source referenced by a step result.
type Citation struct {
	Title string
	URL   string
}

// FormatCitation renders "[n] Title (domain) <url>". An empty title falls back
// to the domain.
func FormatCitation(n int, c Citation) string {
	domain := Domain(c.URL)
	title := strings.Join(strings.Fields(c.Title), " ")
	if title == "" {
		title = domain
	}
	parts := []string{fmt.Sprintf("[%d]", n)}
	if title != "" {
		parts = append(parts, title)
	}
	if domain != "" && domain != title {
		parts = append(parts, "("+domain+")")
	}
	if link := strings.TrimSpace(c.URL); link != "" {
		parts = append(parts, "<"+link+">")
	}
	return strings.Join(parts, " ")
}

// SourcesBlock renders a numbered "Sources:" block. Citations without a URL
// are skipped and the same page cited twice is listed once.
func SourcesBlock(citations []Citation) string {
	seen := make(map[string]bool, len(citations))
	var lines []string
	for _, c := range citations {
		key, err := CanonicalURL(c.URL)
		if err != nil || seen[key] {
			continue
		}
		seen[key] = true
		lines = append(lines, FormatCitation(len(lines)+1, c))
	}
	if len(lines) == 0 {
		return ""
	}
	return "Sources:\n" + strings.Join(lines, "\n")
}

// Domain returns the lowercased host without default ports.
func Domain(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimSuffix(host, ":80")
	return strings.TrimSuffix(host, ":443")
}
