package helpers

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictOnce   sync.Once
	strictPolicy *bluemonday.Policy
)

func strict() *bluemonday.Policy {
	strictOnce.Do(func() { strictPolicy = bluemonday.StrictPolicy() })
	return strictPolicy
}

// PlainText strips every tag from a search title or snippet, drops script and
// style bodies, decodes entities and collapses whitespace. Search APIs return
// highlighted HTML that would otherwise end up in prompts and reports.
func PlainText(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	clean := html.UnescapeString(strict().Sanitize(s))
	return strings.Join(strings.Fields(clean), " ")
}
