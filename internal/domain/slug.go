package domain

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	slugStripRE    = regexp.MustCompile(`[^a-z0-9]+`)
	slugCollapseRE = regexp.MustCompile(`-{2,}`)
	lowerCaser     = cases.Lower(language.Und)
)

// Slugify derives a URL-safe slug from a product name: lower-cased (Unicode
// aware), non-alphanumerics collapsed to single hyphens, trimmed. An input
// with no usable characters yields "".
func Slugify(name string) string {
	s := lowerCaser.String(strings.TrimSpace(name))
	s = slugStripRE.ReplaceAllString(s, "-")
	s = slugCollapseRE.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// RouteFor returns the canonical route path for a slug ("/product/<slug>").
func RouteFor(slug string) string {
	if slug == "" {
		return ""
	}
	return "/product/" + slug
}

// NormalizeRoute strips an optional leading separator so lookups accept a
// route with or without it.
func NormalizeRoute(route string) string {
	return strings.TrimPrefix(strings.TrimSpace(route), "/")
}
