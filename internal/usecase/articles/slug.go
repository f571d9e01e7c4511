package articles

import (
	"regexp"
	"strings"

	"github.com/mozillazg/go-unidecode"
)

const maxSlugLen = 60

var (
	nonWord    = regexp.MustCompile(`[^\w\s-]`)
	whitespace = regexp.MustCompile(`\s+`)
	dashes     = regexp.MustCompile(`-{2,}`)
)

// Slugify строит slug из заголовка: транслитерация, нижний регистр, дефисы вместо пробелов.
func Slugify(title string) string {
	s := strings.ToLower(unidecode.Unidecode(title))
	s = nonWord.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, "-")
	s = dashes.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "-")
	}
	return s
}
