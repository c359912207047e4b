// Package detect flags installable application packages by file name.
package detect

import "strings"

type Matcher struct {
	extensions []string
}

// NewMatcher expects normalized extensions: lower-case with a leading dot.
func NewMatcher(extensions []string) *Matcher {
	return &Matcher{extensions: append([]string(nil), extensions...)}
}

// Match reports whether the name ends with, or anywhere contains, one of the extensions.
// The substring check catches disguised names like "game.apk.zip".
func (m *Matcher) Match(fileName string) bool {
	if fileName == "" {
		return false
	}
	lower := strings.ToLower(fileName)
	for _, ext := range m.extensions {
		if strings.HasSuffix(lower, ext) || strings.Contains(lower, ext) {
			return true
		}
	}
	return false
}

func (m *Matcher) Extensions() []string {
	return append([]string(nil), m.extensions...)
}
