package render

import "regexp"

// Placeholder patterns by template format. Go templates reference params as
// {{ .name }}; "twig" style {{ name }} is accepted for legacy sources.
var placeholderPatterns = map[string]*regexp.Regexp{
	"txt":    regexp.MustCompile(`{{-?\s*\.?([a-zA-Z0-9_]+)`),
	"md":     regexp.MustCompile(`{{-?\s*\.?([a-zA-Z0-9_]+)`),
	"gohtml": regexp.MustCompile(`{{-?\s*\.([a-zA-Z0-9_]+)`),
	"tmpl":   regexp.MustCompile(`{{-?\s*\.([a-zA-Z0-9_]+)`),
	"twig":   regexp.MustCompile(`{{\s*([a-zA-Z0-9_]+)`),
	"latte":  regexp.MustCompile(`{\$([a-zA-Z0-9_]+)`),
}

// Placeholders lists the parameter names referenced by content, in order of
// appearance. Unknown formats yield nothing.
func Placeholders(content, format string) []string {
	re, ok := placeholderPatterns[format]
	if !ok {
		return nil
	}
	var names []string
	for _, m := range re.FindAllStringSubmatch(content, -1) {
		names = append(names, m[1])
	}
	return names
}

// AllIncluded reports whether every name in params is referenced by content.
func AllIncluded(content, format string, params []string) bool {
	found := make(map[string]struct{})
	for _, n := range Placeholders(content, format) {
		found[n] = struct{}{}
	}
	for _, p := range params {
		if _, ok := found[p]; !ok {
			return false
		}
	}
	return true
}
