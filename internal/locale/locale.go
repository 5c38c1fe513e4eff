// Package locale resolves the language an email is written in.
package locale

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// ErrUnresolved is returned when no locale can be determined.
var ErrUnresolved = errors.New("locale: unresolved")

// Resolver determines the requester locale for the current operation.
type Resolver interface {
	Locale(ctx context.Context) (string, error)
}

type contextKey struct{}

// WithAcceptLanguage stores a raw Accept-Language header value in ctx.
func WithAcceptLanguage(ctx context.Context, header string) context.Context {
	return context.WithValue(ctx, contextKey{}, header)
}

func acceptLanguage(ctx context.Context) string {
	h, _ := ctx.Value(contextKey{}).(string)
	return h
}

// Static always resolves to the same locale.
type Static string

// Locale implements Resolver.
func (s Static) Locale(context.Context) (string, error) {
	if l := Normalize(string(s)); l != "" {
		return l, nil
	}
	return "", ErrUnresolved
}

// Matcher picks the best supported locale for the Accept-Language header
// carried in the context.
type Matcher struct {
	tags    []language.Tag
	matcher language.Matcher
}

// NewMatcher returns a Matcher over supported locales. The first locale is
// preferred when the header matches nothing.
func NewMatcher(supported []string) (*Matcher, error) {
	if len(supported) == 0 {
		return nil, errors.New("locale: no supported locales")
	}
	tags := make([]language.Tag, 0, len(supported))
	for _, s := range supported {
		tag, err := language.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("locale: parse %q: %w", s, err)
		}
		tags = append(tags, tag)
	}
	return &Matcher{tags: tags, matcher: language.NewMatcher(tags)}, nil
}

// Locale implements Resolver. It fails when the context carries no header.
func (m *Matcher) Locale(ctx context.Context) (string, error) {
	header := acceptLanguage(ctx)
	if header == "" {
		return "", ErrUnresolved
	}
	prefs, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(prefs) == 0 {
		return "", ErrUnresolved
	}
	_, idx, _ := m.matcher.Match(prefs...)
	return baseOf(m.tags[idx]), nil
}

// Normalize reduces a locale such as "cs-CZ" or "EN_us" to its two letter
// base language. It returns "" when s is not a valid language tag.
func Normalize(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "-")
	if s == "" {
		return ""
	}
	tag, err := language.Parse(s)
	if err != nil {
		return ""
	}
	return baseOf(tag)
}

func baseOf(tag language.Tag) string {
	base, _ := tag.Base()
	b := base.String()
	if len(b) != 2 {
		return ""
	}
	return b
}
