package render

import (
	"bytes"
	"fmt"
	stdhtml "html"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Text renders plain text templates. The text body is the executed
// template; the HTML body is the same text escaped.
type Text struct{}

// Render implements Renderer.
func (Text) Render(name string, source []byte, params map[string]any) (*Result, error) {
	out, err := executeText(name, string(source), params)
	if err != nil {
		return nil, err
	}
	return &Result{
		HTML: htmltemplate.HTMLEscapeString(out),
		Text: out,
	}, nil
}

// HTML passes static HTML through unchanged.
type HTML struct{}

// Render implements Renderer.
func (HTML) Render(_ string, source []byte, _ map[string]any) (*Result, error) {
	return &Result{HTML: string(source)}, nil
}

// GoHTML executes html/template sources with contextual escaping.
type GoHTML struct{}

// Render implements Renderer.
func (GoHTML) Render(name string, source []byte, params map[string]any) (*Result, error) {
	tmpl, err := htmltemplate.New(name).Option("missingkey=zero").Parse(string(source))
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrRenderFailed, name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return nil, fmt.Errorf("%w: execute %s: %v", ErrRenderFailed, name, err)
	}
	return &Result{HTML: buf.String()}, nil
}

// Markdown renders markdown with optional YAML front matter. The body is
// executed as a text/template first, then converted to HTML.
type Markdown struct {
	md goldmark.Markdown
}

// NewMarkdown returns a Markdown renderer with GitHub flavoured extensions.
func NewMarkdown() *Markdown {
	return &Markdown{md: goldmark.New(goldmark.WithExtensions(extension.GFM))}
}

// Render implements Renderer.
func (m *Markdown) Render(name string, source []byte, params map[string]any) (*Result, error) {
	tpl, err := ParseFrontmatter(source)
	if err != nil {
		return nil, err
	}

	text, err := executeText(name, tpl.Body, params)
	if err != nil {
		return nil, err
	}

	var html bytes.Buffer
	if err := m.md.Convert([]byte(text), &html); err != nil {
		return nil, fmt.Errorf("%w: convert %s: %v", ErrRenderFailed, name, err)
	}

	meta := tpl.Metadata
	if subject, ok := meta["subject"].(string); ok && strings.Contains(subject, "{{") {
		rendered, err := executeText(name+":subject", subject, params)
		if err != nil {
			return nil, err
		}
		meta["subject"] = rendered
	}

	return &Result{HTML: html.String(), Text: text, Metadata: meta}, nil
}

func executeText(name, source string, params map[string]any) (string, error) {
	tmpl, err := texttemplate.New(name).Option("missingkey=zero").Parse(source)
	if err != nil {
		return "", fmt.Errorf("%w: parse %s: %v", ErrRenderFailed, name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("%w: execute %s: %v", ErrRenderFailed, name, err)
	}
	return buf.String(), nil
}

var textPolicy = bluemonday.StrictPolicy()

// PlainText strips all markup from an HTML body, for use as the text
// alternative when no text template exists.
func PlainText(body string) string {
	return strings.TrimSpace(stdhtml.UnescapeString(textPolicy.Sanitize(body)))
}
