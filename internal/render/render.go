// Package render turns email templates into HTML and plain text bodies.
package render

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

var (
	// ErrNoRenderer means no registered renderer accepts the template format.
	ErrNoRenderer = errors.New("render: no compatible renderer")
	// ErrTemplateNotFound means the template file could not be read.
	ErrTemplateNotFound = errors.New("render: template not found")
	// ErrRenderFailed wraps failures of a selected renderer.
	ErrRenderFailed = errors.New("render: failed to render template")
	// ErrInvalidFrontmatter means the YAML front matter could not be parsed.
	ErrInvalidFrontmatter = errors.New("render: invalid frontmatter")
)

// Result is a rendered template.
type Result struct {
	HTML     string
	Text     string
	Metadata map[string]any
}

// Subject returns the "subject" front matter value, if any.
func (r *Result) Subject() string {
	s, _ := r.Metadata["subject"].(string)
	return s
}

// Renderer renders template source with params.
type Renderer interface {
	Render(name string, source []byte, params map[string]any) (*Result, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(name string, source []byte, params map[string]any) (*Result, error)

// Render implements Renderer.
func (f RendererFunc) Render(name string, source []byte, params map[string]any) (*Result, error) {
	return f(name, source, params)
}

// Predicate decides whether a renderer handles a template format.
type Predicate func(format string) bool

// Formats returns a Predicate accepting any of the given formats.
func Formats(formats ...string) Predicate {
	return func(format string) bool {
		for _, f := range formats {
			if f == format {
				return true
			}
		}
		return false
	}
}

type entry struct {
	name     string
	accepts  Predicate
	renderer Renderer
}

// Chain dispatches templates to the first registered renderer whose
// predicate accepts the template format.
type Chain struct {
	fsys    fs.FS
	entries []entry
}

// NewChain returns an empty Chain reading templates from fsys.
func NewChain(fsys fs.FS) *Chain {
	return &Chain{fsys: fsys}
}

// NewDefaultChain returns a Chain with the built-in renderers registered in
// order: txt, html, gohtml/tmpl, md.
func NewDefaultChain(fsys fs.FS) *Chain {
	return NewChain(fsys).
		Register("text", Formats("txt"), Text{}).
		Register("html", Formats("html", "htm"), HTML{}).
		Register("gohtml", Formats("gohtml", "tmpl"), GoHTML{}).
		Register("markdown", Formats("md", "markdown"), NewMarkdown())
}

// Register appends a renderer. Earlier registrations win.
func (c *Chain) Register(name string, accepts Predicate, r Renderer) *Chain {
	c.entries = append(c.entries, entry{name: name, accepts: accepts, renderer: r})
	return c
}

// Format returns the lowercased extension of a template path without the dot.
func Format(templatePath string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(templatePath), "."))
}

// Exists reports whether the template file can be opened.
func (c *Chain) Exists(templatePath string) bool {
	_, err := fs.Stat(c.fsys, templatePath)
	return err == nil
}

// Render reads templatePath and renders it with params. The params map gets
// a "templatePath" entry unless the caller already set one.
func (c *Chain) Render(templatePath string, params map[string]any) (*Result, error) {
	format := Format(templatePath)

	var selected *entry
	for i := range c.entries {
		if c.entries[i].accepts(format) {
			selected = &c.entries[i]
			break
		}
	}
	if selected == nil {
		names := make([]string, 0, len(c.entries))
		for _, e := range c.entries {
			names = append(names, e.name)
		}
		return nil, fmt.Errorf("%w: format %q (registered: %s)", ErrNoRenderer, format, strings.Join(names, ", "))
	}

	source, err := fs.ReadFile(c.fsys, templatePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTemplateNotFound, templatePath, err)
	}

	merged := make(map[string]any, len(params)+1)
	merged["templatePath"] = templatePath
	for k, v := range params {
		merged[k] = v
	}

	res, err := selected.renderer.Render(templatePath, source, merged)
	if err != nil {
		if errors.Is(err, ErrRenderFailed) || errors.Is(err, ErrInvalidFrontmatter) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrRenderFailed, templatePath, err)
	}
	return res, nil
}
