package render

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Template is a template source split into front matter and body.
type Template struct {
	Metadata map[string]any
	Body     string
}

var delimiter = []byte("---")

// ParseFrontmatter splits a leading "---" delimited YAML block from the body.
// Sources without one have empty metadata.
func ParseFrontmatter(content []byte) (*Template, error) {
	if !bytes.HasPrefix(content, delimiter) {
		return &Template{Metadata: map[string]any{}, Body: string(content)}, nil
	}

	rest := bytes.TrimLeft(bytes.TrimPrefix(content, delimiter), "\r\n")
	if len(rest) == 0 {
		return nil, fmt.Errorf("%w: no content after opening delimiter", ErrInvalidFrontmatter)
	}

	end := bytes.Index(rest, delimiter)
	if end == -1 {
		return nil, fmt.Errorf("%w: closing delimiter not found", ErrInvalidFrontmatter)
	}

	front := rest[:end]
	body := rest[end+len(delimiter):]
	body = bytes.TrimPrefix(body, []byte("\r"))
	body = bytes.TrimPrefix(body, []byte("\n"))

	meta := map[string]any{}
	if len(bytes.TrimSpace(front)) > 0 {
		if err := yaml.Unmarshal(front, &meta); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFrontmatter, err)
		}
	}
	return &Template{Metadata: meta, Body: string(body)}, nil
}
