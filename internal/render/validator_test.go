package render

import (
	"reflect"
	"testing"
)

func TestPlaceholders(t *testing.T) {
	tests := []struct {
		format  string
		content string
		want    []string
	}{
		{"gohtml", "<p>{{ .name }} {{- .code }}</p>", []string{"name", "code"}},
		{"txt", "Hi {{ name }}, {{.code}}", []string{"name", "code"}},
		{"latte", "<p>{$name} {$total_price}</p>", []string{"name", "total_price"}},
		{"twig", "{{name}} {{ link }}", []string{"name", "link"}},
		{"pdf", "{{ .name }}", nil},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			got := Placeholders(tt.content, tt.format)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Placeholders = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAllIncluded(t *testing.T) {
	content := "<p>{{ .name }} {{ .link }}</p>"
	if !AllIncluded(content, "gohtml", []string{"name", "link"}) {
		t.Error("expected all params included")
	}
	if AllIncluded(content, "gohtml", []string{"name", "code"}) {
		t.Error("expected missing param to be detected")
	}
	if !AllIncluded(content, "gohtml", nil) {
		t.Error("no params are trivially included")
	}
}
