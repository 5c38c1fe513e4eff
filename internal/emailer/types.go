package emailer

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/sungwon/emailer/internal/locale"
	"github.com/sungwon/emailer/internal/storage"
)

// ErrUnknownType is returned for an email type that is not registered.
var ErrUnknownType = errors.New("emailer: unknown email type")

// EmailType describes a kind of email the application sends, such as a
// password reset or an order confirmation.
type EmailType interface {
	Name() string
	Description() string
	// Template returns the template path for locale, if one exists.
	Template(locale string) (string, bool)
	// Parameters returns the default template parameters.
	Parameters() map[string]any
	// Message returns the base payload the rendered body is placed in.
	Message() storage.Payload
}

// TemplateType is an EmailType backed by per-locale template files.
type TemplateType struct {
	TypeName  string
	Desc      string
	Templates map[string]string
	Params    map[string]any
	Base      storage.Payload
}

func (t *TemplateType) Name() string        { return t.TypeName }
func (t *TemplateType) Description() string { return t.Desc }

func (t *TemplateType) Template(locale string) (string, bool) {
	p, ok := t.Templates[locale]
	return p, ok
}

func (t *TemplateType) Parameters() map[string]any {
	return maps.Clone(t.Params)
}

func (t *TemplateType) Message() storage.Payload {
	return t.Base
}

// Registry holds the known email types by name.
type Registry struct {
	mu    sync.RWMutex
	types map[string]EmailType
}

func NewRegistry(types ...EmailType) *Registry {
	r := &Registry{types: make(map[string]EmailType)}
	for _, t := range types {
		r.Register(t)
	}
	return r
}

func (r *Registry) Register(t EmailType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[t.Name()] = t
}

func (r *Registry) Get(name string) (EmailType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	return t, nil
}

// Names returns the registered type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.types))
}

// DiscoverTypes registers a TemplateType for every template in fsys named
// "<type>.<locale>.<ext>", e.g. "welcome.en.md". Files without a locale
// part are ignored.
func DiscoverTypes(fsys fs.FS, params map[string]any) ([]EmailType, error) {
	found := make(map[string]*TemplateType)
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		base := path.Base(p)
		parts := strings.Split(base, ".")
		if len(parts) != 3 {
			return nil
		}
		name, loc := parts[0], locale.Normalize(parts[1])
		if name == "" || loc == "" {
			return nil
		}
		t, ok := found[name]
		if !ok {
			t = &TemplateType{TypeName: name, Templates: map[string]string{}, Params: params}
			found[name] = t
		}
		t.Templates[loc] = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover email types: %w", err)
	}

	out := make([]EmailType, 0, len(found))
	for _, name := range slices.Sorted(maps.Keys(found)) {
		out = append(out, found[name])
	}
	return out, nil
}
