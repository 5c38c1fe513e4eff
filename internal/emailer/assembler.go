package emailer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sungwon/emailer/internal/fixer"
	"github.com/sungwon/emailer/internal/locale"
	"github.com/sungwon/emailer/internal/render"
	"github.com/sungwon/emailer/internal/storage"
)

var (
	// ErrNoTemplate means the email type has no template for the locale.
	ErrNoTemplate = errors.New("emailer: email template does not exist")
	// ErrInvalidParam means a recognised parameter has the wrong type or value.
	ErrInvalidParam = errors.New("emailer: invalid parameter")
)

// TemplateRenderer renders a template file with params.
type TemplateRenderer interface {
	Render(templatePath string, params map[string]any) (*render.Result, error)
}

// Assembler turns an email type plus parameters into a rendered, addressed
// Request.
type Assembler struct {
	registry      *Registry
	renderer      TemplateRenderer
	fixer         fixer.Fixer
	locale        locale.Resolver
	defaultLocale string
	defaultFrom   string
}

func NewAssembler(reg *Registry, r TemplateRenderer, f fixer.Fixer, l locale.Resolver, defaultLocale, defaultFrom string) *Assembler {
	if f == nil {
		f = fixer.Nop{}
	}
	return &Assembler{
		registry:      reg,
		renderer:      r,
		fixer:         f,
		locale:        l,
		defaultLocale: locale.Normalize(defaultLocale),
		defaultFrom:   defaultFrom,
	}
}

// MergeParams copies right over left. A nil or false value in right only
// fills a key left does not have.
func MergeParams(left, right map[string]any) map[string]any {
	out := make(map[string]any, len(left)+len(right))
	for k, v := range left {
		out[k] = v
	}
	for k, v := range right {
		if v == nil || v == false {
			if _, ok := out[k]; !ok {
				out[k] = v
			}
			continue
		}
		out[k] = v
	}
	return out
}

// Assemble renders the email type typeName. With overwrite, call params
// take precedence over the type defaults; otherwise the defaults win.
func (a *Assembler) Assemble(ctx context.Context, typeName string, params map[string]any, overwrite bool) (*Request, error) {
	t, err := a.registry.Get(typeName)
	if err != nil {
		return nil, err
	}

	if overwrite {
		params = MergeParams(t.Parameters(), params)
	} else {
		params = MergeParams(params, t.Parameters())
	}

	loc := a.resolveLocale(ctx, params)
	templatePath, ok := t.Template(loc)
	if !ok {
		return nil, fmt.Errorf("%w: type %q, locale %q", ErrNoTemplate, typeName, loc)
	}

	rendered, err := a.renderer.Render(templatePath, params)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", templatePath, err)
	}

	payload := t.Message()
	payload.HTMLBody = rendered.HTML
	if rendered.Text != "" {
		payload.TextBody = rendered.Text
	}
	switch subject, _ := params["subject"].(string); {
	case subject != "":
		payload.Subject = subject
	case payload.Subject == "":
		payload.Subject = rendered.Subject()
	}

	if err := a.address(&payload, params); err != nil {
		return nil, err
	}

	req := &Request{Payload: payload, Locale: loc}
	if raw, ok := params["sendEarliestAt"]; ok && raw != nil {
		at, err := parseTime(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: sendEarliestAt: %v", ErrInvalidParam, err)
		}
		req.SendEarliestAt = at
	}
	if raw, ok := params["priority"]; ok && raw != nil {
		p, err := ParsePriority(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: priority: %v", ErrInvalidParam, err)
		}
		req.Priority = &p
	}
	return req, nil
}

func (a *Assembler) resolveLocale(ctx context.Context, params map[string]any) string {
	if s, ok := params["locale"].(string); ok {
		if l := locale.Normalize(s); l != "" {
			return l
		}
	}
	if a.locale != nil {
		if l, err := a.locale.Locale(ctx); err == nil {
			if l = locale.Normalize(l); l != "" {
				return l
			}
		}
	}
	return a.defaultLocale
}

func (a *Assembler) address(p *storage.Payload, params map[string]any) error {
	from := a.defaultFrom
	if raw, ok := params["from"]; ok && raw != nil {
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("%w: from must be a string, %T given", ErrInvalidParam, raw)
		}
		from = s
	}
	if from == "" {
		return fmt.Errorf("%w: from is not set and no default sender is configured", ErrInvalidParam)
	}
	fixed, err := fixer.FixMailbox(a.fixer, from)
	if err != nil {
		return fmt.Errorf("from: %w", err)
	}
	p.From = fixed

	if raw, ok := params["to"]; ok && raw != nil {
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("%w: to must be a string, %T given", ErrInvalidParam, raw)
		}
		to, err := fixer.FixMailbox(a.fixer, s)
		if err != nil {
			return fmt.Errorf("to: %w", err)
		}
		p.To = []string{to}
	}

	if raw, ok := params["cc"]; ok && raw != nil {
		var lists []string
		switch v := raw.(type) {
		case string:
			lists = []string{v}
		case []string:
			lists = v
		case []any:
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return fmt.Errorf("%w: cc entries must be strings, %T given", ErrInvalidParam, item)
				}
				lists = append(lists, s)
			}
		default:
			return fmt.Errorf("%w: cc must be a string or list, %T given", ErrInvalidParam, raw)
		}
		cc, err := a.fixList(strings.Join(lists, ";"))
		if err != nil {
			return fmt.Errorf("cc: %w", err)
		}
		p.Cc = cc
	}

	if raw, ok := params["bcc"]; ok && raw != nil {
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("%w: bcc must be a string, %T given", ErrInvalidParam, raw)
		}
		bcc, err := a.fixList(s)
		if err != nil {
			return fmt.Errorf("bcc: %w", err)
		}
		p.Bcc = bcc
	}
	return nil
}

// fixList splits a ';' separated list, skipping entries that are not
// addresses.
func (a *Assembler) fixList(list string) ([]string, error) {
	var out []string
	for _, addr := range strings.Split(list, ";") {
		addr = strings.TrimSpace(addr)
		if !fixer.IsEmail(fixer.Bare(addr)) {
			continue
		}
		fixed, err := fixer.FixMailbox(a.fixer, addr)
		if err != nil {
			return nil, err
		}
		out = append(out, fixed)
	}
	return out, nil
}

func parseTime(raw any) (*time.Time, error) {
	var t time.Time
	switch v := raw.(type) {
	case time.Time:
		t = v
	case *time.Time:
		if v == nil {
			return nil, nil
		}
		t = *v
	case string:
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, err
		}
		t = parsed
	case int:
		t = time.Unix(int64(v), 0)
	case int64:
		t = time.Unix(v, 0)
	case float64:
		t = time.Unix(int64(v), 0)
	default:
		return nil, fmt.Errorf("unsupported type %T", raw)
	}
	return &t, nil
}

// ParsePriority accepts a Priority, a number or a priority name such as
// "urgent". Numbers are clamped into range.
func ParsePriority(raw any) (storage.Priority, error) {
	switch v := raw.(type) {
	case storage.Priority:
		return storage.ClampPriority(v), nil
	case int:
		return storage.ClampPriority(storage.Priority(v)), nil
	case float64:
		return storage.ClampPriority(storage.Priority(int(v))), nil
	case string:
		for p := storage.PriorityUrgent; p <= storage.PriorityLow; p++ {
			if strings.EqualFold(v, p.String()) {
				return p, nil
			}
		}
		if n, err := strconv.Atoi(v); err == nil {
			return storage.ClampPriority(storage.Priority(n)), nil
		}
		return 0, fmt.Errorf("unknown priority %q", v)
	default:
		return 0, fmt.Errorf("unsupported type %T", raw)
	}
}
