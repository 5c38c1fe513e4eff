package emailer

import (
	"context"
	"fmt"
	"html"
	"os"
	"strings"

	"github.com/sungwon/emailer/internal/fixer"
	"github.com/sungwon/emailer/internal/storage"
)

// SendToAdministrators sends an urgent HTML alert to the configured
// administrators plus any extra addresses that are syntactically valid.
func (s *Service) SendToAdministrators(ctx context.Context, subject, msg string, extra []string) (storage.Email, error) {
	var to []string
	seen := make(map[string]bool)
	for _, addr := range append(append([]string(nil), s.cfg.AdminEmails...), extra...) {
		addr = strings.TrimSpace(addr)
		if !fixer.IsEmail(addr) {
			continue
		}
		fixed, err := s.fixer.Fix(addr)
		if err != nil {
			s.log.Warn().Err(err).Str("address", addr).Msg("skipping administrator address")
			continue
		}
		if !seen[fixed] {
			seen[fixed] = true
			to = append(to, fixed)
		}
	}
	if len(to) == 0 {
		return storage.Email{}, ErrNoRecipients
	}

	urgent := storage.PriorityUrgent
	return s.Send(ctx, Request{
		Priority: &urgent,
		Payload: storage.Payload{
			From:     s.cfg.DefaultFrom,
			To:       to,
			Subject:  subject,
			HTMLBody: s.alertBody(ctx, msg),
		},
	})
}

func (s *Service) alertBody(ctx context.Context, msg string) string {
	now := s.now()
	var b strings.Builder
	b.WriteString("<p>Hi there,</p>")
	fmt.Fprintf(&b, "<p><strong>The following alert was logged on %s at %s:</strong></p>",
		now.Format("2006-01-02"), now.Format("15:04:05"))
	fmt.Fprintf(&b, `<p><span style="color:#cc3333">%s</span></p>`, html.EscapeString(msg))

	switch url := requestURLFromContext(ctx); {
	case url != "":
		u := html.EscapeString(url)
		fmt.Fprintf(&b, `<p>URL: <a href="%s" target="_blank">%s</a></p>`, u, u)
	case len(os.Args) > 0:
		fmt.Fprintf(&b, "<p>CRON - ARGS: %s</p>", html.EscapeString(strings.Join(os.Args, " | ")))
	default:
		b.WriteString("<p>CRON without args</p>")
	}
	return b.String()
}
