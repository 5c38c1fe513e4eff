package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sungwon/emailer/internal/message"
)

// Sendmail pipes messages into a local sendmail-compatible binary.
type Sendmail struct {
	path string
}

// NewSendmail returns a Sendmail transport using cfg.SendmailPath.
func NewSendmail(cfg Config) (*Sendmail, error) {
	if cfg.SendmailPath == "" {
		return nil, errors.New("sendmail path is required")
	}
	return &Sendmail{path: cfg.SendmailPath}, nil
}

func (s *Sendmail) Name() string { return "sendmail" }

// Send runs "sendmail -i -f <from> -- <rcpt>...". Recipients are passed
// explicitly because Bcc never appears in the headers.
func (s *Sendmail) Send(ctx context.Context, msg *message.Prepared) error {
	args := []string{"-i"}
	if msg.EnvelopeFrom != "" {
		args = append(args, "-f", msg.EnvelopeFrom)
	}
	args = append(args, "--")
	args = append(args, msg.Recipients()...)

	cmd := exec.CommandContext(ctx, s.path, args...)
	cmd.Stdin = bytes.NewReader(msg.Raw)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if detail := strings.TrimSpace(stderr.String()); detail != "" {
			err = fmt.Errorf("%w: %s", err, detail)
		}
		return wrap(s.Name(), fmt.Errorf("run %s: %w", s.path, err))
	}
	return nil
}
