package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sungwon/emailer/internal/message"
)

// Stdout writes a summary of each message to standard output.
// Intended for development; messages are never actually delivered.
type Stdout struct {
	writer io.Writer
}

// NewStdout creates a Stdout transport that prints to os.Stdout.
func NewStdout() *Stdout {
	return &Stdout{writer: os.Stdout}
}

func (s *Stdout) Name() string { return "stdout" }

func (s *Stdout) Send(_ context.Context, msg *message.Prepared) error {
	var b strings.Builder
	b.WriteString("--- stdout transport: message ---\n")
	fmt.Fprintf(&b, "ID:      %s\n", msg.EmailID)
	fmt.Fprintf(&b, "From:    %s\n", msg.From)
	fmt.Fprintf(&b, "To:      %s\n", strings.Join(msg.To, ", "))
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&b, "Cc:      %s\n", strings.Join(msg.Cc, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	for k, v := range msg.Headers {
		fmt.Fprintf(&b, "Header:  %s: %s\n", k, v)
	}
	for _, a := range msg.Attachments {
		fmt.Fprintf(&b, "Attach:  %s (%s, %d bytes)\n", a.Filename, a.ContentType, len(a.Content))
	}
	fmt.Fprintf(&b, "Body:    (%d bytes)\n", len(msg.Raw))
	b.WriteString("--- end ---\n")

	if _, err := io.WriteString(s.writer, b.String()); err != nil {
		return wrap(s.Name(), fmt.Errorf("write: %w", err))
	}
	return nil
}
