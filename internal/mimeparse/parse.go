// Package mimeparse turns a raw RFC 5322 submission into the parts of an
// outgoing email: envelope addresses, subject, bodies and attachments.
package mimeparse

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// ErrNoBoundary is returned for a multipart entity without a boundary.
var ErrNoBoundary = errors.New("mimeparse: multipart entity without boundary")

// Message is a parsed submission.
type Message struct {
	From    string
	ReplyTo string
	To      []string
	Cc      []string
	Bcc     []string
	Subject string
	// Priority is the X-Priority value from 1 (highest) to 5 (lowest), or 0
	// when the header is missing or unreadable.
	Priority int
	// Headers holds the X- headers other than X-Priority.
	Headers     map[string]string
	TextBody    string
	HTMLBody    string
	Attachments []Attachment
}

// Attachment is a non-body part.
type Attachment struct {
	Filename    string
	ContentType string
	ContentID   string
	Inline      bool
	Content     []byte
}

var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

// Parse reads raw. Single-part messages land in TextBody or HTMLBody by
// media type; in multipart messages the first text/plain and text/html
// parts are the bodies and everything else is an attachment.
func Parse(raw []byte) (*Message, error) {
	m, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("mimeparse: read message: %w", err)
	}

	msg := &Message{
		Subject:  decodeHeader(m.Header.Get("Subject")),
		Priority: parsePriority(m.Header.Get("X-Priority")),
	}
	if msg.From, err = firstAddress(m.Header, "From"); err != nil {
		return nil, err
	}
	if msg.ReplyTo, err = firstAddress(m.Header, "Reply-To"); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		name string
		dst  *[]string
	}{{"To", &msg.To}, {"Cc", &msg.Cc}, {"Bcc", &msg.Bcc}} {
		if *f.dst, err = addressList(m.Header, f.name); err != nil {
			return nil, err
		}
	}
	for key, values := range m.Header {
		if strings.HasPrefix(key, "X-") && key != "X-Priority" && len(values) > 0 {
			if msg.Headers == nil {
				msg.Headers = make(map[string]string)
			}
			msg.Headers[key] = decodeHeader(values[0])
		}
	}

	if err := msg.walk(textproto.MIMEHeader(m.Header), m.Body); err != nil {
		return nil, err
	}
	return msg, nil
}

// walk handles one MIME entity and recurses into multipart containers.
func (msg *Message) walk(h textproto.MIMEHeader, body io.Reader) error {
	mediaType, params := "text/plain", map[string]string{}
	if ct := h.Get("Content-Type"); ct != "" {
		var err error
		if mediaType, params, err = mime.ParseMediaType(ct); err != nil {
			mediaType = "application/octet-stream"
		}
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return ErrNoBoundary
		}
		mr := multipart.NewReader(body, boundary)
		for {
			part, err := mr.NextRawPart()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("mimeparse: next part: %w", err)
			}
			if err := msg.walk(part.Header, part); err != nil {
				return err
			}
		}
	}

	content, err := decodeTransfer(body, h.Get("Content-Transfer-Encoding"))
	if err != nil {
		return fmt.Errorf("mimeparse: decode %s part: %w", mediaType, err)
	}

	disposition, dparams, _ := mime.ParseMediaType(h.Get("Content-Disposition"))
	isAttachment := strings.EqualFold(disposition, "attachment")

	switch {
	case mediaType == "text/plain" && msg.TextBody == "" && !isAttachment:
		msg.TextBody, err = decodeCharset(content, params["charset"])
		return err
	case mediaType == "text/html" && msg.HTMLBody == "" && !isAttachment:
		msg.HTMLBody, err = decodeCharset(content, params["charset"])
		return err
	}

	filename := dparams["filename"]
	if filename == "" {
		filename = params["name"]
	}
	msg.Attachments = append(msg.Attachments, Attachment{
		Filename:    decodeHeader(filename),
		ContentType: mediaType,
		ContentID:   strings.Trim(h.Get("Content-Id"), "<>"),
		Inline:      strings.EqualFold(disposition, "inline"),
		Content:     content,
	})
	return nil
}

func decodeTransfer(r io.Reader, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return io.ReadAll(base64.NewDecoder(base64.StdEncoding, r))
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(r))
	default:
		return io.ReadAll(r)
	}
}

// decodeCharset converts text in charset to UTF-8.
func decodeCharset(b []byte, charset string) (string, error) {
	switch strings.ToLower(charset) {
	case "", "utf-8", "utf8", "us-ascii":
		return string(b), nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return "", fmt.Errorf("mimeparse: charset %q: %w", charset, err)
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("mimeparse: decode %s: %w", charset, err)
	}
	return string(out), nil
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, err
	}
	return enc.NewDecoder().Reader(input), nil
}

// decodeHeader decodes RFC 2047 encoded words, returning s unchanged when
// it cannot be decoded.
func decodeHeader(s string) string {
	out, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return out
}

func addressList(h mail.Header, key string) ([]string, error) {
	if h.Get(key) == "" {
		return nil, nil
	}
	parser := mail.AddressParser{WordDecoder: wordDecoder}
	list, err := parser.ParseList(h.Get(key))
	if err != nil {
		return nil, fmt.Errorf("mimeparse: %s header: %w", key, err)
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, formatAddress(a))
	}
	return out, nil
}

func firstAddress(h mail.Header, key string) (string, error) {
	list, err := addressList(h, key)
	if err != nil || len(list) == 0 {
		return "", err
	}
	return list[0], nil
}

func formatAddress(a *mail.Address) string {
	if a.Name == "" {
		return a.Address
	}
	return a.String()
}

// parsePriority reads values such as "1", "2 (High)" or "5 (Lowest)".
func parsePriority(v string) int {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v[:1])
	if err != nil || n < 1 || n > 5 {
		return 0
	}
	return n
}
