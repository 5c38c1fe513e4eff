package emailer

import (
	"github.com/sungwon/emailer/internal/mimeparse"
	"github.com/sungwon/emailer/internal/storage"
)

// FromMIME converts a parsed RFC 5322 submission into a Request.
func FromMIME(msg *mimeparse.Message) Request {
	req := Request{
		Payload: storage.Payload{
			From:     msg.From,
			ReplyTo:  msg.ReplyTo,
			To:       msg.To,
			Cc:       msg.Cc,
			Bcc:      msg.Bcc,
			Subject:  msg.Subject,
			TextBody: msg.TextBody,
			HTMLBody: msg.HTMLBody,
			Headers:  msg.Headers,
		},
	}
	if msg.Priority > 0 {
		p := PriorityFromXPriority(msg.Priority)
		req.Priority = &p
	}
	for _, a := range msg.Attachments {
		req.Files = append(req.Files, File{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			ContentID:   a.ContentID,
			Inline:      a.Inline,
			Content:     a.Content,
		})
	}
	return req
}

// PriorityFromXPriority maps X-Priority 1..5 onto the four queue priorities.
func PriorityFromXPriority(x int) storage.Priority {
	switch x {
	case 1:
		return storage.PriorityUrgent
	case 2:
		return storage.PriorityHigh
	case 3:
		return storage.PriorityNormal
	default:
		return storage.PriorityLow
	}
}
