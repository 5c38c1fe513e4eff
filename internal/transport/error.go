package transport

import (
	"errors"
	"strings"

	"github.com/emersion/go-smtp"
)

// SendError wraps a delivery failure with classification metadata.
type SendError struct {
	// Transport is the name of the transport that failed.
	Transport string
	// Code is the SMTP reply code or HTTP status, zero when unknown.
	Code int
	// Permanent indicates the failure will not succeed on retry.
	Permanent bool
	Err       error
}

func (e *SendError) Error() string {
	return e.Transport + ": " + e.Err.Error()
}

func (e *SendError) Unwrap() error { return e.Err }

// IsSendError reports whether err happened inside a transport.
func IsSendError(err error) bool {
	var se *SendError
	return errors.As(err, &se)
}

// IsPermanent returns true if err is a SendError that should not be retried.
func IsPermanent(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Permanent
	}
	return false
}

// wrap turns err into a *SendError, classifying SMTP replies.
func wrap(name string, err error) error {
	if err == nil {
		return nil
	}
	var se *SendError
	if errors.As(err, &se) {
		return err
	}
	out := &SendError{Transport: name, Err: err}
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		out.Code = smtpErr.Code
		out.Permanent = smtpErr.Code >= 500
	}
	return out
}

// classifyHTTP builds a SendError from an HTTP API status and message.
func classifyHTTP(name string, status int, err error) *SendError {
	se := &SendError{Transport: name, Code: status, Err: err}
	msg := err.Error()

	switch {
	case status == 400:
		se.Permanent = containsPermanentIndicator(msg)
	case status == 401, status == 403, status == 404:
		se.Permanent = true
	case status == 429:
		se.Permanent = false
	case status >= 500:
		se.Permanent = containsPermanentServerIndicator(msg)
	case status >= 400:
		se.Permanent = true
	default:
		se.Permanent = containsPermanentIndicator(msg) || containsPermanentServerIndicator(msg)
	}
	return se
}

func containsPermanentIndicator(body string) bool {
	return containsAny(body,
		"invalid recipient",
		"invalid email",
		"does not exist",
		"mailbox not found",
		"recipient rejected",
		"validation error",
		"invalid address",
	)
}

func containsPermanentServerIndicator(body string) bool {
	return containsAny(body,
		"invalid api key",
		"authentication failed",
		"account suspended",
		"account disabled",
		"unauthorized",
	)
}

func containsAny(s string, patterns ...string) bool {
	lower := strings.ToLower(s)
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
