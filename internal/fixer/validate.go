package fixer

import (
	"net/mail"
	"regexp"
	"strings"
)

const (
	atom  = "[-a-z0-9!#$%&'*+/=?^_`{|}~]"
	alpha = `a-z\x{80}-\x{10FFFF}`
)

var emailPattern = regexp.MustCompile(`(?i)^("([ !#-\[\]-~]*|\\[ -~])+"|` + atom + `+(\.` + atom + `+)*)@` +
	`([0-9` + alpha + `]([-0-9` + alpha + `]{0,61}[0-9` + alpha + `])?\.)+` +
	`[` + alpha + `]([-0-9` + alpha + `]{0,17}[` + alpha + `])?$`)

// IsEmail reports whether value is a syntactically valid bare address. The
// domain is not resolved.
func IsEmail(value string) bool {
	return emailPattern.MatchString(value)
}

// SplitList splits a ";" or "," separated list of addresses, dropping blanks.
func SplitList(list string) []string {
	fields := strings.FieldsFunc(list, func(r rune) bool { return r == ';' || r == ',' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Bare returns the address part of a "Name <addr>" mailbox, or the input
// itself when it does not parse as one.
func Bare(mailbox string) string {
	if addr, err := mail.ParseAddress(mailbox); err == nil {
		return addr.Address
	}
	return strings.TrimSpace(mailbox)
}

// FixMailbox applies f to the address part of mailbox, keeping any display
// name.
func FixMailbox(f Fixer, mailbox string) (string, error) {
	addr, err := mail.ParseAddress(mailbox)
	if err != nil || addr.Name == "" {
		return f.Fix(mailbox)
	}
	fixed, err := f.Fix(addr.Address)
	if err != nil {
		return "", err
	}
	return (&mail.Address{Name: addr.Name, Address: fixed}).String(), nil
}
