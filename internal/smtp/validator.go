package smtp

import (
	"fmt"
	"net/mail"
	"strings"
)

// ValidateEmailAddress checks that addr is a single bare RFC 5322 address
// with both a local part and a domain.
func ValidateEmailAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("empty address")
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return fmt.Errorf("parse address %q: %w", addr, err)
	}
	at := strings.LastIndex(parsed.Address, "@")
	if at <= 0 || at == len(parsed.Address)-1 {
		return fmt.Errorf("address %q has no local part or domain", addr)
	}
	return nil
}

// ExtractDomain returns the part after the last "@", or "" when there is
// none.
func ExtractDomain(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return ""
	}
	return addr[at+1:]
}

// IsValidDomain reports whether domain has at least one inner dot and does
// not start or end with one.
func IsValidDomain(domain string) bool {
	if domain == "" || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return false
	}
	return strings.Contains(domain, ".")
}

func domainAllowed(addr string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	domain := strings.ToLower(ExtractDomain(addr))
	for _, d := range allowed {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}
