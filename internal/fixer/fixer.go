// Package fixer normalizes recipient addresses and repairs common typos in
// well-known mailbox provider domains.
package fixer

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidAddress is returned for addresses that cannot be parsed.
var ErrInvalidAddress = errors.New("fixer: invalid email address")

// Fixer returns a corrected address or fails on malformed input.
type Fixer interface {
	Fix(address string) (string, error)
}

// DefaultDomains are the provider domains typos are corrected towards.
var DefaultDomains = []string{"seznam.cz", "gmail.com", "zoznam.sk", "centrum.cz", "atlas.cz", "atlas.sk"}

var addressPattern = regexp.MustCompile(`^([^@]+)@([^@]+)\.([a-z]{1,6})$`)

// DomainFixer lowercases addresses and replaces a domain that is a near miss
// of a known domain with the same top level domain.
type DomainFixer struct {
	domains []string
}

// NewDomainFixer returns a DomainFixer over domains, or DefaultDomains when
// none are given.
func NewDomainFixer(domains ...string) *DomainFixer {
	if len(domains) == 0 {
		domains = DefaultDomains
	}
	return &DomainFixer{domains: domains}
}

// Fix implements Fixer.
func (f *DomainFixer) Fix(address string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(address))
	m := addressPattern.FindStringSubmatch(normalized)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	user, domain, tld := m[1], m[2]+"."+m[3], m[3]

	for _, known := range f.domains {
		if known == domain {
			return normalized, nil
		}
	}
	if suggestion, ok := f.suggest(domain, tld); ok {
		return user + "@" + suggestion, nil
	}
	return normalized, nil
}

// suggest returns the closest known domain sharing tld whose weighted edit
// distance to domain stays under a length dependent threshold.
func (f *DomainFixer) suggest(domain, tld string) (string, bool) {
	best := ""
	limit := (float64(len(domain))/4+1)*10 + 0.1
	for _, known := range f.domains {
		_, knownTLD, _ := strings.Cut(known, ".")
		if knownTLD != tld || known == domain {
			continue
		}
		if d := float64(distance(known, domain, 10, 11, 10)); d < limit {
			limit = d
			best = known
		}
	}
	return best, best != ""
}

// distance is the Levenshtein distance from a to b with separate costs for
// insertion, replacement and deletion, computed over bytes.
func distance(a, b string, insCost, replCost, delCost int) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j * insCost
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i * delCost
		for j := 1; j <= len(b); j++ {
			repl := prev[j-1]
			if a[i-1] != b[j-1] {
				repl += replCost
			}
			cur[j] = min(repl, prev[j]+delCost, cur[j-1]+insCost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// Nop returns addresses trimmed but otherwise unchanged.
type Nop struct{}

// Fix implements Fixer.
func (Nop) Fix(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !IsEmail(address) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return address, nil
}
