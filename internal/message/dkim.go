package message

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	msgauthdkim "github.com/emersion/go-msgauth/dkim"
)

// Signer applies DKIM signatures to composed messages.
type Signer struct {
	domain     string
	selector   string
	key        crypto.Signer
	headerKeys []string
}

var defaultSignedHeaders = []string{
	"from",
	"to",
	"cc",
	"subject",
	"date",
	"mime-version",
	"content-type",
	"message-id",
}

// LoadSigner reads a PEM private key from keyPath. It returns nil, nil when
// selector and keyPath are both empty so DKIM stays optional. An empty
// domain means the sender domain is used.
func LoadSigner(domain, selector, keyPath string) (*Signer, error) {
	if selector == "" && keyPath == "" {
		return nil, nil
	}
	if selector == "" || keyPath == "" {
		return nil, errors.New("dkim: selector and key path are both required")
	}

	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("dkim: read private key: %w", err)
	}
	key, err := parsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("dkim: parse private key: %w", err)
	}
	return NewSigner(domain, selector, key), nil
}

// NewSigner returns a Signer using key.
func NewSigner(domain, selector string, key crypto.Signer) *Signer {
	return &Signer{
		domain:     strings.ToLower(strings.TrimSpace(domain)),
		selector:   selector,
		key:        key,
		headerKeys: defaultSignedHeaders,
	}
}

// Sign returns message with a DKIM-Signature header prepended.
func (s *Signer) Sign(message []byte, from string) ([]byte, error) {
	domain := s.domain
	if domain == "" {
		if i := strings.LastIndex(from, "@"); i >= 0 {
			domain = strings.ToLower(strings.Trim(from[i+1:], "> "))
		}
	}
	if domain == "" {
		return nil, errors.New("dkim: unable to determine signing domain")
	}

	opts := &msgauthdkim.SignOptions{
		Domain:                 domain,
		Selector:               s.selector,
		Signer:                 s.key,
		HeaderCanonicalization: msgauthdkim.CanonicalizationRelaxed,
		BodyCanonicalization:   msgauthdkim.CanonicalizationRelaxed,
		HeaderKeys:             s.headerKeys,
	}

	var signed bytes.Buffer
	if err := msgauthdkim.Sign(&signed, bytes.NewReader(message), opts); err != nil {
		return nil, fmt.Errorf("dkim: signing failed: %w", err)
	}
	return signed.Bytes(), nil
}

func parsePrivateKey(pemData []byte) (crypto.Signer, error) {
	for {
		block, rest := pem.Decode(pemData)
		if block == nil {
			break
		}
		switch block.Type {
		case "RSA PRIVATE KEY":
			return x509.ParsePKCS1PrivateKey(block.Bytes)
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			if signer, ok := key.(crypto.Signer); ok {
				return signer, nil
			}
			return nil, errors.New("unsupported private key type in PKCS#8 container")
		}
		pemData = rest
	}
	return nil, errors.New("no private key found in PEM data")
}
