package message

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sungwon/emailer/internal/storage"
)

func writeKey(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "dkim.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return path
}

func TestLoadSigner_Disabled(t *testing.T) {
	s, err := LoadSigner("", "", "")
	if err != nil || s != nil {
		t.Fatalf("expected nil signer without error, got %v, %v", s, err)
	}
}

func TestLoadSigner_Incomplete(t *testing.T) {
	if _, err := LoadSigner("example.com", "mail", ""); err == nil {
		t.Fatal("expected error for missing key path")
	}
}

func TestLoadSigner_BadPEM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pem")
	if err := os.WriteFile(path, []byte("not a key"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSigner("example.com", "mail", path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestBuild_SignsWithDKIM(t *testing.T) {
	signer, err := LoadSigner("", "mail", writeKey(t))
	if err != nil {
		t.Fatalf("LoadSigner: %v", err)
	}

	b := NewBuilder(WithSigner(signer), WithClock(fixedClock))
	p, err := b.Build(context.Background(), newEmail(storage.Payload{
		From:     "Shop <shop@example.org>",
		To:       []string{"alice@example.com"},
		Subject:  "Signed",
		TextBody: "hello",
	}))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	raw := string(p.Raw)
	if !strings.HasPrefix(raw, "DKIM-Signature:") {
		t.Fatalf("expected DKIM-Signature header first, got %q", raw[:40])
	}
	if !strings.Contains(raw, "d=example.org") || !strings.Contains(raw, "s=mail") {
		t.Error("expected signing domain from sender and selector")
	}
}
