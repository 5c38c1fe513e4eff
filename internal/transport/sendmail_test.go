package transport

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func fakeSendmail(t *testing.T, body string) (path, outDir string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a POSIX shell")
	}
	outDir = t.TempDir()
	path = filepath.Join(outDir, "sendmail")
	script := "#!/bin/sh\n" + strings.ReplaceAll(body, "$OUT", outDir) + "\n"
	if err := os.WriteFile(path, []byte(script), 0o700); err != nil {
		t.Fatal(err)
	}
	return path, outDir
}

func TestSendmail_Send(t *testing.T) {
	path, out := fakeSendmail(t, `echo "$@" > $OUT/args; cat > $OUT/stdin`)
	s, err := NewSendmail(Config{SendmailPath: path})
	if err != nil {
		t.Fatal(err)
	}

	msg := testMessage()
	if err := s.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	args, _ := os.ReadFile(filepath.Join(out, "args"))
	want := "-i -f sender@example.com -- a@example.com b@example.com c@example.com"
	if strings.TrimSpace(string(args)) != want {
		t.Errorf("args = %q, want %q", strings.TrimSpace(string(args)), want)
	}
	stdin, _ := os.ReadFile(filepath.Join(out, "stdin"))
	if string(stdin) != string(msg.Raw) {
		t.Errorf("stdin = %q, want raw message", stdin)
	}
}

func TestSendmail_Failure(t *testing.T) {
	path, _ := fakeSendmail(t, `cat > /dev/null; echo "relay denied" >&2; exit 75`)
	s, err := NewSendmail(Config{SendmailPath: path})
	if err != nil {
		t.Fatal(err)
	}

	err = s.Send(context.Background(), testMessage())
	if !IsSendError(err) {
		t.Fatalf("expected SendError, got %v", err)
	}
	if !strings.Contains(err.Error(), "relay denied") {
		t.Errorf("expected stderr in error, got %v", err)
	}
}
