package transport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sungwon/emailer/internal/message"
)

const defaultOutputDir = "./mail_output"

// File saves each raw message as an .eml file in a directory.
// Intended for development; messages are never actually delivered.
type File struct {
	outputDir string
	now       func() time.Time
}

// NewFile creates a File transport writing to dir, or "./mail_output"
// when dir is empty.
func NewFile(dir string) *File {
	if dir == "" {
		dir = defaultOutputDir
	}
	return &File{outputDir: dir, now: time.Now}
}

func (f *File) Name() string { return "file" }

// Send writes the message to <timestamp>_<email-id>.eml.
func (f *File) Send(_ context.Context, msg *message.Prepared) error {
	if err := os.MkdirAll(f.outputDir, 0o750); err != nil {
		return wrap(f.Name(), fmt.Errorf("create output dir: %w", err))
	}

	name := fmt.Sprintf("%s_%s.eml", f.now().Format("20060102_150405"), msg.EmailID)
	path := filepath.Join(f.outputDir, name)
	if err := os.WriteFile(path, msg.Raw, 0o640); err != nil {
		return wrap(f.Name(), fmt.Errorf("write %s: %w", path, err))
	}
	return nil
}
