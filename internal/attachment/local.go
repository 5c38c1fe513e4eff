package attachment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Local stores attachments as files on the local filesystem.
type Local struct {
	basePath string
}

// NewLocal creates a Local store at the given base path, creating the
// directory if it does not exist.
func NewLocal(basePath string) (*Local, error) {
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, fmt.Errorf("attachment: create base directory: %w", err)
	}
	return &Local{basePath: basePath}, nil
}

// Put writes data through a temp file and a rename so readers never see a
// partial attachment.
func (s *Local) Put(_ context.Context, key string, data []byte, _ string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.basePath, ".tmp-"+key+"-*")
	if err != nil {
		return fmt.Errorf("attachment: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("attachment: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("attachment: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.basePath, key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("attachment: rename temp file: %w", err)
	}
	return nil
}

// Get reads attachment content. Returns ErrNotFound if it does not exist.
func (s *Local) Get(_ context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.basePath, key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("attachment: read file: %w", err)
	}
	return data, nil
}

// Delete removes attachment content. Missing content is not an error.
func (s *Local) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.basePath, key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("attachment: remove file: %w", err)
	}
	return nil
}
