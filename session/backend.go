package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"padel-finder/types"
)

// Backend persists session records. Load returns (nil, nil) when nothing is
// stored under key. Save replaces the record wholesale.
type Backend interface {
	Load(ctx context.Context, key string) (*types.SessionRecord, error)
	Save(ctx context.Context, key string, rec *types.SessionRecord) error
}

// FileBackend stores one JSON file per session key in Dir.
type FileBackend struct {
	Dir string
}

// NewFileBackend returns a backend rooted at dir.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{Dir: dir}
}

func (b *FileBackend) path(key string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, key)
	return filepath.Join(b.Dir, safe+".json")
}

func (b *FileBackend) Load(_ context.Context, key string) (*types.SessionRecord, error) {
	data, err := os.ReadFile(b.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", key, err)
	}
	var rec types.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", key, err)
	}
	return &rec, nil
}

// Save writes to a temp file in the same directory and renames it over the
// previous record, so readers never see a half-written file.
func (b *FileBackend) Save(_ context.Context, key string, rec *types.SessionRecord) error {
	if err := os.MkdirAll(b.Dir, 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(b.Dir, ".session-*")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write session %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync session %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session %s: %w", key, err)
	}
	if err := os.Rename(tmpName, b.path(key)); err != nil {
		return fmt.Errorf("replace session %s: %w", key, err)
	}
	return nil
}
