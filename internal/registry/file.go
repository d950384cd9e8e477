package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logx "gatebot/pkg/logx"
)

// fileStore persists the registry as a single JSON array of user ids.
// Every Replace rewrites the whole artifact through a temp file + rename so
// a crash mid-write never leaves a truncated registry behind.
type fileStore struct {
	path string
	log  logx.Logger
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("registry.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{path: path, log: log}, nil
}

func (s *fileStore) Load(ctx context.Context) ([]int64, bool, error) {
	_ = ctx
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var ids []int64
	if err := json.Unmarshal(b, &ids); err != nil {
		return nil, true, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	return ids, true, nil
}

func (s *fileStore) Replace(ctx context.Context, ids []int64) error {
	_ = ctx
	b, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) Close() error { return nil }
