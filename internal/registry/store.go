package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "gatebot/pkg/logx"
)

// ErrCorrupt marks store content that could not be decoded. Callers recover
// by substituting an empty set; the broken artifact is overwritten on the
// next mutation.
var ErrCorrupt = errors.New("registry store corrupt")

// Config configures the registry store.
//
// Driver values:
//   - "file": single JSON artifact (array of user ids)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the durable backend behind the Registry.
//
// Load returns found=false when the artifact does not exist yet (first run).
// Replace persists the full snapshot; last writer wins.
type Store interface {
	Load(ctx context.Context) (ids []int64, found bool, err error)
	Replace(ctx context.Context, ids []int64) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown registry driver: %s", cfg.Driver)
	}
}
