package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/runasharp/telegram-hotel-bot/pkg/logx"
)

// Open constructs a Store for the configured driver. Driver "none" (or empty)
// returns a no-op store so callers never need nil checks.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "none":
		return nopStore{}, nil
	case "file":
		return openFile(cfg, log)
	case "sqlite":
		return openSQLite(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}

type nopStore struct{}

func (nopStore) AppendObservation(context.Context, Observation) error { return nil }
func (nopStore) PutDedup(context.Context, DedupEntry) error           { return nil }
func (nopStore) GetDedup(context.Context, string) (DedupEntry, error) {
	return DedupEntry{}, ErrNotFound
}
func (nopStore) LoadDedup(context.Context, time.Time) ([]DedupEntry, error) { return nil, nil }
func (nopStore) Close() error                                               { return nil }
