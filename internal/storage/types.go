// Package storage persists price observations and notification dedup state.
//
// Tracked items themselves live in memory; storage is an optional journal so
// history and dedup survive restarts.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("storage: not found")

// Observation is a single extracted price for a tracked URL.
type Observation struct {
	At    time.Time       `json:"at"`
	Owner int64           `json:"owner"`
	Slot  int             `json:"slot"`
	URL   string          `json:"url"`
	Price decimal.Decimal `json:"price"`
}

// DedupEntry records the last notification sent for a dedup key.
type DedupEntry struct {
	Key    string    `json:"key"`
	SentAt time.Time `json:"sent_at"`
}

type Store interface {
	AppendObservation(ctx context.Context, obs Observation) error

	PutDedup(ctx context.Context, entry DedupEntry) error
	// GetDedup returns ErrNotFound when the key has never been recorded.
	GetDedup(ctx context.Context, key string) (DedupEntry, error)
	// LoadDedup returns all entries newer than `since` (zero = all).
	LoadDedup(ctx context.Context, since time.Time) ([]DedupEntry, error)

	Close() error
}

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
}
