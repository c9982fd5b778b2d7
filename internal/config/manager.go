// Package config loads, validates, and hot-reloads the application
// configuration from a YAML file.
package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/runasharp/telegram-hotel-bot/pkg/logx"
)

const watchDebounce = 250 * time.Millisecond

type Validator func(*Config) error

// ConfigManager owns the current config snapshot and notifies subscribers
// when the file changes on disk.
type ConfigManager struct {
	path string

	mu       sync.RWMutex
	current  *Config
	lastHash [32]byte

	validator Validator
	log       logx.Logger

	subMu  sync.Mutex
	nextID int
	subs   map[int]chan *Config
}

func NewManager(path string) *ConfigManager {
	return &ConfigManager{
		path: path,
		log:  logx.Nop(),
		subs: make(map[int]chan *Config),
	}
}

func (m *ConfigManager) SetLogger(log logx.Logger) { m.log = log }

func (m *ConfigManager) SetValidator(v Validator) { m.validator = v }

func (m *ConfigManager) Path() string { return m.path }

// Parse decodes raw YAML into a Config, rejecting unknown fields.
func Parse(raw []byte) (*Config, error) {
	jb, err := coerceToJSONBytes(raw)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Load reads and parses the config file, runs validation, and commits the
// result as the current snapshot.
func (m *ConfigManager) Load() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", m.path, err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if m.validator != nil {
		if err := m.validator(cfg); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.current = cfg
	m.lastHash = sha256.Sum256(raw)
	m.mu.Unlock()
	return cfg, nil
}

// Get returns the current snapshot. It may be nil before the first Load.
func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Subscribe registers for reload notifications. Delivery is best-effort:
// when a subscriber's buffer is full, the oldest pending snapshot is dropped.
func (m *ConfigManager) Subscribe() (<-chan *Config, func()) {
	ch := make(chan *Config, 2)

	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.subMu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()
			if c, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(c)
			}
		})
	}
	return ch, unsub
}

func (m *ConfigManager) publish(cfg *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- cfg:
		default:
			// Drop the oldest pending snapshot so the newest always lands.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- cfg:
			default:
			}
		}
	}
}

// Watch blocks until ctx is done, reloading the config whenever the file
// changes. Invalid reloads are logged and the previous snapshot is kept.
func (m *ConfigManager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors replace files via rename, which drops a
	// watch on the file itself.
	dir := filepath.Dir(m.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(m.path)

	var timer *time.Timer
	var timerC <-chan time.Time

	reload := func() {
		raw, err := os.ReadFile(m.path)
		if err != nil {
			m.log.Warn("config reload read failed", logx.Err(err))
			return
		}
		sum := sha256.Sum256(raw)
		m.mu.RLock()
		same := sum == m.lastHash
		m.mu.RUnlock()
		if same {
			return
		}

		cfg, err := m.Load()
		if err != nil {
			m.log.Warn("config reload rejected, keeping previous", logx.Err(err))
			return
		}
		m.log.Info("config reloaded", logx.String("path", m.path))
		m.publish(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(watchDebounce)
			}

		case <-timerC:
			timerC = nil
			timer = nil
			reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.log.Warn("config watcher error", logx.Err(err))
		}
	}
}
