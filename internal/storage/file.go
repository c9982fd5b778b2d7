package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/runasharp/telegram-hotel-bot/pkg/logx"
)

// fileStore keeps two append-only jsonl files under a directory:
// observations.jsonl and dedup.jsonl. Dedup state is additionally held in
// memory; the journal is compacted when it grows well past the live set.
type fileStore struct {
	dir string
	log logx.Logger

	mu     sync.Mutex
	obsF   *os.File
	obsW   *bufio.Writer
	dedupF *os.File
	dedup  map[string]DedupEntry
	dedupN int // journal lines written since last compaction
}

const dedupCompactFactor = 4

func openFile(cfg Config, log logx.Logger) (*fileStore, error) {
	dir := cfg.Path
	if dir == "" {
		dir = "./data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create dir %s: %w", dir, err)
	}

	s := &fileStore{
		dir:   dir,
		log:   log.With(logx.String("svc", "storage.file")),
		dedup: make(map[string]DedupEntry),
	}

	if err := s.loadDedupJournal(); err != nil {
		return nil, err
	}

	obsF, err := os.OpenFile(s.obsPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: open observations: %w", err)
	}
	dedupF, err := os.OpenFile(s.dedupPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		obsF.Close()
		return nil, fmt.Errorf("storage: open dedup journal: %w", err)
	}

	s.obsF = obsF
	s.obsW = bufio.NewWriter(obsF)
	s.dedupF = dedupF
	return s, nil
}

func (s *fileStore) obsPath() string   { return filepath.Join(s.dir, "observations.jsonl") }
func (s *fileStore) dedupPath() string { return filepath.Join(s.dir, "dedup.jsonl") }

func (s *fileStore) loadDedupJournal() error {
	f, err := os.Open(s.dedupPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("storage: read dedup journal: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lines := 0
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e DedupEntry
		if err := json.Unmarshal(line, &e); err != nil {
			// Torn tail write from a crash; keep what parsed.
			s.log.Warn("skipping malformed dedup journal line", logx.Err(err))
			continue
		}
		s.dedup[e.Key] = e
		lines++
	}
	s.dedupN = lines
	return sc.Err()
}

func (s *fileStore) AppendObservation(_ context.Context, obs Observation) error {
	b, err := json.Marshal(obs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.obsW == nil {
		return fmt.Errorf("storage: closed")
	}
	if _, err := s.obsW.Write(append(b, '\n')); err != nil {
		return err
	}
	return s.obsW.Flush()
}

func (s *fileStore) PutDedup(_ context.Context, entry DedupEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupF == nil {
		return fmt.Errorf("storage: closed")
	}
	if _, err := s.dedupF.Write(append(b, '\n')); err != nil {
		return err
	}
	s.dedup[entry.Key] = entry
	s.dedupN++

	if s.dedupN > dedupCompactFactor*(len(s.dedup)+8) {
		if err := s.compactDedupLocked(); err != nil {
			s.log.Warn("dedup journal compaction failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactDedupLocked() error {
	tmp := s.dedupPath() + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, e := range s.dedup {
		b, err := json.Marshal(e)
		if err != nil {
			f.Close()
			return err
		}
		if _, err := w.Write(append(b, '\n')); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := s.dedupF.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.dedupPath()); err != nil {
		return err
	}
	nf, err := os.OpenFile(s.dedupPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	s.dedupF = nf
	s.dedupN = len(s.dedup)
	return nil
}

func (s *fileStore) GetDedup(_ context.Context, key string) (DedupEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.dedup[key]
	if !ok {
		return DedupEntry{}, ErrNotFound
	}
	return e, nil
}

func (s *fileStore) LoadDedup(_ context.Context, since time.Time) ([]DedupEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DedupEntry, 0, len(s.dedup))
	for _, e := range s.dedup {
		if !since.IsZero() && e.SentAt.Before(since) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var first error
	if s.obsW != nil {
		if err := s.obsW.Flush(); err != nil && first == nil {
			first = err
		}
		s.obsW = nil
	}
	if s.obsF != nil {
		if err := s.obsF.Close(); err != nil && first == nil {
			first = err
		}
		s.obsF = nil
	}
	if s.dedupF != nil {
		if err := s.dedupF.Close(); err != nil && first == nil {
			first = err
		}
		s.dedupF = nil
	}
	return first
}
