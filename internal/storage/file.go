package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"notifyrelay/internal/notify"
	logx "notifyrelay/pkg/logx"
)

// fileStore writes:
//   - <prefix>.audit.jsonl                (append-only)
//   - <prefix>.suppress.snapshot.json     (compacted claims)
//   - <prefix>.suppress.journal.jsonl     (claims since the last snapshot)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditFile *os.File

	snapshotPath string
	journal      *os.File
	claims       map[string]int64 // unix milli
	writes       int
}

type claimRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

const compactEvery = 1000

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	snapPath := prefix + ".suppress.snapshot.json"
	journalPath := prefix + ".suppress.journal.jsonl"
	claims := map[string]int64{}
	if err := loadSnapshot(snapPath, claims); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("suppression snapshot unreadable", logx.Err(err))
	}
	if err := replayJournal(journalPath, claims); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("suppression journal unreadable", logx.Err(err))
	}
	pruneExpired(claims, time.Now().UnixMilli())

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}
	return &fileStore{log: log, auditFile: af, snapshotPath: snapPath, journal: jf, claims: claims}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.auditFile != nil {
		errs = append(errs, s.auditFile.Close())
		s.auditFile = nil
	}
	if s.journal != nil {
		errs = append(errs, s.compactLocked(time.Now().UnixMilli()))
		errs = append(errs, s.journal.Close())
		s.journal = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendAudit(_ context.Context, e notify.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) ClaimSuppression(_ context.Context, key string, until, now time.Time) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return true, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return false, errors.New("suppression journal closed")
	}
	if cur, ok := s.claims[key]; ok && cur > now.UnixMilli() {
		return false, nil
	}
	ms := until.UnixMilli()
	s.claims[key] = ms
	if err := json.NewEncoder(s.journal).Encode(claimRecord{Key: key, Until: ms}); err != nil {
		return true, err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(now.UnixMilli()); err != nil {
			s.log.Debug("suppression compact failed", logx.Err(err))
		}
	}
	return true, nil
}

func (s *fileStore) GetSuppression(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.claims[strings.TrimSpace(key)]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) compactLocked(nowMS int64) error {
	pruneExpired(s.claims, nowMS)

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.claims); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]int64
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r claimRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Key == "" {
			continue
		}
		out[r.Key] = r.Until
	}
	return sc.Err()
}

func pruneExpired(m map[string]int64, nowMS int64) {
	for k, v := range m {
		if v <= nowMS {
			delete(m, k)
		}
	}
}
