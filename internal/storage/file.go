package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "planner/pkg/logx"
)

// fileStore persists to plain files next to the configured path.
//
// Files:
//   - <prefix>.fires.jsonl             (append-only JSON Lines)
//   - <prefix>.anchors.snapshot.json   (periodic snapshot)
//   - <prefix>.anchors.journal.jsonl   (append-only journal)
//
// The anchor journal is periodically compacted into the snapshot. Fire
// records are replayed on open into a bounded per-plan tail.
type fileStore struct {
	log  logx.Logger
	keep int

	mu sync.Mutex

	firesFile *os.File
	fires     map[string][]FireRecord
	counts    map[string]int

	anchorSnapshotPath string
	anchorJournalFile  *os.File
	anchors            map[string]Anchor

	anchorWrites int
}

const compactEvery = 500

type anchorRecord struct {
	Op     string `json:"op"` // put | del
	Anchor Anchor `json:"anchor"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	firesPath := prefix + ".fires.jsonl"
	snapPath := prefix + ".anchors.snapshot.json"
	journalPath := prefix + ".anchors.journal.jsonl"

	s := &fileStore{
		log:                log,
		keep:               cfg.KeepFires,
		fires:              map[string][]FireRecord{},
		counts:             map[string]int{},
		anchorSnapshotPath: snapPath,
		anchors:            map[string]Anchor{},
	}

	if err := s.replayFires(firesPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("fire journal replay incomplete", logx.String("path", firesPath), logx.Err(err))
	}
	if err := loadAnchorSnapshot(snapPath, s.anchors); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("anchor snapshot unreadable", logx.String("path", snapPath), logx.Err(err))
	}
	if err := replayAnchorJournal(journalPath, s.anchors); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("anchor journal replay incomplete", logx.String("path", journalPath), logx.Err(err))
	}

	ff, err := os.OpenFile(firesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = ff.Close()
		return nil, err
	}
	s.firesFile = ff
	s.anchorJournalFile = jf

	log.Debug("file store opened",
		logx.String("prefix", prefix),
		logx.Int("plans", len(s.counts)),
		logx.Int("anchors", len(s.anchors)),
	)
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.firesFile != nil {
		err1 = s.firesFile.Close()
		s.firesFile = nil
	}
	if s.anchorJournalFile != nil {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("anchor compact on close failed", logx.Err(err))
		}
		err2 = s.anchorJournalFile.Close()
		s.anchorJournalFile = nil
	}
	return errors.Join(err1, err2)
}

func (s *fileStore) RecordFire(ctx context.Context, r FireRecord) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	stampFire(&r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firesFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.firesFile).Encode(r); err != nil {
		return err
	}
	s.fires[r.Plan] = appendBounded(s.fires[r.Plan], r, s.keep)
	s.counts[r.Plan]++
	return nil
}

func (s *fileStore) ListFires(ctx context.Context, plan string, limit int) ([]FireRecord, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firesFile == nil {
		return nil, ErrClosed
	}
	return newestFirst(s.fires[plan], limit), nil
}

func (s *fileStore) FireCount(ctx context.Context, plan string) (int, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firesFile == nil {
		return 0, ErrClosed
	}
	return s.counts[plan], nil
}

func (s *fileStore) GetAnchor(ctx context.Context, plan string) (Anchor, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return Anchor{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.anchorJournalFile == nil {
		return Anchor{}, false, ErrClosed
	}
	a, ok := s.anchors[plan]
	return a, ok, nil
}

func (s *fileStore) PutAnchor(ctx context.Context, a Anchor) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	a.Plan = strings.TrimSpace(a.Plan)
	if a.Plan == "" {
		return nil
	}
	return s.appendAnchor(anchorRecord{Op: "put", Anchor: a})
}

func (s *fileStore) DeleteAnchor(ctx context.Context, plan string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	plan = strings.TrimSpace(plan)
	if plan == "" {
		return nil
	}
	return s.appendAnchor(anchorRecord{Op: "del", Anchor: Anchor{Plan: plan}})
}

func (s *fileStore) appendAnchor(rec anchorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.anchorJournalFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.anchorJournalFile).Encode(rec); err != nil {
		return err
	}
	applyAnchor(s.anchors, rec)
	s.anchorWrites++
	if s.anchorWrites%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("anchor compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.anchorSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.anchors); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.anchorSnapshotPath); err != nil {
		return err
	}
	if err := s.anchorJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.anchorJournalFile.Seek(0, io.SeekEnd)
	return err
}

func (s *fileStore) replayFires(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var r FireRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Plan == "" {
			continue
		}
		s.fires[r.Plan] = appendBounded(s.fires[r.Plan], r, s.keep)
		s.counts[r.Plan]++
	}
	return sc.Err()
}

func loadAnchorSnapshot(path string, out map[string]Anchor) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]Anchor
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayAnchorJournal(path string, out map[string]Anchor) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r anchorRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		applyAnchor(out, r)
	}
	return sc.Err()
}

func applyAnchor(m map[string]Anchor, r anchorRecord) {
	if r.Anchor.Plan == "" {
		return
	}
	switch r.Op {
	case "del":
		delete(m, r.Anchor.Plan)
	default:
		m[r.Anchor.Plan] = r.Anchor
	}
}
