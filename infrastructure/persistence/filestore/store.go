// Package filestore is the file-backed essence store. Every file has a
// single owning component; the store only guarantees that each write is an
// atomic replace and that writers of one file never interleave.
package filestore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"esence/application/ports"
	"esence/domain/core/aggregates"
	"esence/domain/core/entities"
	"esence/pkg/observability"

	apperrors "esence/pkg/errors"

	"go.uber.org/zap"
)

// File names inside the store directory
const (
	IdentityFile    = "identity.json"
	DocumentFile    = "did.json"
	PeersFile       = "peers.json"
	CorrectionsFile = "corrections.log"
	PatternsFile    = "patterns.json"
	BudgetFile      = "budget.json"
	SettingsFile    = "settings.json"
	ContextFile     = "context.md"
	ThreadsDir      = "threads"
	KeysDir         = "keys"
)

// Store implements ports.EssenceStore on a directory
type Store struct {
	dir     string
	logger  *zap.Logger
	metrics *observability.Metrics

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New opens (and creates) the store directory
func New(dir string, logger *zap.Logger, metrics *observability.Metrics) (*Store, error) {
	if dir == "" {
		return nil, errors.New("store directory is required")
	}
	for _, sub := range []string{dir, filepath.Join(dir, ThreadsDir), filepath.Join(dir, KeysDir)} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", sub, err)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		dir:     dir,
		logger:  logger.Named("filestore"),
		metrics: metrics,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

// Dir returns the store root
func (s *Store) Dir() string { return s.dir }

// Path returns the absolute location of a store file
func (s *Store) Path(name string) string { return filepath.Join(s.dir, name) }

func (s *Store) lock(name string) func() {
	s.mu.Lock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// save writes v as JSON and reports failures as StorageWriteFailed
func (s *Store) save(name string, v interface{}, perm os.FileMode) error {
	unlock := s.lock(name)
	defer unlock()

	err := writeJSON(s.Path(name), v, perm)
	s.metrics.ObserveStoreWrite(metricName(name), err)
	if err != nil {
		s.logger.Error("store write failed", zap.String("file", name), zap.Error(err))
		return apperrors.NewStorageWriteFailedError(name, err)
	}
	return nil
}

func (s *Store) load(name string, v interface{}) (bool, error) {
	unlock := s.lock(name)
	defer unlock()
	return readJSON(s.Path(name), v)
}

func metricName(name string) string {
	if strings.HasPrefix(name, ThreadsDir+string(filepath.Separator)) {
		return ThreadsDir
	}
	return name
}

// Threads

func threadFile(id string) string {
	return filepath.Join(ThreadsDir, id+".json")
}

// SaveThread implements ports.ThreadStore
func (s *Store) SaveThread(ctx context.Context, r aggregates.ThreadRecord) error {
	return s.save(threadFile(r.ID.String()), r, 0o644)
}

// LoadThreads implements ports.ThreadStore. Corrupt files are logged and
// skipped so one bad thread never blocks a boot.
func (s *Store) LoadThreads(ctx context.Context) ([]aggregates.ThreadRecord, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, ThreadsDir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	records := make([]aggregates.ThreadRecord, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var rec aggregates.ThreadRecord
		if _, err := readJSON(p, &rec); err != nil {
			s.logger.Warn("skipping unreadable thread", zap.String("path", p), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Peers

// LoadPeers implements ports.PeerStore
func (s *Store) LoadPeers(ctx context.Context) ([]entities.Peer, error) {
	var peers []entities.Peer
	if _, err := s.load(PeersFile, &peers); err != nil {
		return nil, err
	}
	return peers, nil
}

// SavePeers implements ports.PeerStore
func (s *Store) SavePeers(ctx context.Context, peers []entities.Peer) error {
	if peers == nil {
		peers = []entities.Peer{}
	}
	return s.save(PeersFile, peers, 0o644)
}

// Corrections

// AppendCorrection implements ports.CorrectionStore. The log is rewritten
// through an atomic replace with the new line appended.
func (s *Store) AppendCorrection(ctx context.Context, c entities.Correction) error {
	line, err := json.Marshal(c)
	if err != nil {
		return apperrors.NewStorageWriteFailedError(CorrectionsFile, err)
	}

	unlock := s.lock(CorrectionsFile)
	defer unlock()

	path := s.Path(CorrectionsFile)
	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperrors.NewStorageWriteFailedError(CorrectionsFile, err)
	}
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		existing = append(existing, '\n')
	}

	buf := make([]byte, 0, len(existing)+len(line)+1)
	buf = append(buf, existing...)
	buf = append(buf, line...)
	buf = append(buf, '\n')

	err = WriteFileAtomic(path, buf, 0o644)
	s.metrics.ObserveStoreWrite(CorrectionsFile, err)
	if err != nil {
		s.logger.Error("correction append failed", zap.Error(err))
		return apperrors.NewStorageWriteFailedError(CorrectionsFile, err)
	}
	return nil
}

// LoadCorrections implements ports.CorrectionStore. Lines that fail to
// decode are skipped.
func (s *Store) LoadCorrections(ctx context.Context) ([]entities.Correction, error) {
	unlock := s.lock(CorrectionsFile)
	defer unlock()

	data, err := os.ReadFile(s.Path(CorrectionsFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var out []entities.Correction
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var c entities.Correction
		if err := json.Unmarshal(line, &c); err != nil {
			s.logger.Warn("skipping corrupt correction", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		out = append(out, c)
	}
	return out, scanner.Err()
}

// Patterns

// LoadPatterns implements ports.PatternStore
func (s *Store) LoadPatterns(ctx context.Context) ([]entities.Pattern, error) {
	var patterns []entities.Pattern
	if _, err := s.load(PatternsFile, &patterns); err != nil {
		return nil, err
	}
	return patterns, nil
}

// SavePatterns implements ports.PatternStore
func (s *Store) SavePatterns(ctx context.Context, patterns []entities.Pattern) error {
	if patterns == nil {
		patterns = []entities.Pattern{}
	}
	return s.save(PatternsFile, patterns, 0o644)
}

// Budget

// LoadBudget implements ports.BudgetStore
func (s *Store) LoadBudget(ctx context.Context) (entities.Budget, error) {
	var b entities.Budget
	found, err := s.load(BudgetFile, &b)
	if err != nil {
		return entities.Budget{}, err
	}
	if !found {
		return entities.Budget{}, ports.ErrNotFound
	}
	if b.PerPeerUsage == nil {
		b.PerPeerUsage = map[string]int64{}
	}
	return b, nil
}

// SaveBudget implements ports.BudgetStore
func (s *Store) SaveBudget(ctx context.Context, b entities.Budget) error {
	return s.save(BudgetFile, b, 0o644)
}

// Settings

// LoadSettings implements ports.SettingsStore
func (s *Store) LoadSettings(ctx context.Context) (entities.Settings, error) {
	settings := entities.DefaultSettings()
	if _, err := s.load(SettingsFile, &settings); err != nil {
		return entities.DefaultSettings(), err
	}
	if settings.Mood == "" {
		settings.Mood = entities.DefaultSettings().Mood
	}
	return settings, nil
}

// SaveSettings implements ports.SettingsStore
func (s *Store) SaveSettings(ctx context.Context, settings entities.Settings) error {
	return s.save(SettingsFile, settings, 0o644)
}

// Context

// ReadContext implements ports.ContextStore
func (s *Store) ReadContext(ctx context.Context) (string, error) {
	unlock := s.lock(ContextFile)
	defer unlock()

	data, err := os.ReadFile(s.Path(ContextFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	return string(data), err
}

// WriteContext implements ports.ContextStore
func (s *Store) WriteContext(ctx context.Context, text string) error {
	unlock := s.lock(ContextFile)
	defer unlock()

	err := WriteFileAtomic(s.Path(ContextFile), []byte(text), 0o644)
	s.metrics.ObserveStoreWrite(ContextFile, err)
	if err != nil {
		return apperrors.NewStorageWriteFailedError(ContextFile, err)
	}
	return nil
}

// Identity

// LoadIdentity implements ports.IdentityStore
func (s *Store) LoadIdentity(ctx context.Context) (entities.Identity, error) {
	var id entities.Identity
	found, err := s.load(IdentityFile, &id)
	if err != nil {
		return entities.Identity{}, err
	}
	if !found {
		return entities.Identity{}, ports.ErrNotFound
	}
	return id, nil
}

// SaveIdentity implements ports.IdentityStore
func (s *Store) SaveIdentity(ctx context.Context, id entities.Identity, doc entities.IdentityDocument) error {
	if err := s.save(IdentityFile, id, 0o644); err != nil {
		return err
	}
	return s.save(DocumentFile, doc, 0o644)
}

// LoadDocument reads the published identity document
func (s *Store) LoadDocument(ctx context.Context) (entities.IdentityDocument, error) {
	var doc entities.IdentityDocument
	found, err := s.load(DocumentFile, &doc)
	if err != nil {
		return entities.IdentityDocument{}, err
	}
	if !found {
		return entities.IdentityDocument{}, ports.ErrNotFound
	}
	return doc, nil
}

var _ ports.EssenceStore = (*Store)(nil)
