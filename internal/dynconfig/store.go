// Package dynconfig lets a running training job observe operator-edited
// cadence parameters (sample/save/log intervals) without a restart. The
// backing YAML file is re-read only when its modification time advances, so
// the per-iteration check is a single stat in the steady state.
package dynconfig

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	FileName = "dynamic_config.yaml"

	KeySampleEvery = "sample_every"
	KeySaveEvery   = "save_every"
	KeyLogEvery    = "log_every"
	keyLastUpdated = "last_updated"

	DefaultSampleEvery = 100
)

// ValidKeys are the cadence parameters an operator may set.
var ValidKeys = []string{KeySampleEvery, KeySaveEvery, KeyLogEvery}

// Store caches the parsed document between modification-time changes. It is
// built for a single caller per job (the training loop); anything needing
// concurrent access must add its own guard.
type Store struct {
	jobID  string
	path   string
	logger *slog.Logger

	lastModified time.Time
	cache        map[string]any
}

// Open places the config file at <rootDir>/<jobID>/dynamic_config.yaml,
// creating it with defaults when absent.
func Open(logger *slog.Logger, jobID, rootDir string) (*Store, error) {
	return OpenPath(logger, jobID, filepath.Join(rootDir, jobID, FileName))
}

// OpenPath is Open with a caller-chosen file location.
func OpenPath(logger *slog.Logger, jobID, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	s := &Store{
		jobID:  jobID,
		path:   path,
		logger: logger,
	}
	if err := s.ensureFile(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) ensureFile() error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	}
	defaults := map[string]any{
		KeySampleEvery: DefaultSampleEvery,
		KeySaveEvery:   nil,
		KeyLogEvery:    nil,
		keyLastUpdated: epochSeconds(),
	}
	if err := s.writeDocument(defaults); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

// GetSampleEvery returns the configured sampling cadence, or def when the
// file holds no valid positive integer.
func (s *Store) GetSampleEvery(def int) int {
	return s.getPositive(KeySampleEvery, def)
}

// GetSaveEvery returns the configured save cadence. Pass 0 when the caller
// has no default; a null or invalid value passes def straight through.
func (s *Store) GetSaveEvery(def int) int {
	return s.getPositive(KeySaveEvery, def)
}

func (s *Store) GetLogEvery(def int) int {
	return s.getPositive(KeyLogEvery, def)
}

func (s *Store) SetSampleEvery(v int) error { return s.Set(KeySampleEvery, v) }
func (s *Store) SetSaveEvery(v int) error   { return s.Set(KeySaveEvery, v) }
func (s *Store) SetLogEvery(v int) error    { return s.Set(KeyLogEvery, v) }

// Set validates and persists one cadence key. The document is loaded fresh
// from disk, not from the cache, so an external edit between reads is not
// clobbered (beyond the one key being set).
func (s *Store) Set(key string, value int) error {
	if !isValidKey(key) {
		return fmt.Errorf("unknown config key %q", key)
	}
	if value <= 0 {
		return fmt.Errorf("%s must be a positive integer, got %d", key, value)
	}
	return s.update(key, value)
}

// Clear writes null for a key, deferring that cadence back to the caller
// default.
func (s *Store) Clear(key string) error {
	if !isValidKey(key) {
		return fmt.Errorf("unknown config key %q", key)
	}
	return s.update(key, nil)
}

func (s *Store) update(key string, value any) error {
	doc, err := s.loadDocument()
	if err != nil {
		return err
	}
	doc[key] = value
	doc[keyLastUpdated] = epochSeconds()
	if err := s.writeDocument(doc); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

// Snapshot loads the document fresh from disk; used by operator tooling.
func (s *Store) Snapshot() (map[string]any, error) {
	return s.loadDocument()
}

// getPositive runs the reload check and coerces the cached value. Anything
// that is not a positive integer (wrong type, negative, null, absent) falls
// back to def; a malformed file must never abort the training loop.
func (s *Store) getPositive(key string, def int) int {
	s.checkAndReload()
	v, ok := s.cache[key]
	if !ok || v == nil {
		return def
	}
	if n, ok := asInt(v); ok && n > 0 {
		return n
	}
	return def
}

// checkAndReload re-parses the file only when its mtime has advanced past
// the last observed one. A missing file is recreated with defaults and the
// cache invalidated, so callers see their defaults until the next check.
func (s *Store) checkAndReload() {
	fi, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := s.ensureFile(); err != nil {
				s.logger.Warn("recreate dynamic config failed", "job_id", s.jobID, "error", err)
			}
			s.lastModified = time.Time{}
			s.cache = nil
			return
		}
		s.logger.Warn("stat dynamic config failed", "job_id", s.jobID, "error", err)
		return
	}

	if !fi.ModTime().After(s.lastModified) {
		return
	}

	doc, err := s.loadDocument()
	if err != nil {
		// Treated as "no update available"; the cache keeps serving.
		s.logger.Warn("reload dynamic config failed", "job_id", s.jobID, "error", err)
		return
	}
	s.cache = doc
	s.lastModified = fi.ModTime()
	s.logger.Info("dynamic config reloaded", "job_id", s.jobID, "config", doc)
}

func (s *Store) loadDocument() (map[string]any, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := s.ensureFile(); err != nil {
				return nil, err
			}
			raw, err = os.ReadFile(s.path)
		}
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	doc := make(map[string]any)
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return doc, nil
}

func (s *Store) writeDocument(doc map[string]any) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(s.path, data, 0o644)
}

func isValidKey(key string) bool {
	for _, k := range ValidKeys {
		if k == key {
			return true
		}
	}
	return false
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	default:
		return 0, false
	}
}

func epochSeconds() float64 {
	return float64(time.Now().UnixMilli()) / 1000.0
}
