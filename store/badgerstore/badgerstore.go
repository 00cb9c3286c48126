// Package badgerstore keeps a store.Store in an embedded badger database.
//
// Entries are stored under "<section>\x00<key>", so a section is a key prefix
// and both Keys and Sections come out of a sorted prefix scan.
package badgerstore

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/c360/gii/errors"
	"github.com/c360/gii/store"
)

const sep = "\x00"

// Config holds the database configuration
type Config struct {
	// Path is the database directory, ignored when InMemory is set
	Path string `yaml:"path"`
	// InMemory keeps everything in memory
	InMemory bool `yaml:"in_memory"`
	// SyncWrites syncs every write to disk
	SyncWrites bool `yaml:"sync_writes"`
	// GCInterval is how often the value log is garbage collected, 0 disables
	GCInterval time.Duration `yaml:"gc_interval"`
	// GCDiscardRatio is the share of garbage that triggers a value log rewrite
	GCDiscardRatio float64 `yaml:"gc_discard_ratio"`
	// Logger receives badger's own log output. Nil silences it.
	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns the configuration for a persistent database
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns the configuration used in tests
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Store is a store.Store on top of badger
type Store struct {
	db     *badger.DB
	logger *slog.Logger
	stop   chan struct{}
	done   chan struct{}
}

var _ store.Store = (*Store)(nil)

// Open opens the database described by cfg
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Store", "Open", "check path")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, errors.WrapTransient(err, "Store", "Open", "create "+cfg.Path)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "Open", "open badger database")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger.With("component", "badgerstore")}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

// Close stops garbage collection and closes the database
func (s *Store) Close() error {
	if s.stop != nil {
		close(s.stop)
		<-s.done
	}
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, "Store", "Close", "close badger database")
	}
	return nil
}

func (s *Store) runGC(interval time.Duration, ratio float64) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !stderrors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("Value log GC failed", "error", err)
			}
		}
	}
}

func entryKey(section, key string) []byte {
	return []byte(section + sep + key)
}

// Get returns the value of key in section
func (s *Store) Get(section, key string) (string, bool) {
	var value string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(section, key))
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		value = string(raw)
		return err
	})
	if err != nil {
		if !stderrors.Is(err, badger.ErrKeyNotFound) {
			s.logger.Warn("Read failed", "section", section, "key", key, "error", err)
		}
		return "", false
	}
	return value, true
}

// Set writes the value of key in section
func (s *Store) Set(section, key, value string) error {
	if section == "" || key == "" || strings.Contains(section, sep) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Store", "Set", "validate section and key")
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(section, key), []byte(value))
	})
	if err != nil {
		return errors.WrapTransient(err, "Store", "Set", "write "+section+"/"+key)
	}
	return nil
}

// Delete removes key from section
func (s *Store) Delete(section, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(section, key))
	})
	if err != nil {
		return errors.WrapTransient(err, "Store", "Delete", "delete "+section+"/"+key)
	}
	return nil
}

// Keys returns the keys of section in lexicographic order
func (s *Store) Keys(section string) []string {
	prefix := []byte(section + sep)
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("Key scan failed", "section", section, "error", err)
	}
	return keys
}

// Sections returns the non empty sections in lexicographic order
func (s *Store) Sections() []string {
	var sections []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); {
			k := string(it.Item().Key())
			i := strings.Index(k, sep)
			if i < 0 {
				it.Next()
				continue
			}
			section := k[:i]
			sections = append(sections, section)
			// Skip the rest of the section.
			it.Seek([]byte(section + "\x01"))
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("Section scan failed", "error", err)
	}
	return sections
}
