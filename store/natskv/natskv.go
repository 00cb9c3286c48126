// Package natskv keeps a store.Store in a NATS JetStream key/value bucket so
// several daemons share one set of conversion tables.
//
// Reads are served from a local cache that Load fills and Watch keeps current.
// Writes go to the bucket first and update the cache once accepted. Sections
// and keys are base64url encoded since bucket keys only allow a narrow
// alphabet, and joined with a dot.
package natskv

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/gii/errors"
	"github.com/c360/gii/natsclient"
	"github.com/c360/gii/store"
)

// Bucket is the part of natsclient.KVStore the store needs
type Bucket interface {
	Get(ctx context.Context, key string) (*natsclient.KVEntry, error)
	UpdateWithRetry(ctx context.Context, key string, updateFn func(current []byte) ([]byte, error)) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Watch(ctx context.Context, pattern string) (jetstream.KeyWatcher, error)
}

var _ Bucket = (*natsclient.KVStore)(nil)

// Store is a store.Store on top of a bucket
type Store struct {
	cache  *store.Memory
	bucket Bucket
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a store over bucket. The cache starts empty; call Load.
func New(bucket Bucket, opts ...Option) *Store {
	s := &Store{
		cache:  store.NewMemory(),
		bucket: bucket,
		logger: slog.Default().With("component", "natskv"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var encoding = base64.RawURLEncoding

// EncodeKey returns the bucket key of section and key
func EncodeKey(section, key string) string {
	return encoding.EncodeToString([]byte(section)) + "." + encoding.EncodeToString([]byte(key))
}

// DecodeKey splits a bucket key into section and key
func DecodeKey(k string) (section, key string, err error) {
	a, b, ok := strings.Cut(k, ".")
	if !ok {
		return "", "", errors.WrapInvalid(errors.ErrInvalidData, "Store", "DecodeKey", "split "+k)
	}
	sec, err := encoding.DecodeString(a)
	if err != nil {
		return "", "", errors.WrapInvalid(err, "Store", "DecodeKey", "decode section")
	}
	name, err := encoding.DecodeString(b)
	if err != nil {
		return "", "", errors.WrapInvalid(err, "Store", "DecodeKey", "decode key")
	}
	return string(sec), string(name), nil
}

// Load replaces the cache with the bucket content and reports whether it changed
func (s *Store) Load(ctx context.Context) (bool, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		return false, errors.WrapTransient(err, "Store", "Load", "list keys")
	}
	d := store.Data{}
	for _, k := range keys {
		section, key, err := DecodeKey(k)
		if err != nil {
			s.logger.Warn("Skipping foreign key", "key", k, "error", err)
			continue
		}
		entry, err := s.bucket.Get(ctx, k)
		if stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
			continue
		}
		if err != nil {
			return false, errors.WrapTransient(err, "Store", "Load", "get "+k)
		}
		if d[section] == nil {
			d[section] = map[string]string{}
		}
		d[section][key] = string(entry.Value)
	}
	return s.cache.Replace(d), nil
}

// Watch applies bucket changes to the cache until ctx is done and calls onChange
// after each change made by another writer. The initial values are applied
// without a call.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	w, err := s.bucket.Watch(ctx, ">")
	if err != nil {
		return errors.WrapTransient(err, "Store", "Watch", "watch bucket")
	}
	defer func() { _ = w.Stop() }()

	initial := true
	for {
		select {
		case <-ctx.Done():
			return nil
		case entry, ok := <-w.Updates():
			if !ok {
				return nil
			}
			if entry == nil {
				initial = false
				continue
			}
			if s.apply(entry) && !initial && onChange != nil {
				onChange()
			}
		}
	}
}

// apply mirrors entry into the cache and reports whether the cache changed
func (s *Store) apply(entry jetstream.KeyValueEntry) bool {
	section, key, err := DecodeKey(entry.Key())
	if err != nil {
		return false
	}
	old, had := s.cache.Get(section, key)
	switch entry.Operation() {
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		if !had {
			return false
		}
		_ = s.cache.Delete(section, key)
		return true
	default:
		value := string(entry.Value())
		if had && old == value {
			return false
		}
		_ = s.cache.Set(section, key, value)
		return true
	}
}

// Get returns the cached value of key in section
func (s *Store) Get(section, key string) (string, bool) {
	return s.cache.Get(section, key)
}

// Set writes the value to the bucket with a compare and swap, then to the cache
func (s *Store) Set(section, key, value string) error {
	if section == "" || key == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Store", "Set", "validate section and key")
	}
	err := s.bucket.UpdateWithRetry(context.Background(), EncodeKey(section, key), func([]byte) ([]byte, error) {
		return []byte(value), nil
	})
	if err != nil {
		return errors.WrapTransient(err, "Store", "Set", "put "+section+"/"+key)
	}
	return s.cache.Set(section, key, value)
}

// Delete removes the key from the bucket and the cache
func (s *Store) Delete(section, key string) error {
	err := s.bucket.Delete(context.Background(), EncodeKey(section, key))
	if err != nil && !stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
		return errors.WrapTransient(err, "Store", "Delete", "delete "+section+"/"+key)
	}
	return s.cache.Delete(section, key)
}

// Keys returns the cached keys of section
func (s *Store) Keys(section string) []string {
	return s.cache.Keys(section)
}

// Sections returns the cached sections
func (s *Store) Sections() []string {
	return s.cache.Sections()
}
