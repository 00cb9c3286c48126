package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/gii/config"
	"github.com/c360/gii/natsclient"
	"github.com/c360/gii/pkg/retry"
	"github.com/c360/gii/store"
	"github.com/c360/gii/store/badgerstore"
	"github.com/c360/gii/store/natskv"
	"github.com/c360/gii/store/yamlstore"
)

// tableStore is the conversion table backend selected by the configuration
type tableStore struct {
	store.Store
	// watch blocks until ctx is done and calls onChange after external edits, nil when unsupported
	watch func(ctx context.Context, onChange func()) error
	// flush persists pending changes, nil when every write is durable
	flush func() error
	close func() error
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*tableStore, error) {
	logger = logger.With("store", cfg.Backend)
	switch cfg.Backend {
	case "", "memory":
		return &tableStore{Store: store.NewMemory()}, nil

	case "yaml":
		f, err := yamlstore.Open(cfg.Path, yamlstore.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		ts := &tableStore{Store: f, flush: f.Save}
		if cfg.Watch {
			ts.watch = f.Watch
		}
		return ts, nil

	case "badger":
		bcfg := badgerstore.DefaultConfig()
		bcfg.Path = cfg.Path
		bcfg.Logger = logger
		db, err := badgerstore.Open(bcfg)
		if err != nil {
			return nil, err
		}
		return &tableStore{Store: db, close: db.Close}, nil

	case "nats":
		return openNATSStore(ctx, cfg, logger)
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

func openNATSStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*tableStore, error) {
	client, err := natsclient.NewClient(cfg.NATSURL,
		natsclient.WithName(appName), natsclient.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if _, err := retry.DoWithResult(ctx, retry.Connect(), func() (struct{}, error) {
		return struct{}{}, client.Connect(ctx)
	}); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	bucketCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	kv, err := client.CreateKeyValueBucket(bucketCtx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "GII unit conversion tables",
		History:     1,
	})
	if err != nil {
		_ = client.Close(ctx)
		return nil, err
	}

	st := natskv.New(client.NewKVStore(kv), natskv.WithLogger(logger))
	if _, err := st.Load(bucketCtx); err != nil {
		_ = client.Close(ctx)
		return nil, err
	}
	ts := &tableStore{
		Store: st,
		close: func() error { return client.Close(context.Background()) },
	}
	if cfg.Watch {
		ts.watch = st.Watch
	}
	return ts, nil
}

func (ts *tableStore) Flush() error {
	if ts.flush == nil {
		return nil
	}
	return ts.flush()
}

func (ts *tableStore) Close() error {
	if ts.close == nil {
		return nil
	}
	return ts.close()
}
