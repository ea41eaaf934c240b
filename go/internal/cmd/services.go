package main

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/tempo/go/internal/config"
	"github.com/mcdev12/tempo/go/internal/timer/kvstore"
	"github.com/mcdev12/tempo/go/internal/timer/memstore"
	"github.com/mcdev12/tempo/go/internal/timer/pgstore"
	"github.com/mcdev12/tempo/go/internal/timer/session"
)

// storeBackend is the remote timer store plus whatever keeps it alive
type storeBackend struct {
	Store session.Store
	// Run drives the change feed, if the backend has one of its own
	Run   func(ctx context.Context) error
	close func() error
}

func (b *storeBackend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

func setupStore(ctx context.Context, cfg *config.Config, clock clockwork.Clock) (*storeBackend, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return &storeBackend{Store: memstore.New(clock)}, nil

	case config.BackendPostgres:
		database, err := setupDatabase(ctx, cfg.Database, cfg.MigrateOnStart)
		if err != nil {
			return nil, err
		}

		hubCfg := pgstore.DefaultHubConfig()
		hubCfg.DatabaseURL = cfg.Database.DSN()
		hub, err := pgstore.NewHub(hubCfg, clock)
		if err != nil {
			database.Close()
			return nil, err
		}
		return &storeBackend{
			Store: pgstore.New(database, hub, clock),
			Run:   hub.Run,
			close: database.Close,
		}, nil

	case config.BackendNATS:
		store, err := kvstore.Connect(ctx, cfg.NATS, kvstore.WithClock(clock))
		if err != nil {
			return nil, err
		}
		return &storeBackend{Store: store, close: store.Close}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}
