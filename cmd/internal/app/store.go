package app

import (
	"context"
	"errors"
	"fmt"

	"inbox/cmd/internal/inbox"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// storeHandle pairs the selected inbox.Store with the resources the app owns for it.
//
// Ownership model:
//   - app owns pgx pools and mongo clients (the stores' Close is a no-op)
//   - SQLiteStore owns its *sql.DB and is closed through Store.Close
type storeHandle struct {
	inbox.Store

	backend string
	migrate func(ctx context.Context) error
	release func(ctx context.Context) error
}

// Migrate applies the backend schema or indexes. It is a no-op for the in-memory store.
func (h *storeHandle) Migrate(ctx context.Context) error {
	if h.migrate == nil {
		return nil
	}
	return h.migrate(ctx)
}

// Shutdown closes the store and the connections behind it.
func (h *storeHandle) Shutdown(ctx context.Context) error {
	err := h.Close()
	if h.release != nil {
		err = errors.Join(err, h.release(ctx))
	}
	return err
}

// openStore builds the store selected by cfg.StoreBackend.
func openStore(ctx context.Context, cfg Config, log Logger) (*storeHandle, error) {
	switch cfg.StoreBackend {
	case BackendMemory, "":
		log.Info("store.open", "backend", BackendMemory)
		return &storeHandle{Store: inbox.NewInMemoryStore(), backend: BackendMemory}, nil

	case BackendPostgres:
		return openPostgresStore(ctx, cfg, log)

	case BackendSQLite:
		st, err := inbox.NewSQLiteStore(cfg.SQLitePath, log)
		if err != nil {
			return nil, err
		}
		log.Info("store.open", "backend", BackendSQLite, "path", cfg.SQLitePath)
		return &storeHandle{Store: st, backend: BackendSQLite, migrate: st.EnsureSchema}, nil

	case BackendMongo:
		return openMongoStore(ctx, cfg, log)

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func openPostgresStore(ctx context.Context, cfg Config, log Logger) (*storeHandle, error) {
	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	st, err := inbox.NewPostgresStore(pool, inbox.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, err
	}

	log.Info("store.open", "backend", BackendPostgres, "schema", cfg.DBSchema)
	return &storeHandle{
		Store:   st,
		backend: BackendPostgres,
		migrate: st.EnsureSchema,
		release: closePool(pool),
	}, nil
}

func openMongoStore(ctx context.Context, cfg Config, log Logger) (*storeHandle, error) {
	client, err := NewMongoClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	st, err := inbox.NewMongoStore(client.Database(cfg.MongoDatabase))
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	log.Info("store.open", "backend", BackendMongo, "database", cfg.MongoDatabase)
	return &storeHandle{
		Store:   st,
		backend: BackendMongo,
		migrate: st.EnsureIndexes,
		release: disconnectMongo(client),
	}, nil
}

func closePool(pool *pgxpool.Pool) func(context.Context) error {
	return func(context.Context) error {
		pool.Close()
		return nil
	}
}

func disconnectMongo(client *mongo.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return client.Disconnect(ctx)
	}
}
