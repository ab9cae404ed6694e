package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/aretw0/docket/internal/adapters/file"
	redisstore "github.com/aretw0/docket/internal/adapters/redis"
	"github.com/aretw0/docket/internal/adapters/sqlite"
	"github.com/aretw0/docket/internal/backend/storage"
	"github.com/aretw0/docket/internal/config"
	"github.com/aretw0/docket/pkg/adapters/memory"
	redislock "github.com/aretw0/docket/pkg/adapters/redis"
	"github.com/aretw0/docket/pkg/persistence/middleware"
	"github.com/aretw0/docket/pkg/ports"
	"github.com/aretw0/docket/pkg/session"
)

// lockPrefix namespaces the distributed session locks.
const lockPrefix = "docket:lock:"

// Persistence bundles the session store with its optional collaborators.
type Persistence struct {
	Store  ports.SnapshotStore
	Locker ports.DistributedLocker
	// Pruner is set when the store can drop stale sessions itself.
	Pruner ports.Pruner

	closers []io.Closer
}

// Close releases the underlying connections.
func (p *Persistence) Close() error {
	var first error
	for _, c := range p.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// OpenPersistence builds the snapshot store described by cfg, wrapped in the
// masking and encryption middlewares when configured.
func OpenPersistence(cfg config.StoreConfig, logger *slog.Logger) (*Persistence, error) {
	p := &Persistence{}

	switch cfg.Driver {
	case config.StoreMemory:
		p.Store = memory.NewStore()
	case config.StoreFile:
		s := file.New(cfg.Path)
		p.Store = s
		p.Pruner = s
	case config.StoreSQLite:
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		p.Store = s
		p.Pruner = s
		p.closers = append(p.closers, s)
	case config.StoreRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		var opts []redisstore.Option
		if cfg.TTL > 0 {
			opts = append(opts, redisstore.WithTTL(cfg.TTL))
		}
		s := redisstore.NewFromClient(client, opts...)
		p.Store = s
		p.Pruner = s
		if cfg.DistributedLock {
			p.Locker = redislock.NewLocker(client, lockPrefix)
		}
		p.closers = append(p.closers, client)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	var mws []middleware.Middleware
	if len(cfg.Mask) > 0 {
		mws = append(mws, middleware.NewPIIMiddleware(cfg.Mask))
	}
	active, fallbacks, err := cfg.Keys()
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	if active != nil {
		mws = append(mws, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
			ActiveKey:    active,
			FallbackKeys: fallbacks,
		}))
	}
	p.Store = middleware.Chain(p.Store, mws...)

	logger.Debug("session store ready",
		"driver", cfg.Driver,
		"masked", len(cfg.Mask) > 0,
		"encrypted", active != nil,
		"distributed_lock", p.Locker != nil,
	)
	return p, nil
}

// OpenSink builds the destination the reference backend writes to.
func OpenSink(ctx context.Context, cfg config.SinkConfig) (storage.Sink, func() error, error) {
	switch cfg.Driver {
	case config.SinkGCS:
		g, err := storage.NewGCS(ctx, storage.GCSConfig{
			Bucket:          cfg.GCS.Bucket,
			Prefix:          cfg.GCS.Prefix,
			CredentialsFile: cfg.GCS.CredentialsFile,
			EmulatorHost:    cfg.GCS.EmulatorHost,
		})
		if err != nil {
			return nil, nil, err
		}
		return g, g.Close, nil
	default:
		l, err := storage.NewLocal(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return l, func() error { return nil }, nil
	}
}

// NewManager assembles a session manager over the given backend.
func NewManager(p *Persistence, backend ports.Backend, cfg session.Config, logger *slog.Logger, opts ...session.Option) *session.Manager {
	base := []session.Option{session.WithLogger(logger)}
	if p.Locker != nil {
		base = append(base, session.WithLocker(p.Locker))
	}
	return session.NewManager(p.Store, backend, cfg, append(base, opts...)...)
}
