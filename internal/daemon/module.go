// Package daemon wires the sync daemon of one profile: the REST client, the
// live channel, the counters, the outbox and the chat store, served over a
// local unix socket.
package daemon

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/matheus3301/crmsync/internal/api"
	"github.com/matheus3301/crmsync/internal/backend"
	"github.com/matheus3301/crmsync/internal/bus"
	"github.com/matheus3301/crmsync/internal/chatstore"
	"github.com/matheus3301/crmsync/internal/config"
	"github.com/matheus3301/crmsync/internal/counters"
	"github.com/matheus3301/crmsync/internal/domain"
	"github.com/matheus3301/crmsync/internal/lock"
	"github.com/matheus3301/crmsync/internal/logging"
	"github.com/matheus3301/crmsync/internal/notify"
	"github.com/matheus3301/crmsync/internal/outbox"
	"github.com/matheus3301/crmsync/internal/profile"
	"github.com/matheus3301/crmsync/internal/realtime"
	"github.com/matheus3301/crmsync/internal/status"
	"github.com/matheus3301/crmsync/internal/store"
)

// OutboxRetention is how long confirmed outbox entries are kept.
const OutboxRetention = 7 * 24 * time.Hour

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	SocketPath  string          // optional override for testing; empty = profile setting
	Profile     *config.Profile // optional; loaded from the profile directory when nil
	LogLevel    zapcore.Level
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideProfile,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideBackend,
			provideNotifier,
			provideCounters,
			provideManager,
			provideSender,
			provideChatStore,
			provideHandler,
			provideServer,
			provideSupervisor,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideProfile(p Params) (*config.Profile, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	cfg := p.Profile
	if cfg == nil {
		loaded, err := profile.Load(p.ProfileName)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		withDefaults := cfg.WithDefaults()
		cfg = &withDefaults
	}
	if p.SocketPath != "" {
		cfg.API.SocketPath = p.SocketPath
	}
	if cfg.API.SocketPath == "" {
		cfg.API.SocketPath = profile.SocketPath(p.ProfileName)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName, p.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired", zap.String("path", l.Path()))
	return l, nil
}

// provideStore depends on the lock so the database is only opened by the
// daemon that owns the profile.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideBackend(cfg *config.Profile, logger *zap.Logger) (*backend.Client, error) {
	return backend.New(backend.Options{
		BaseURL: cfg.Backend.BaseURL,
		Token:   cfg.Identity.Token,
		Timeout: cfg.Backend.RequestTimeout,
		Logger:  logger.Named("backend"),
	})
}

func provideNotifier(b *bus.Bus, logger *zap.Logger) *notify.Notifier {
	return notify.New(b, logger.Named("notice"))
}

func provideCounters(cfg *config.Profile, client *backend.Client, b *bus.Bus, logger *zap.Logger) *counters.Refresher {
	return counters.NewRefresher(client, counters.Options{
		Delay:   cfg.Sync.CountersDelay,
		Window:  cfg.Sync.CountersWindow,
		Timeout: cfg.Backend.RequestTimeout,
		OnChange: func(domain.Counters) {
			b.Emit(bus.KindStoreChanged, "counters")
		},
		Logger: logger.Named("counters"),
	})
}

func provideManager(cfg *config.Profile, db *store.DB, m *status.Machine, logger *zap.Logger) *realtime.Manager {
	ident := cfg.Identity
	return realtime.NewManager(realtime.Options{
		URL: cfg.Backend.SocketURL,
		Identity: func() (realtime.Identity, bool) {
			if !ident.Valid() {
				return realtime.Identity{}, false
			}
			return realtime.Identity{CompanyID: ident.CompanyID, Token: ident.Token}, true
		},
		Checkpoints: db,
		Machine:     m,
		DialTimeout: cfg.Backend.RequestTimeout,
		Logger:      logger.Named("realtime"),
	})
}

func provideSender(db *store.DB, client *backend.Client, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, client, b, logger.Named("outbox"))
}

func provideChatStore(
	cfg *config.Profile,
	client *backend.Client,
	sender *outbox.Sender,
	refresher *counters.Refresher,
	mgr *realtime.Manager,
	n *notify.Notifier,
	b *bus.Bus,
	logger *zap.Logger,
) *chatstore.Store {
	return chatstore.New(chatstore.Options{
		Remote:   client,
		Outbox:   sender,
		Counters: refresher,
		Channel:  mgr,
		Notifier: n,
		Bus:      b,
		Logger:   logger.Named("chatstore"),
		PageSize: cfg.Sync.TicketPageSize,
	})
}

func provideHandler(p Params, s *chatstore.Store, m *status.Machine, b *bus.Bus, logger *zap.Logger) *api.Handler {
	return api.NewHandler(p.ProfileName, s, m, b, logger.Named("api"))
}

func provideServer(cfg *config.Profile, h *api.Handler, logger *zap.Logger) (*Server, error) {
	return NewServer(cfg.API.SocketPath, h, logger)
}

func provideSupervisor(cfg *config.Profile, mgr *realtime.Manager, b *bus.Bus, logger *zap.Logger) *Supervisor {
	return NewSupervisor(mgr, b, cfg.Reconnect.InitialBackoff, cfg.Reconnect.MaxBackoff, logger.Named("supervisor"))
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	sup *Supervisor,
	lk *lock.Lock,
	db *store.DB,
	mgr *realtime.Manager,
	refresher *counters.Refresher,
	sender *outbox.Sender,
	cs *chatstore.Store,
	logger *zap.Logger,
) {
	bootCtx, cancelBoot := context.WithCancel(context.Background())
	var boot sync.WaitGroup

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("api server error", zap.Error(err))
				}
			}()

			// The supervisor must be listening before the first dial so a
			// failed one is retried.
			sup.Start()

			if n, err := sender.Prune(OutboxRetention); err != nil {
				logger.Warn("prune outbox", zap.Error(err))
			} else if n > 0 {
				logger.Info("outbox pruned", zap.Int64("entries", n))
			}

			boot.Add(1)
			go func() {
				defer boot.Done()
				if err := cs.Initialize(bootCtx); err != nil {
					logger.Error("initial connect failed", zap.Error(err))
				}
				_ = cs.SetTab(bootCtx, domain.StatusOpen)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancelBoot()
			boot.Wait()
			sup.Stop()
			mgr.Disconnect()
			cs.Close()
			refresher.Close()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
