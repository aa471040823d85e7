package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/cassiomorais/pospay/internal/application/checkout"
	"github.com/cassiomorais/pospay/internal/controller"
	"github.com/cassiomorais/pospay/internal/domain/payment"
	"github.com/cassiomorais/pospay/internal/infrastructure/config"
	"github.com/cassiomorais/pospay/internal/infrastructure/observability"
	"github.com/cassiomorais/pospay/internal/infrastructure/providers"
	infraRedis "github.com/cassiomorais/pospay/internal/infrastructure/redis"
	"github.com/cassiomorais/pospay/internal/repository/memory"
	"github.com/cassiomorais/pospay/internal/repository/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const releaseTimeout = 5 * time.Second

// App is one running station: its checkout core, the backends it was
// configured with and the HTTP handler exposing it.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics

	Registry     *payment.Registry
	Orchestrator *checkout.Orchestrator
	Gate         *checkout.SaleGate
	Locks        *checkout.LockManager
	Lease        *infraRedis.StationLease
	Router       http.Handler

	shutdownTracer func(context.Context) error
}

func New(ctx context.Context, serviceName string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	logger = observability.StationLogger(logger, cfg.Station.ID, serviceName)
	logger.Info().Str("provider", cfg.Station.Provider).Msg("Starting")

	app := &App{Config: cfg, Logger: logger}
	if err := app.init(ctx, serviceName); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) init(ctx context.Context, serviceName string) error {
	cfg := a.Config

	if cfg.Observability.EnableTracing {
		shutdown, err := observability.InitTracer(serviceName, cfg.Station.ID, cfg.Observability.JaegerEndpoint)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		} else {
			a.shutdownTracer = shutdown
			a.Logger.Info().Msg("Tracing enabled")
		}
	}

	var reg prometheus.Registerer = prometheus.DefaultRegisterer
	if !cfg.Observability.EnableMetrics {
		reg = prometheus.NewRegistry()
	}
	a.Metrics = observability.NewMetrics("pospay", reg)

	if cfg.UsesDatabase() {
		pool, err := postgres.NewPool(ctx, &cfg.Database, a.Logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		a.Pool = pool
		a.Logger.Info().Msg("Connected to PostgreSQL")
	}

	if cfg.UsesRedis() {
		client, err := infraRedis.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		a.Redis = client
		a.Logger.Info().Msg("Connected to Redis")

		a.Lease = infraRedis.NewStationLease(client, cfg.Redis.KeyPrefix, cfg.Station.ID, cfg.Station.LeaseTTL)
		if err := a.Lease.AcquireWithRetry(ctx, 3, cfg.Station.LeaseTTL/3); err != nil {
			return fmt.Errorf("acquire station lease: %w", err)
		}
		a.Logger.Info().Dur("ttl", cfg.Station.LeaseTTL).Msg("Station lease acquired")
	}

	terminal, err := NewTerminal(cfg, a.Metrics)
	if err != nil {
		return err
	}

	store, err := a.lockStore()
	if err != nil {
		return err
	}

	var (
		observers checkout.MultiObserver
		hooks     []checkout.FinalizeHook
		audit     controller.AuditReader
	)
	if cfg.Storage.AuditEnabled {
		events := postgres.NewEventRepository(a.Pool)
		trail := checkout.NewAuditTrail(cfg.Station.ID, events, a.Logger)
		observers = append(observers, trail)
		hooks = append(hooks, trail)
		audit = events
	}
	if cfg.Storage.StreamEnabled {
		publisher := infraRedis.NewStreamPublisher(a.Redis, cfg.Station.ID, cfg.Storage.StreamMaxLen, a.Logger)
		observers = append(observers, publisher)
		hooks = append(hooks, publisher)
	}

	channels := checkout.NewChannels(terminal, cfg.Station.TerminalHint)
	a.Locks = checkout.NewLockManager(cfg.Station.ID, channels.Releaser(), store, observers, a.Metrics, a.Logger)

	policy := checkout.NewPolicy(cfg.Station.TimeoutSeconds)
	policy.PollInterval = cfg.Station.PollInterval
	policy.BusyRetryAttempts = cfg.Station.BusyRetryAttempts
	policy.BusyRetryDelay = cfg.Station.BusyRetryDelay

	a.Registry = payment.NewRegistry(cfg.Station.PaymentMethods())
	a.Orchestrator = checkout.NewOrchestrator(cfg.Station.ID, channels, a.Locks, policy, a.Logger,
		checkout.WithObserver(observers),
		checkout.WithMetrics(a.Metrics),
		checkout.WithDescription(cfg.Station.Description),
	)
	a.Gate = checkout.NewSaleGate(a.Orchestrator, a.Locks, a.Metrics, a.Logger, hooks...)

	// Report a lock left by a previous run before taking traffic.
	lock, err := a.Locks.State(ctx)
	if err != nil {
		return fmt.Errorf("load terminal lock: %w", err)
	}
	if lock.Active {
		a.Logger.Warn().Str("reference", lock.Reference).Time("engaged_at", lock.EngagedAt).Msg("Station starts locked")
	}

	routerDeps := controller.RouterDeps{
		Pool:         a.Pool,
		Registry:     a.Registry,
		Orchestrator: a.Orchestrator,
		Gate:         a.Gate,
		Locks:        a.Locks,
		Audit:        audit,
		Metrics:      a.Metrics,
		Logger:       a.Logger,
		Server:       cfg.Server,
		Station:      cfg.Station,
		Auth:         cfg.Auth,
	}
	if a.Redis != nil {
		routerDeps.RedisClient = a.Redis
	}
	a.Router = controller.NewRouter(routerDeps)
	return nil
}

func (a *App) lockStore() (payment.LockStore, error) {
	switch a.Config.Storage.LockStore {
	case config.LockStoreRedis:
		return infraRedis.NewLockStore(a.Redis, a.Config.Redis.KeyPrefix), nil
	case config.LockStorePostgres:
		return postgres.NewLockStore(a.Pool, postgres.NewTxManager(a.Pool)), nil
	case config.LockStoreMemory, "":
		a.Logger.Warn().Msg("Terminal lock kept in memory; a restart forgets it")
		return memory.NewLockStore(), nil
	}
	return nil, fmt.Errorf("unknown lock store %q", a.Config.Storage.LockStore)
}

// NewTerminal builds the configured provider behind its circuit breaker. It
// returns nil for a station without a provider.
func NewTerminal(cfg *config.Config, metrics *observability.Metrics) (providers.Terminal, error) {
	pc := cfg.Providers

	var p providers.Terminal
	switch cfg.Station.Provider {
	case config.ProviderNone, "":
		return nil, nil
	case config.ProviderMock:
		p = providers.NewMockTerminal("mock",
			providers.WithLatency(pc.Mock.Latency),
			providers.WithApproveAfter(pc.Mock.ApproveAfter),
			providers.WithFailureRate(pc.Mock.FailureRate),
			providers.WithDeclineRate(pc.Mock.DeclineRate),
			providers.WithCancelResult(pc.Mock.CancelOK),
		)
	case config.ProviderMercadoPago:
		mp, err := providers.NewMercadoPago(providers.MercadoPagoSettings{
			BaseURL:     pc.MercadoPago.BaseURL,
			AccessToken: pc.MercadoPago.AccessToken,
			PixPOSID:    pc.MercadoPago.PixPOSID,
			Timeout:     pc.RequestTimeout,
		})
		if err != nil {
			return nil, err
		}
		p = mp
	case config.ProviderStone:
		st, err := providers.NewStone(providers.StoneSettings{
			ClientID:     pc.Stone.ClientID,
			ClientSecret: pc.Stone.ClientSecret,
			Environment:  pc.Stone.Environment,
			Homologacao:  stoneURLs(pc.Stone.URLs(providers.StoneHomologacao)),
			Producao:     stoneURLs(pc.Stone.URLs(providers.StoneProducao)),
			Timeout:      pc.RequestTimeout,
		})
		if err != nil {
			return nil, err
		}
		p = st
	default:
		return nil, fmt.Errorf("station provider %q: %w", cfg.Station.Provider, errors.ErrUnsupported)
	}

	factory := providers.NewFactoryWithBreaker(providers.BreakerSettings{
		Threshold: pc.CircuitBreakerThreshold,
		Timeout:   pc.CircuitBreakerTimeout,
		Metrics:   metrics,
	}, p)
	return factory.Guarded(p.Name())
}

func stoneURLs(c config.StoneURLConfig) providers.StoneURLs {
	return providers.StoneURLs{
		Auth:    c.AuthURL,
		Payment: c.PaymentURL,
		Status:  c.StatusURL,
		Cancel:  c.CancelURL,
	}
}

// KeepLease extends the station lease until ctx is done. It returns an error
// when the lease is lost to another process.
func (a *App) KeepLease(ctx context.Context) error {
	if a.Lease == nil {
		<-ctx.Done()
		return nil
	}
	return a.Lease.KeepAlive(ctx, a.Logger)
}

func (a *App) Close() {
	if a.Orchestrator != nil {
		a.Orchestrator.Close()
	}
	if a.Lease != nil {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		if err := a.Lease.Release(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to release station lease")
		}
		cancel()
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.shutdownTracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		if err := a.shutdownTracer(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to flush traces")
		}
		cancel()
	}
}
