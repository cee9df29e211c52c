// Package app wires the service components together and owns their lifecycle.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/Proton-105/hashpay/internal/activity"
	"github.com/Proton-105/hashpay/internal/api"
	"github.com/Proton-105/hashpay/internal/broadcast"
	"github.com/Proton-105/hashpay/internal/database"
	apperrors "github.com/Proton-105/hashpay/internal/errors"
	"github.com/Proton-105/hashpay/internal/gateway"
	"github.com/Proton-105/hashpay/internal/health"
	"github.com/Proton-105/hashpay/internal/idempotency"
	"github.com/Proton-105/hashpay/internal/jobs"
	"github.com/Proton-105/hashpay/internal/jobs/handlers"
	"github.com/Proton-105/hashpay/internal/ledger"
	"github.com/Proton-105/hashpay/internal/lifecycle"
	"github.com/Proton-105/hashpay/internal/middleware"
	"github.com/Proton-105/hashpay/internal/notify"
	"github.com/Proton-105/hashpay/internal/payout"
	"github.com/Proton-105/hashpay/internal/push"
	"github.com/Proton-105/hashpay/internal/ratelimit"
	"github.com/Proton-105/hashpay/internal/registry"
	"github.com/Proton-105/hashpay/internal/repository"
	"github.com/Proton-105/hashpay/internal/telemetry"
	"github.com/Proton-105/hashpay/internal/user"
	"github.com/Proton-105/hashpay/internal/usercache"
	"github.com/Proton-105/hashpay/pkg/config"
	"github.com/Proton-105/hashpay/pkg/graceful"
	"github.com/Proton-105/hashpay/pkg/metrics"
	appredis "github.com/Proton-105/hashpay/pkg/redis"
)

const (
	userCacheTTL            = 5 * time.Minute
	connectionMetricsPeriod = 15 * time.Second
	limiterCleanupInterval  = time.Minute
)

// App holds every long-lived component of a running service.
type App struct {
	cfg   *config.Config
	viper *viper.Viper
	log   *slog.Logger

	db    *sql.DB
	redis *appredis.Client

	registry   *registry.Registry
	processor  *payout.Processor
	reconciler *payout.Reconciler
	scheduler  *broadcast.Scheduler
	poller     *payout.Poller
	users      *user.Service
	probes     *lifecycle.Probes
	server     *graceful.Server

	memLimiter *ratelimit.MemoryLimiter
	cleaner    *ratelimit.Cleaner
	collector  *metrics.ConnectionCollector

	jobManager   jobs.Manager
	jobWorker    jobs.Worker
	jobScheduler jobs.Scheduler

	closers []func() error
}

// New builds the application from cfg. v enables hot reload when non-nil.
func New(ctx context.Context, cfg *config.Config, v *viper.Viper, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	a := &App{cfg: cfg, viper: v, log: log}
	if err := a.build(ctx); err != nil {
		a.closeAll()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg

	if cfg.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			SampleRate:  cfg.Sentry.SampleRate,
		}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		a.closers = append(a.closers, func() error {
			sentry.Flush(2 * time.Second)
			return nil
		})
	}

	if cfg.Database.Enabled {
		db, err := database.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
	}

	if cfg.Redis.Enabled {
		client, err := appredis.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		a.redis = client
		a.closers = append(a.closers, client.Close)
	}

	userRepo, payoutRepo, activityRepo := a.repositories()

	l, err := a.ledger()
	if err != nil {
		return err
	}

	gw, err := a.gateway()
	if err != nil {
		return err
	}

	notifier, err := notify.New(cfg.Notify, a.log.With(slog.String("component", "notify")))
	if err != nil {
		return err
	}

	params, err := user.NetworkParams(cfg.Payout.BitcoinNetwork)
	if err != nil {
		return err
	}

	activityLog := activity.NewLog(activityRepo, a.log.With(slog.String("component", "activity")))

	var opts []payout.Option
	opts = append(opts, payout.WithNotifier(notifier))
	if cfg.Jobs.Enabled && a.redis != nil {
		a.jobManager = jobs.NewManager(a.asynqOpt(), a.log.With(slog.String("component", "jobs")))
		a.closers = append(a.closers, a.jobManager.Close)
		opts = append(opts, payout.WithStatusEnqueuer(jobs.NewStatusQueue(a.jobManager, a.log)))
	}

	a.processor = payout.NewProcessor(userRepo, payoutRepo, l, gw, activityLog,
		payout.PolicyFromConfig(cfg.Payout), a.log.With(slog.String("component", "payout")), opts...)
	a.reconciler = payout.NewReconciler(payoutRepo, l, gw, activityLog, a.processor, notifier,
		a.log.With(slog.String("component", "reconciler")))

	var pollerOpts []payout.PollerOption
	if a.jobManager != nil {
		a.setupJobs()
	} else {
		pollerOpts = append(pollerOpts, payout.WithSweep(a.reconciler))
	}

	a.registry = registry.New(a.log.With(slog.String("component", "registry")))
	a.scheduler = broadcast.NewScheduler(a.registry, telemetry.NewGenerator(cfg.Telemetry), l, a.processor,
		activityLog, cfg.Broadcast, a.log.With(slog.String("component", "broadcast")))
	a.poller = payout.NewPoller(userRepo, a.processor, cfg.Payout.PollInterval, cfg.Payout.PollConcurrency,
		a.log.With(slog.String("component", "poller")), pollerOpts...)
	a.collector = metrics.NewConnectionCollector(a.registry, connectionMetricsPeriod)

	var cache *usercache.Cache
	if a.redis != nil {
		cache = usercache.NewCache(a.redis.Client, userCacheTTL)
	}
	a.users = user.NewService(userRepo, payoutRepo, l, gw, activityLog, cache, params,
		boundsFrom(cfg.Payout), a.log.With(slog.String("component", "user")))

	checker := health.NewChecker(a.log)
	if a.db != nil {
		checker.AddCheck("postgres", health.NewDBChecker(a.db))
	}
	if a.redis != nil {
		checker.AddCheck("redis", health.NewRedisChecker(a.redis))
	}
	checker.AddCheck("gateway", health.NewGatewayChecker(gw))
	a.probes = lifecycle.NewProbes(checker, a.log)

	rateLimit, err := a.rateLimit()
	if err != nil {
		return err
	}

	var idem *middleware.IdempotencyMiddleware
	if a.redis != nil {
		store := idempotency.NewRedisStore(a.redis.Client, a.log)
		idem = middleware.NewIdempotencyMiddleware(idempotency.NewManager(store, a.log), cfg.Server.IdempotencyTTL, a.log)
	}

	router := api.NewRouter(api.Deps{
		Users:       a.users,
		Probes:      a.probes,
		Push:        push.NewServer(a.registry, userRepo, cfg.Push, a.log.With(slog.String("component", "push"))),
		RateLimit:   rateLimit,
		Idempotency: idem,
		Errors:      apperrors.NewHandler(a.log, cfg.Sentry.Enabled),
		Log:         a.log.With(slog.String("component", "http")),
	})

	a.server = graceful.NewServer(a.log, &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}, cfg.Server.ShutdownTimeout)

	return nil
}

func (a *App) repositories() (repository.UserRepository, repository.PayoutRepository, repository.ActivityRepository) {
	if a.db == nil {
		a.log.Info("using in-memory repositories")
		return repository.NewMemoryUserRepository(), repository.NewMemoryPayoutRepository(), repository.NewMemoryActivityRepository()
	}
	return repository.NewUserRepository(a.db, a.log),
		repository.NewPayoutRepository(a.db, a.log),
		repository.NewActivityRepository(a.db, a.log)
}

func (a *App) ledger() (ledger.Ledger, error) {
	var l ledger.Ledger
	switch a.cfg.Ledger.Backend {
	case "postgres":
		if a.db == nil {
			return nil, fmt.Errorf("ledger backend postgres requires database.enabled")
		}
		l = ledger.NewPostgresLedger(a.db, a.log)
	case "redis":
		if a.redis == nil {
			return nil, fmt.Errorf("ledger backend redis requires redis.enabled")
		}
		l = ledger.NewRedisLedger(a.redis.Client, a.log)
	default:
		l = ledger.NewMemoryLedger()
	}

	if a.cfg.Ledger.Lock {
		if a.redis == nil {
			return nil, fmt.Errorf("ledger lock requires redis.enabled")
		}
		l = ledger.NewLocked(l, a.redis.Client, a.cfg.Ledger.LockTTL, a.log)
	}

	a.log.Info("ledger ready", slog.String("backend", a.cfg.Ledger.Backend), slog.Bool("locked", a.cfg.Ledger.Lock))
	return l, nil
}

// gateway always returns a breaker so health checks can read its state.
func (a *App) gateway() (*gateway.Breaker, error) {
	log := a.log.With(slog.String("component", "gateway"))

	if !a.cfg.Gateway.Configured() {
		log.Info("payout gateway credentials missing, automatic payouts disabled")
		return gateway.NewBreaker(gateway.NewDisabled(gateway.FallbackPrices(a.cfg.Gateway.Fallback)), log), nil
	}

	var cache gateway.PriceCache
	if a.redis != nil {
		cache = appredis.NewMetricsClient(a.redis)
	}

	client, err := gateway.NewExchangeClient(a.cfg.Gateway, cache, log)
	if err != nil {
		return nil, fmt.Errorf("build exchange client: %w", err)
	}
	return gateway.NewBreaker(client, log), nil
}

func (a *App) asynqOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	}
}

func (a *App) setupJobs() {
	log := a.log.With(slog.String("component", "jobs"))

	a.jobWorker = jobs.NewWorker(a.asynqOpt(), a.cfg.Jobs.Concurrency, a.cfg.Jobs.Queues, log)
	a.jobWorker.RegisterHandler(jobs.TaskTypePayoutStatus, handlers.NewPayoutStatusHandler(a.reconciler, log))
	a.jobWorker.RegisterHandler(jobs.TaskTypePayoutSweep, handlers.NewPayoutSweepHandler(a.reconciler, log))

	if a.cfg.Jobs.ReconcileCron != "" {
		a.jobScheduler = jobs.NewScheduler(a.asynqOpt(), a.cfg.Jobs.ReconcileCron, a.cfg.Payout.StatusCheckDelay, log)
	}
}

func (a *App) rateLimit() (*middleware.RateLimitMiddleware, error) {
	if !a.cfg.RateLimit.Enabled {
		return nil, nil
	}

	rules, err := ratelimit.NewRules(a.cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("rate limit rules: %w", err)
	}

	log := a.log.With(slog.String("component", "ratelimit"))
	a.memLimiter = ratelimit.NewMemoryLimiter(log)

	var limiter ratelimit.Limiter = a.memLimiter
	if a.cfg.RateLimit.Backend == "redis" && a.redis != nil {
		limiter = ratelimit.NewAdaptiveLimiter(ratelimit.NewRedisLimiter(a.redis.Client, log), a.memLimiter, log)
		a.cleaner = ratelimit.NewCleaner(a.redis.Client, limiterCleanupInterval, rules.MaxWindow(), log)
	}

	return middleware.NewRateLimitMiddleware(limiter, rules, log), nil
}

func (a *App) reload(cfg *config.Config) {
	a.processor.SetPolicy(payout.PolicyFromConfig(cfg.Payout))
	a.users.SetBounds(boundsFrom(cfg.Payout))
}

func boundsFrom(cfg config.PayoutConfig) user.Bounds {
	return user.Bounds{
		Min: decimal.NewFromFloat(cfg.MinThreshold),
		Max: decimal.NewFromFloat(cfg.MaxThreshold),
	}
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", slog.Any("error", err))
		}
	}
	a.closers = nil
}
