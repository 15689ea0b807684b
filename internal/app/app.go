package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/sync/errgroup"

	"jobpool/internal/adapter/httpapi"
	"jobpool/internal/adapter/scheduler"
	"jobpool/internal/adapter/telegram"
	"jobpool/internal/adapter/telegram/handlers"
	"jobpool/internal/adapter/telegram/middleware"
	"jobpool/internal/config"
	"jobpool/internal/jobs"
	"jobpool/internal/jobs/builtin"
	"jobpool/internal/platform/httpclient"
	"jobpool/internal/platform/logger"
	"jobpool/internal/platform/metrics"
)

// App wires application components.
type App struct {
	cfg     config.Config
	log     *slog.Logger
	reg     *jobs.Registry
	metrics *metrics.Metrics
	backend backend
}

// New loads configuration from the environment and builds the App.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		App:          "jobpool",
	})
	a, err := NewWithConfig(ctx, cfg, log)
	if err != nil {
		_ = logger.Close(log)
		return nil, err
	}
	return a, nil
}

// NewWithConfig opens the configured store and registers the built-in jobs.
func NewWithConfig(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	b, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, log: log, metrics: metrics.New(), backend: b}
	if err := a.setupRegistry(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) setupRegistry() error {
	jc := a.cfg.Jobs
	a.reg = jobs.New(a.backend.store,
		jobs.WithLogger(a.log),
		jobs.WithTypes(builtin.Types(max(jc.HeartbeatInterval, 1), a.log)),
		jobs.WithHooks(a.metrics.Hooks()),
	)
	if err := a.reg.SetCacheKeyPrefix(jc.CachePrefix); err != nil {
		return err
	}
	if err := a.reg.SetPoolCoolDown(jc.PoolCoolDown); err != nil {
		return err
	}
	if jc.AtomicGate {
		if err := a.reg.EnableAtomicGate(); err != nil {
			return err
		}
	}
	if jc.HeartbeatInterval > 0 {
		if err := a.reg.RegisterLazy("heartbeat", jobs.TypeName(builtin.HeartbeatType)); err != nil {
			return err
		}
	}
	if jc.WebhookURL != "" {
		client := httpclient.New(
			httpclient.WithLogger(a.log),
			httpclient.WithTimeout(10*time.Second),
			httpclient.WithRetries(2, 500*time.Millisecond),
			httpclient.WithMaxBackoff(5*time.Second),
		)
		b := builtin.WebhookFactory("webhook", jc.WebhookInterval, jc.WebhookURL, client)
		if err := a.reg.RegisterLazy("webhook", b); err != nil {
			return err
		}
	}
	return nil
}

// Registry returns the job pool, e.g. to register application jobs before
// RunOnce or Serve.
func (a *App) Registry() *jobs.Registry { return a.reg }

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger { return a.log }

// RunOnce performs a single cycle, bounded by JOBS_CYCLE_TIMEOUT when set.
func (a *App) RunOnce(ctx context.Context) (jobs.Result, error) {
	if d := a.cfg.Jobs.CycleTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return a.reg.Run(ctx)
}

// Serve drives the pool from the cron schedule and, when configured, the
// HTTP API and the Telegram bot. It blocks until ctx is canceled or one of
// the servers fails.
func (a *App) Serve(ctx context.Context) error {
	a.log.Info("starting", slog.String("store", a.cfg.Store.Driver), slog.String("jobs", a.reg.String()))

	sched, err := scheduler.New(ctx, a.reg, scheduler.Config{
		Schedule:   a.cfg.Jobs.Schedule,
		Timeout:    a.cfg.Jobs.CycleTimeout,
		RunOnStart: true,
		Logger:     a.log,
	})
	if err != nil {
		return err
	}

	var (
		b    *bot.Bot
		disp *telegram.Dispatcher
	)
	if a.cfg.Telegram.Token != "" {
		if b, disp, err = a.telegramBot(); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.HTTP.Addr != "" {
		srv := a.httpServer()
		g.Go(func() error { return httpapi.Serve(gctx, srv, a.log) })
	}
	if b != nil {
		g.Go(func() error {
			b.Start(gctx)
			disp.Close()
			return nil
		})
	}

	sched.Start()
	<-gctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stopErr := sched.StopContext(stopCtx)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return stopErr
}

func (a *App) httpServer() *http.Server {
	if a.cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	opts := httpapi.Options{
		Token:  a.cfg.HTTP.Token,
		Health: a.backend.health,
		Logger: a.log,
	}
	if a.cfg.Metrics {
		opts.Metrics = a.metrics.Handler()
	}
	return &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           httpapi.NewRouter(a.reg, opts),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (a *App) telegramBot() (*bot.Bot, *telegram.Dispatcher, error) {
	cmds := handlers.New(a.reg, a.log)
	acl := middleware.NewACL(a.cfg.Telegram.AllowedIDs, a.log)
	rate := middleware.NewRateLimiter(time.Second)
	handler := middleware.Chain(cmds.Handle, acl.Middleware, rate.Middleware)

	var disp *telegram.Dispatcher
	b, err := bot.New(a.cfg.Telegram.Token,
		bot.WithDefaultHandler(func(ctx context.Context, _ *bot.Bot, upd *models.Update) {
			disp.Dispatch(ctx, upd)
		}),
		bot.WithAllowedUpdates([]string{"message"}),
	)
	if err != nil {
		return nil, nil, err
	}
	disp = telegram.NewDispatcher(b, 4, handler)
	return b, disp, nil
}

// Close releases the store and the log file.
func (a *App) Close() error {
	var errs []error
	if a.backend.close != nil {
		errs = append(errs, a.backend.close())
	}
	errs = append(errs, logger.Close(a.log))
	return errors.Join(errs...)
}
