package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"jobpool/internal/jobs"
	"jobpool/internal/shared"
)

// DefaultSchedule запускает цикл раз в минуту, как минимальный cooldown пула.
const DefaultSchedule = "@every 1m"

// Runner выполняет один цикл пула задач. Реализуется *jobs.Registry.
type Runner interface {
	Run(ctx context.Context) (jobs.Result, error)
}

// Config содержит конфигурацию планировщика.
type Config struct {
	// Schedule - cron-выражение (секунды необязательны) или дескриптор
	// вида "@every 1m", "@hourly".
	Schedule string
	// Timeout - максимальная длительность одного цикла (необязательно).
	Timeout time.Duration
	// RunOnStart - выполнить цикл сразу при Start, не дожидаясь расписания.
	RunOnStart bool
	Logger     *slog.Logger
	// OnTick вызывается после каждого цикла (необязательно).
	OnTick func(res jobs.Result, err error)
}

// parser принимает и классические 5 полей, и 6 полей с секундами.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule проверяет расписание без создания планировщика.
func ParseSchedule(spec string) (cron.Schedule, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: schedule %q: %w", shared.ErrValidation, spec, err)
	}
	return sched, nil
}

// cronLogger адаптер для интеграции cron logger с slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	// cron пишет на Info каждое пробуждение, для нас это отладочный шум
	l.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, toAttrs(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	attrs := append([]slog.Attr{slog.Any("error", err)}, toAttrs(keysAndValues)...)
	l.logger.LogAttrs(context.Background(), slog.LevelError, msg, attrs...)
}

func toAttrs(kv []interface{}) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		attrs = append(attrs, slog.Any(key, kv[i+1]))
	}
	return attrs
}

// Scheduler периодически вызывает Runner по cron-расписанию.
// Циклы не перекрываются: если предыдущий еще идет, тик пропускается.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	cfg    Config
	logger *slog.Logger
	id     cron.EntryID

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// New создает планировщик с родительским контекстом ctx. Отмена ctx
// останавливает планировщик.
func New(ctx context.Context, runner Runner, cfg Config) (*Scheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("%w: scheduler runner is nil", shared.ErrValidation)
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	sched, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "scheduler"))
	cl := cronLogger{logger: logger}

	ctx, cancel := context.WithCancel(ctx)
	s := &Scheduler{
		runner: runner,
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.SkipIfStillRunning(cl)),
		),
	}
	s.id = s.cron.Schedule(sched, cron.FuncJob(s.tick))
	return s, nil
}

// Start запускает планировщик. Повторные вызовы ничего не делают.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.logger.Info("starting scheduler", slog.String("schedule", s.cfg.Schedule))
		if s.cfg.RunOnStart {
			// через цепочку, чтобы стартовый цикл не пересекся с первым тиком
			job := s.cron.Entry(s.id).WrappedJob
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				job.Run()
			}()
		}
		s.cron.Start()

		go func() {
			<-s.ctx.Done()
			s.stopOnce.Do(s.stop)
		}()
	})
}

// Next возвращает время следующего запуска (нулевое до Start).
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.id).Next
}

// Stop останавливает планировщик и ждет завершения текущего цикла.
func (s *Scheduler) Stop() {
	s.cancel()
	s.stopOnce.Do(s.stop)
}

// StopContext останавливает планировщик с учетом дедлайна ctx.
// Текущий цикл получает отмену контекста; если он не успевает завершиться
// до дедлайна, возвращается ошибка контекста.
func (s *Scheduler) StopContext(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.stopOnce.Do(s.stop)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop deadline exceeded")
		return ctx.Err()
	}
}

// stop выполняет фактическую остановку.
func (s *Scheduler) stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// tick выполняет один цикл.
func (s *Scheduler) tick() {
	if s.ctx.Err() != nil {
		return
	}

	ctx := s.ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	res, err := s.run(ctx)
	switch {
	case err != nil:
		s.logger.Error("job cycle failed", slog.String("result", res.String()), slog.Any("error", err))
	case res.CoolingDown:
		s.logger.Debug("job cycle skipped", slog.Duration("remaining", res.Remaining))
	default:
		s.logger.Debug("job cycle done", slog.Int("executed", res.Executed), slog.Int("total", res.Total))
	}
	if s.cfg.OnTick != nil {
		s.cfg.OnTick(res, err)
	}
}

// run вызывает Runner, превращая панику в ошибку.
func (s *Scheduler) run(ctx context.Context) (res jobs.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: scheduler tick panicked: %v\n%s", shared.ErrInternal, r, debug.Stack())
		}
	}()
	return s.runner.Run(ctx)
}
