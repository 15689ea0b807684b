// Package httpapi exposes the job pool over HTTP with gin: a run trigger
// for external schedulers, read-only status endpoints and metrics.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"jobpool/internal/jobs"
	"jobpool/internal/shared"
)

// Pool is the part of *jobs.Registry the API needs.
type Pool interface {
	Run(ctx context.Context) (jobs.Result, error)
	Names() []string
	Has(name string) bool
	Get(name string) (jobs.Job, error)
	PoolCoolDown() int
	RemainingCoolDown(ctx context.Context) (time.Duration, error)
	LastRunAt(ctx context.Context) (time.Time, bool, error)
	JobLastRunAt(ctx context.Context, name string) (time.Time, bool, error)
	Forget(ctx context.Context, name string) (bool, error)
}

// Options configures the router.
type Options struct {
	// Token enables bearer authentication for every route except /healthz.
	Token string
	// Metrics is mounted on GET /metrics when set.
	Metrics http.Handler
	// Health is called by /healthz, e.g. a store ping.
	Health func(ctx context.Context) error
	Logger *slog.Logger
}

type server struct {
	pool Pool
	opts Options
	log  *slog.Logger
}

// NewRouter builds the gin engine.
func NewRouter(pool Pool, opts Options) *gin.Engine {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &server{pool: pool, opts: opts, log: log.With(slog.String("component", "http"))}

	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests)
	r.GET("/healthz", s.healthz)

	api := r.Group("/")
	if opts.Token != "" {
		api.Use(bearerAuth(opts.Token))
	}
	api.GET("/jobs", s.listJobs)
	api.GET("/jobs/status", s.status)
	api.POST("/jobs/run", s.run)
	api.POST("/jobs/:name/forget", s.forget)
	if opts.Metrics != nil {
		api.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	return r
}

func (s *server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.Debug("http request",
		slog.String("method", c.Request.Method),
		slog.String("path", c.FullPath()),
		slog.Int("status", c.Writer.Status()),
		slog.Duration("dur", time.Since(start)))
}

func bearerAuth(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got := []byte(bearer(c.GetHeader("Authorization")))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			c.Header("WWW-Authenticate", `Bearer realm="jobpool"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *server) healthz(c *gin.Context) {
	if s.opts.Health != nil {
		if err := s.opts.Health(c.Request.Context()); err != nil {
			s.log.Warn("health check failed", slog.Any("err", err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type jobView struct {
	Name      string     `json:"name"`
	Interval  int        `json:"interval_min,omitempty"`
	Active    bool       `json:"active"`
	LastRunAt *time.Time `json:"last_run_at"`
	Error     string     `json:"error,omitempty"`
}

func (s *server) listJobs(c *gin.Context) {
	ctx := c.Request.Context()
	names := s.pool.Names()
	out := make([]jobView, 0, len(names))
	for _, name := range names {
		v := jobView{Name: name}
		if job, err := s.pool.Get(name); err != nil {
			v.Error = err.Error()
		} else {
			v.Interval = job.Interval()
			v.Active = job.Active()
		}
		last, ok, err := s.pool.JobLastRunAt(ctx, name)
		if err != nil {
			s.fail(c, err)
			return
		}
		if ok {
			v.LastRunAt = &last
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, gin.H{"jobs": out})
}

func (s *server) status(c *gin.Context) {
	ctx := c.Request.Context()
	remaining, err := s.pool.RemainingCoolDown(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	last, ok, err := s.pool.LastRunAt(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	body := gin.H{
		"pool_cooldown_min": s.pool.PoolCoolDown(),
		"remaining_seconds": int64(remaining / time.Second),
		"jobs":              len(s.pool.Names()),
		"last_run_at":       nil,
	}
	if ok {
		body["last_run_at"] = last
	}
	c.JSON(http.StatusOK, body)
}

type outcomeView struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

func (s *server) run(c *gin.Context) {
	// The pool timestamp is written first, so a cycle cut short by a client
	// disconnect would starve the remaining jobs for a whole cooldown.
	res, err := s.pool.Run(context.WithoutCancel(c.Request.Context()))
	if res.CoolingDown {
		secs := int64(res.Remaining / time.Second)
		c.Header("Retry-After", strconv.FormatInt(secs, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"message":           res.String(),
			"remaining_seconds": secs,
		})
		return
	}
	// gate failure: nothing was evaluated
	if err != nil && len(res.Outcomes) == 0 {
		s.fail(c, err)
		return
	}

	outcomes := make([]outcomeView, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		v := outcomeView{Name: o.Name, Status: o.Status.String(), DurationMS: o.Duration.Milliseconds()}
		if o.Err != nil {
			v.Error = o.Err.Error()
		}
		outcomes = append(outcomes, v)
	}
	code := http.StatusOK
	if err != nil {
		code = http.StatusInternalServerError
	}
	c.JSON(code, gin.H{
		"message":  res.String(),
		"executed": res.Executed,
		"total":    res.Total,
		"failed":   len(res.Failed()),
		"outcomes": outcomes,
	})
}

func (s *server) forget(c *gin.Context) {
	name := c.Param("name")
	if !s.pool.Has(name) {
		s.fail(c, jobs.ErrNotFound)
		return
	}
	existed, err := s.pool.Forget(c.Request.Context(), name)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "forgotten": existed})
}

func (s *server) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", slog.String("path", c.FullPath()), slog.Any("err", err))
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch shared.KindOf(err) {
	case shared.KindNotFound:
		return http.StatusNotFound
	case shared.KindValidation:
		return http.StatusBadRequest
	case shared.KindConflict:
		return http.StatusConflict
	case shared.KindTimeout:
		return http.StatusGatewayTimeout
	case shared.KindCanceled:
		return 499
	case shared.KindDependencyFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Serve runs srv until ctx is canceled, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server, log *slog.Logger) error {
	errc := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	log.Info("http server listening", slog.String("addr", srv.Addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// bearer extracts the token of an "Authorization: Bearer x" header.
func bearer(h string) string {
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}
