// Package handlers implements the bot commands controlling the job pool.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"jobpool/internal/adapter/telegram"
	"jobpool/internal/jobs"
)

// Pool is the part of *jobs.Registry the commands need.
type Pool interface {
	Run(ctx context.Context) (jobs.Result, error)
	Names() []string
	Get(name string) (jobs.Job, error)
	PoolCoolDown() int
	RemainingCoolDown(ctx context.Context) (time.Duration, error)
	LastRunAt(ctx context.Context) (time.Time, bool, error)
	JobLastRunAt(ctx context.Context, name string) (time.Time, bool, error)
}

const help = `/run - run one job cycle
/jobs - list registered jobs
/status - pool cooldown and last run
/ping - check the bot is alive`

// Commands routes slash commands to the pool.
type Commands struct {
	pool Pool
	log  *slog.Logger
}

// New creates the command set.
func New(pool Pool, log *slog.Logger) *Commands {
	if log == nil {
		log = slog.Default()
	}
	return &Commands{pool: pool, log: log.With(slog.String("component", "telegram"))}
}

// Handle routes updates to command handlers. Anything that is not a
// command is ignored.
func (c *Commands) Handle(ctx context.Context, s telegram.Sender, upd *models.Update) {
	msg := upd.Message
	if msg == nil || !strings.HasPrefix(msg.Text, "/") {
		return
	}
	cmd := strings.TrimPrefix(strings.Fields(msg.Text)[0], "/")
	// "/run@my_bot" в групповых чатах
	cmd, _, _ = strings.Cut(cmd, "@")

	var text string
	switch cmd {
	case "start", "help":
		text = help
	case "ping":
		text = "pong"
	case "run":
		text = c.run(ctx)
	case "jobs":
		text = c.listJobs(ctx)
	case "status":
		text = c.status(ctx)
	default:
		text = "unknown command\n\n" + help
	}
	c.reply(ctx, s, msg.Chat.ID, text)
}

func (c *Commands) reply(ctx context.Context, s telegram.Sender, chat int64, text string) {
	if _, err := s.SendMessage(ctx, &bot.SendMessageParams{ChatID: chat, Text: text}); err != nil {
		c.log.Warn("send reply", slog.Int64("chat_id", chat), slog.Any("err", err))
	}
}

func (c *Commands) run(ctx context.Context) string {
	res, err := c.pool.Run(ctx)
	var b strings.Builder
	b.WriteString(res.String())
	for _, o := range res.Outcomes {
		fmt.Fprintf(&b, "\n%s: %s", o.Name, o.Status)
		if o.Err != nil {
			fmt.Fprintf(&b, " (%v)", o.Err)
		}
	}
	if err != nil && len(res.Outcomes) == 0 && !res.CoolingDown {
		c.log.Error("job cycle failed", slog.Any("err", err))
		fmt.Fprintf(&b, "\nerror: %v", err)
	}
	return b.String()
}

func (c *Commands) listJobs(ctx context.Context) string {
	names := c.pool.Names()
	if len(names) == 0 {
		return "no jobs registered"
	}
	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(name)
		job, err := c.pool.Get(name)
		if err != nil {
			b.WriteString(" - broken")
			continue
		}
		fmt.Fprintf(&b, " - every %dm", job.Interval())
		if !job.Active() {
			b.WriteString(", paused")
		}
		last, ok, err := c.pool.JobLastRunAt(ctx, name)
		switch {
		case err != nil:
			b.WriteString(", last run unknown")
		case ok:
			fmt.Fprintf(&b, ", last run %s", last.UTC().Format(time.RFC3339))
		default:
			b.WriteString(", never ran")
		}
	}
	return b.String()
}

func (c *Commands) status(ctx context.Context) string {
	remaining, err := c.pool.RemainingCoolDown(ctx)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	last, ok, err := c.pool.LastRunAt(ctx)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	lastText := "never"
	if ok {
		lastText = last.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("jobs: %d\npool cooldown: %dm\nlast cycle: %s\nremaining cooldown: %ds",
		len(c.pool.Names()), c.pool.PoolCoolDown(), lastText, int64(remaining/time.Second))
}
