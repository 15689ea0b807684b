package builtin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"jobpool/internal/jobs"
	"jobpool/internal/platform/httpclient"
)

// WebhookPayload is the JSON body posted on every execution.
type WebhookPayload struct {
	Job       string     `json:"job"`
	LastRunAt *time.Time `json:"last_run_at"`
	RanAt     time.Time  `json:"ran_at"`
}

// Webhook posts a WebhookPayload to a URL. A non-2xx answer fails the job,
// so its timestamp is not written and the next cycle tries again.
type Webhook struct {
	jobs.Base
	url    string
	client *httpclient.Client
	now    func() time.Time
}

// NewWebhook validates rawURL and returns the job.
func NewWebhook(name string, interval int, rawURL string, client *httpclient.Client) (*Webhook, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("webhook %q: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("webhook %q: url must be absolute http(s)", name)
	}
	if client == nil {
		client = httpclient.New()
	}
	return &Webhook{Base: jobs.NewBase(name, interval), url: rawURL, client: client, now: time.Now}, nil
}

// WebhookFactory defers NewWebhook until the registry first needs the job.
func WebhookFactory(name string, interval int, rawURL string, client *httpclient.Client) jobs.Builder {
	return jobs.Factory(func() (jobs.Job, error) {
		return NewWebhook(name, interval, rawURL, client)
	})
}

func (w *Webhook) Run(ctx context.Context, lastRunAt time.Time) error {
	p := WebhookPayload{Job: w.Name(), RanAt: w.now().UTC().Truncate(time.Second)}
	if !lastRunAt.IsZero() {
		last := lastRunAt.UTC()
		p.LastRunAt = &last
	}
	// one key per execution, shared by the client's retries
	header := http.Header{"Idempotency-Key": {uuid.NewString()}}
	return w.client.PostJSON(ctx, w.url, p, header)
}
