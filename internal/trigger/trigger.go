// Package trigger invokes the external agent-execution service (ACS)
// when an inbound message with text is ingested. The trigger is a
// side-effect: it is awaited by the HTTP adapter but can never fail an
// ingest.
package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/chathub/internal/observability"
)

// DefaultTimeout bounds a single trigger invocation so the ingest
// response is never held indefinitely.
const DefaultTimeout = 60 * time.Second

// Runner fires the external trigger for a just-ingested entry and
// reports whether it was accepted. Implementations must never panic or
// return an error; failure is a false result.
type Runner interface {
	Run(ctx context.Context, platform, chatID string, entryID int64, text string) bool
}

// Config wires an ACS-backed runner.
type Config struct {
	// BaseURL is the ACS endpoint root, e.g. http://127.0.0.1:8377.
	BaseURL string

	// JobName selects the ACS job to trigger. Empty disables the
	// trigger entirely; New returns a no-op runner.
	JobName string

	// SelfURL is embedded in the prompt so the agent can call back.
	SelfURL string

	// Timeout bounds each invocation (default DefaultTimeout).
	Timeout time.Duration

	// Logger for trigger outcomes.
	Logger *slog.Logger

	// Metrics receives per-invocation outcomes (optional).
	Metrics *observability.Metrics
}

// New selects the runner implementation from configuration. A missing
// job name yields a no-op runner so call sites never branch on nil.
func New(cfg Config) Runner {
	if cfg.JobName == "" {
		return noopRunner{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &acsRunner{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		jobName: cfg.JobName,
		selfURL: cfg.SelfURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  cfg.Logger.With("component", "trigger"),
		metrics: cfg.Metrics,
	}
}

// noopRunner is selected when no ACS job is configured.
type noopRunner struct{}

func (noopRunner) Run(context.Context, string, string, int64, string) bool { return false }

type acsRunner struct {
	baseURL string
	jobName string
	selfURL string
	client  *http.Client
	logger  *slog.Logger
	metrics *observability.Metrics
}

// BuildPrompt assembles the single-line agent prompt for an inbound
// message. Double quotes inside text are backslash-escaped so the prompt
// survives the -p "<prompt>" argument wrapping.
func BuildPrompt(selfURL, platform, chatID string, entryID int64, text string) string {
	escaped := strings.ReplaceAll(text, `"`, `\"`)
	return fmt.Sprintf("[ROUTER=%s] [PLATFORM=%s] [CHAT_ID=%s] [IN_REPLY_TO=%d] User message: %s",
		selfURL, platform, chatID, entryID, escaped)
}

type triggerBody struct {
	Args string `json:"args"`
}

// Run POSTs the job trigger and awaits the result. Any failure is
// logged and reported as false; it never propagates.
func (r *acsRunner) Run(ctx context.Context, platform, chatID string, entryID int64, text string) bool {
	prompt := BuildPrompt(r.selfURL, platform, chatID, entryID, text)
	payload, err := json.Marshal(triggerBody{Args: `-p "` + prompt + `"`})
	if err != nil {
		r.logger.Error("trigger payload marshal failed", "error", err)
		return false
	}

	url := fmt.Sprintf("%s/api/jobs/%s/trigger", r.baseURL, r.jobName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		r.logger.Error("trigger request build failed", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("trigger request failed", "job", r.jobName, "error", err)
		r.metrics.RecordTrigger(false)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.logger.Warn("trigger rejected", "job", r.jobName, "status", resp.StatusCode)
		r.metrics.RecordTrigger(false)
		return false
	}

	r.logger.Info("trigger accepted", "job", r.jobName, "entry_id", entryID)
	r.metrics.RecordTrigger(true)
	return true
}
