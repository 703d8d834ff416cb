// Package llm adapts the external LLM CLI: a subprocess that reads a prompt
// on stdin and emits a single JSON object on stdout. The adapter owns retry
// classification, timeout enforcement with guaranteed child termination, and
// structured-output extraction. The rest of the core treats it as an opaque
// collaborator.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Request describes one CLI invocation.
type Request struct {
	Prompt       string
	SystemPrompt string
	Model        string
	MaxCost      float64         // per-call budget cap passed to the CLI (0 = adapter default)
	Schema       json.RawMessage // optional JSON schema for structured output
	Tools        []string        // optional tool set; non-empty forces permission skip
	Timeout      time.Duration   // optional; must be positive when set
	WorkDir      string          // optional working directory for the child
	LogPath      string          // optional file receiving the child's raw output
}

// Response is what callers see. At most one Response per Invoke call,
// regardless of internal retries.
type Response struct {
	Success    bool
	Result     string
	Structured json.RawMessage // nil when no schema was supplied or no payload came back
	Cost       float64
}

// CostRecorder receives the cost of every attempt, including retried ones.
type CostRecorder interface {
	RecordCost(label string, cost float64) error
}

// Config tunes the adapter.
type Config struct {
	Binary         string
	MaxRetries     int           // retries after the first attempt (default 2)
	RetryBaseWait  time.Duration // first backoff for generic transient errors (default 3s)
	TimeoutBackoff time.Duration // first backoff after a timeout (default 15s)
	DefaultMaxCost float64
}

// Adapter invokes the LLM CLI.
type Adapter struct {
	cfg    Config
	runner runner
	costs  CostRecorder
	logger *zap.Logger
}

// NewAdapter builds an adapter spawning cfg.Binary.
func NewAdapter(cfg Config, costs CostRecorder, logger *zap.Logger) *Adapter {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RetryBaseWait <= 0 {
		cfg.RetryBaseWait = 3 * time.Second
	}
	if cfg.TimeoutBackoff <= 0 {
		cfg.TimeoutBackoff = 15 * time.Second
	}
	return &Adapter{
		cfg:    cfg,
		runner: &execRunner{binary: cfg.Binary},
		costs:  costs,
		logger: logger.With(zap.String("component", "llm-adapter")),
	}
}

// Invoke runs the CLI, retrying transient failures up to cfg.MaxRetries
// times with exponential backoff. label tags budget entries for this call.
func (a *Adapter) Invoke(ctx context.Context, label string, req Request) (*Response, error) {
	if req.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be positive, got %v", req.Timeout)
	}
	if req.MaxCost <= 0 {
		req.MaxCost = a.cfg.DefaultMaxCost
	}

	var resp *Response
	for attempt := 0; ; attempt++ {
		start := time.Now()
		resp = a.runner.run(ctx, req)

		if a.costs != nil && resp.Cost > 0 {
			if err := a.costs.RecordCost(label, resp.Cost); err != nil {
				a.logger.Warn("Failed to record cost", zap.String("label", label), zap.Error(err))
			}
		}

		a.logger.Debug("LLM call finished",
			zap.String("label", label),
			zap.Int("attempt", attempt),
			zap.Bool("success", resp.Success),
			zap.Float64("cost", resp.Cost),
			zap.Duration("elapsed", time.Since(start)),
		)

		if resp.Success {
			return resp, nil
		}

		kind := Classify(resp)
		if kind != ErrTransient || attempt >= a.cfg.MaxRetries {
			return resp, nil
		}

		wait := a.backoff(resp, attempt)
		a.logger.Warn("Transient LLM error, retrying",
			zap.String("label", label),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.String("result", truncate(resp.Result, 200)),
		)
		select {
		case <-ctx.Done():
			return resp, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// backoff returns the wait before retry attempt+1: base << attempt, where
// base is 15 s after a timeout and 3 s otherwise.
func (a *Adapter) backoff(resp *Response, attempt int) time.Duration {
	base := a.cfg.RetryBaseWait
	if isTimeoutResponse(resp) {
		base = a.cfg.TimeoutBackoff
	}
	return base << attempt
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
