package llm

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

// scriptedRunner returns canned responses in sequence, recording each call.
// The last response repeats once the script runs out.
type scriptedRunner struct {
	responses []*Response
	calls     int
}

func (r *scriptedRunner) run(ctx context.Context, req Request) *Response {
	idx := r.calls
	if idx >= len(r.responses) {
		idx = len(r.responses) - 1
	}
	r.calls++
	return r.responses[idx]
}

// recordingCosts accumulates RecordCost calls.
type recordingCosts struct {
	labels []string
	total  float64
}

func (c *recordingCosts) RecordCost(label string, cost float64) error {
	c.labels = append(c.labels, label)
	c.total += cost
	return nil
}

func newTestAdapter(runner runner, costs CostRecorder) *Adapter {
	a := NewAdapter(Config{
		Binary:         "llm-cli",
		MaxRetries:     2,
		RetryBaseWait:  time.Millisecond,
		TimeoutBackoff: time.Millisecond,
	}, costs, zap.NewNop())
	a.runner = runner
	return a
}

func TestAdapter_SuccessPassesThrough(t *testing.T) {
	costs := &recordingCosts{}
	runner := &scriptedRunner{responses: []*Response{
		{Success: true, Result: "done", Cost: 0.5},
	}}
	a := newTestAdapter(runner, costs)

	resp, err := a.Invoke(context.Background(), "task-001:competitor-1", Request{Prompt: "go"})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Result != "done" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if costs.total != 0.5 {
		t.Fatalf("cost not recorded: %v", costs.total)
	}
}

func TestAdapter_TransientRetriedAtMostTwice(t *testing.T) {
	runner := &scriptedRunner{responses: []*Response{
		{Success: false, Result: "rate limit", Cost: 0.1},
		{Success: false, Result: "rate limit", Cost: 0.1},
		{Success: false, Result: "rate limit", Cost: 0.1},
		{Success: false, Result: "rate limit", Cost: 0.1}, // never reached
	}}
	costs := &recordingCosts{}
	a := newTestAdapter(runner, costs)

	resp, err := a.Invoke(context.Background(), "x", Request{Prompt: "go"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Success {
		t.Fatal("expected failure after retries")
	}
	if runner.calls != 3 {
		t.Fatalf("expected 1 call + 2 retries, got %d calls", runner.calls)
	}
	// Each attempt's cost lands in the store.
	if len(costs.labels) != 3 {
		t.Fatalf("expected 3 cost records, got %d", len(costs.labels))
	}
}

func TestAdapter_TransientThenSuccess(t *testing.T) {
	runner := &scriptedRunner{responses: []*Response{
		{Success: false, Result: "overloaded", Cost: 0},
		{Success: true, Result: "ok", Cost: 0.2},
	}}
	a := newTestAdapter(runner, &recordingCosts{})

	resp, err := a.Invoke(context.Background(), "x", Request{Prompt: "go"})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Result != "ok" {
		t.Fatalf("retry did not recover: %+v", resp)
	}
}

func TestAdapter_PermanentNeverRetried(t *testing.T) {
	runner := &scriptedRunner{responses: []*Response{
		{Success: false, Result: "invalid api key", Cost: 0},
		{Success: true, Result: "should not be reached", Cost: 0},
	}}
	a := newTestAdapter(runner, &recordingCosts{})

	resp, err := a.Invoke(context.Background(), "x", Request{Prompt: "go"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Success {
		t.Fatal("permanent error must surface immediately")
	}
	if runner.calls != 1 {
		t.Fatalf("permanent error must not retry, got %d calls", runner.calls)
	}
}

func TestAdapter_NegativeTimeoutRejected(t *testing.T) {
	a := newTestAdapter(&scriptedRunner{responses: []*Response{{Success: true}}}, nil)
	if _, err := a.Invoke(context.Background(), "x", Request{Prompt: "go", Timeout: -time.Second}); err == nil {
		t.Fatal("negative timeout must be rejected")
	}
}

func TestAdapter_ZeroCostNotRecorded(t *testing.T) {
	costs := &recordingCosts{}
	runner := &scriptedRunner{responses: []*Response{
		{Success: false, Result: "invalid request", Cost: 0},
	}}
	a := newTestAdapter(runner, costs)

	if _, err := a.Invoke(context.Background(), "x", Request{Prompt: "go"}); err != nil {
		t.Fatal(err)
	}
	if len(costs.labels) != 0 {
		t.Fatalf("zero-cost attempts must not write ledger entries, got %d", len(costs.labels))
	}
}

func TestFilterEnv_StripsNestedSessionVariables(t *testing.T) {
	in := []string{
		"PATH=/usr/bin",
		"CLAUDECODE=1",
		"CLAUDE_CODE_ENTRYPOINT=cli",
		"CLAUDE_CODE_SSE_PORT=12345",
		"HOME=/home/dev",
	}
	out := filterEnv(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 surviving vars, got %v", out)
	}
	for _, kv := range out {
		if kv != "PATH=/usr/bin" && kv != "HOME=/home/dev" {
			t.Fatalf("unexpected var survived: %s", kv)
		}
	}
}
