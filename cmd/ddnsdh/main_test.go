package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type countingClient struct {
	runs atomic.Int64
	err  error
}

func (c *countingClient) RunDDNS(ctx context.Context) error {
	c.runs.Add(1)
	return c.err
}

func TestRunCyclesOnce(t *testing.T) {
	c := &countingClient{}
	if err := runCycles(context.Background(), c, true); err != nil {
		t.Fatalf("runCycles failed: %s", err)
	}
	if got := c.runs.Load(); got != 1 {
		t.Fatalf("expected exactly one cycle; got %d", got)
	}
}

func TestRunCyclesOnceReportsError(t *testing.T) {
	boom := errors.New("boom")
	c := &countingClient{err: boom}
	err := runCycles(context.Background(), c, true)
	if !errors.Is(err, boom) {
		t.Fatalf("expected the cycle error to propagate; got %v", err)
	}
	if got := c.runs.Load(); got != 1 {
		t.Fatalf("expected exactly one cycle; got %d", got)
	}
}

func TestRunCyclesDaemonStopsOnCancel(t *testing.T) {
	config.MinSleep = 10 * time.Millisecond
	config.MaxSleep = 20 * time.Millisecond

	c := &countingClient{}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if err := runCycles(ctx, c, false); err != nil {
		t.Fatalf("runCycles failed: %s", err)
	}
	if got := c.runs.Load(); got < 1 {
		t.Fatalf("expected the daemon to run at least once; got %d", got)
	}
}

func TestRedactedConfigHidesKey(t *testing.T) {
	config.Key = "NYKCAWSCEXAMPLE"
	defer func() { config.Key = "" }()

	out := fmt.Sprintf("%+v", redactedConfig())
	if strings.Contains(out, "NYKCAWSCEXAMPLE") {
		t.Fatalf("expected the API key to be redacted; got %q", out)
	}
	if !strings.Contains(out, "[redacted]") {
		t.Fatalf("expected a redaction marker; got %q", out)
	}
}
