package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/harrisonrobin/taskboard/pkg/logging"
	"github.com/harrisonrobin/taskboard/pkg/model"
	"github.com/harrisonrobin/taskboard/pkg/taskerr"
)

// scriptedSource answers fetches from a fixed list of results.
type scriptedSource struct {
	mu        sync.Mutex
	responses []any // []model.Task or error
	calls     int
}

func (s *scriptedSource) fetch(ctx context.Context) ([]model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.responses) {
		return nil, fmt.Errorf("unexpected call %d", s.calls+1)
	}
	resp := s.responses[s.calls]
	s.calls++
	switch v := resp.(type) {
	case []model.Task:
		return v, nil
	case error:
		return nil, v
	default:
		return nil, fmt.Errorf("invalid response type %T", v)
	}
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func fastRetry() RetryConfig {
	return RetryConfig{
		InitialInterval:     5 * time.Millisecond,
		MaxInterval:         20 * time.Millisecond,
		MaxElapsedTime:      500 * time.Millisecond,
		Multiplier:          2.0,
		RandomizationFactor: 0.1,
	}
}

func TestTransientThenSuccess(t *testing.T) {
	logging.Discard()
	src := &scriptedSource{responses: []any{
		errors.New("503"),
		errors.New("503"),
		[]model.Task{{ID: "task-0", Title: "a"}},
	}}
	g := NewGuard("sheets", fastRetry(), BreakerConfig{})

	tasks, err := g.Wrap(src.fetch)(context.Background())
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(tasks) != 1 || src.Calls() != 3 {
		t.Errorf("tasks = %v, calls = %d", tasks, src.Calls())
	}
}

func TestPermanentErrorsAreNotRetried(t *testing.T) {
	logging.Discard()
	src := &scriptedSource{responses: []any{
		&taskerr.AuthError{Msg: "token expired"},
	}}
	g := NewGuard("records", fastRetry(), BreakerConfig{})

	_, err := g.Wrap(src.fetch)(context.Background())
	var fe *taskerr.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %T %v", err, err)
	}
	if !taskerr.IsAuth(err) {
		t.Errorf("auth cause lost: %v", err)
	}
	if src.Calls() != 1 {
		t.Errorf("calls = %d, want 1", src.Calls())
	}
}

func TestExhaustedRetriesKeepFetchError(t *testing.T) {
	logging.Discard()
	remote := &taskerr.FetchError{Source: "sheets", Msg: "Requested entity was not found."}
	responses := make([]any, 100)
	for i := range responses {
		responses[i] = remote
	}
	src := &scriptedSource{responses: responses}
	cfg := fastRetry()
	cfg.MaxElapsedTime = 50 * time.Millisecond
	g := NewGuard("sheets", cfg, BreakerConfig{ConsecutiveFailures: 1000})

	_, err := g.Wrap(src.fetch)(context.Background())
	if err != remote {
		t.Errorf("err = %v, want the source's FetchError", err)
	}
	if src.Calls() < 2 {
		t.Errorf("calls = %d, want retries", src.Calls())
	}
}

func TestBreakerOpens(t *testing.T) {
	logging.Discard()
	responses := make([]any, 10)
	for i := range responses {
		responses[i] = errors.New("connection refused")
	}
	src := &scriptedSource{responses: responses}
	cfg := fastRetry()
	g := NewGuard("records", cfg, BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Minute})

	_, err := g.Wrap(src.fetch)(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if g.State() != gobreaker.StateOpen {
		t.Fatalf("state = %s, want open", g.State())
	}
	if src.Calls() != 2 {
		t.Errorf("calls = %d, want 2 before the breaker opened", src.Calls())
	}

	_, err = g.Wrap(src.fetch)(context.Background())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("err = %v, want open state", err)
	}
	if src.Calls() != 2 {
		t.Errorf("open breaker let a call through")
	}
}

func TestCancelledContextStops(t *testing.T) {
	logging.Discard()
	src := &scriptedSource{responses: []any{[]model.Task{}}}
	g := NewGuard("sheets", fastRetry(), BreakerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Wrap(src.fetch)(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want canceled", err)
	}
	if src.Calls() != 0 {
		t.Errorf("calls = %d, want 0", src.Calls())
	}
}
