package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/histograph/histograph-sink/pkg/apperrors"
)

func fastConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxRetries != 3 {
		t.Errorf("expected MaxRetries=3, got %d", cfg.MaxRetries)
	}
	if cfg.InitialDelay != 100*time.Millisecond {
		t.Errorf("expected InitialDelay=100ms, got %v", cfg.InitialDelay)
	}
	if cfg.MaxDelay != 5*time.Second {
		t.Errorf("expected MaxDelay=5s, got %v", cfg.MaxDelay)
	}
	if cfg.Multiplier != 2.0 {
		t.Errorf("expected Multiplier=2.0, got %f", cfg.Multiplier)
	}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastConfig(), func() error {
		callCount++
		if callCount < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestDo_MaxRetriesExhausted(t *testing.T) {
	expectedErr := errors.New("persistent error")
	callCount := 0
	err := Do(context.Background(), fastConfig(), func() error {
		callCount++
		return expectedErr
	})

	if err != expectedErr {
		t.Errorf("expected error %v, got %v", expectedErr, err)
	}
	// initial + 3 retries
	if callCount != 4 {
		t.Errorf("expected 4 calls, got %d", callCount)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{
		MaxRetries:   5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	callCount := 0
	start := time.Now()
	err := Do(ctx, cfg, func() error {
		callCount++
		return errors.New("error")
	})

	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("expected quick cancellation, took %v", elapsed)
	}
}

func TestDo_MaxDelayRespected(t *testing.T) {
	cfg := &Config{
		MaxRetries:   4,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     75 * time.Millisecond,
		Multiplier:   2.0,
	}

	var callTimes []time.Time
	_ = Do(context.Background(), cfg, func() error {
		callTimes = append(callTimes, time.Now())
		return errors.New("error")
	})

	for i := 1; i < len(callTimes); i++ {
		if delay := callTimes[i].Sub(callTimes[i-1]); delay > 125*time.Millisecond {
			t.Errorf("delay %v exceeds MaxDelay (75ms) by too much", delay)
		}
	}
}

func TestDoWithResult_KeepsLastResult(t *testing.T) {
	callCount := 0
	result, err := DoWithResult(context.Background(), fastConfig(), func() (int, error) {
		callCount++
		return callCount, errors.New("connection refused")
	})

	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if result != 4 {
		t.Errorf("expected last result 4, got %d", result)
	}
}

func TestDoWithResult_NilConfig(t *testing.T) {
	result, err := DoWithResult(context.Background(), nil, func() (string, error) {
		return "pool", nil
	})

	if err != nil {
		t.Errorf("expected no error with nil config, got %v", err)
	}
	if result != "pool" {
		t.Errorf("expected 'pool', got %q", result)
	}
}

type declaredError struct{ retry bool }

func (e declaredError) Error() string     { return "declared" }
func (e declaredError) IsRetryable() bool { return e.retry }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection refused", errors.New("connection refused"), true},
		{"Connection Refused (uppercase)", errors.New("Connection Refused"), true},
		{"connection reset", errors.New("connection reset by peer"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"i/o timeout", errors.New("i/o timeout"), true},
		{"deadlock", errors.New("deadlock detected"), true},
		{"unexpected eof", errors.New("unexpected EOF"), true},
		{"syntax error", errors.New("syntax error at position 10"), false},
		{"not found", errors.New("table not found"), false},

		{"connectivity kind", fmt.Errorf("%w: could not connect to Elasticsearch at localhost:9200", apperrors.ErrConnectivity), true},
		{"rejected index request", fmt.Errorf("%w: index %q returned 429: {}", apperrors.ErrPersistence, "pit/1"), true},
		{"unavailable shard", fmt.Errorf("%w: delete %q returned 503: {}", apperrors.ErrPersistence, "pit/1"), true},
		{"bad mapping reply", fmt.Errorf("%w: index %q returned 400: {}", apperrors.ErrPersistence, "pit/1"), false},
		{"row count", fmt.Errorf("%w: insert into %q affected 0 rows", apperrors.ErrPersistence, "pits"), false},

		{"validation", fmt.Errorf("%w: unknown column %q", apperrors.ErrValidation, "x"), false},
		{"shape", fmt.Errorf("%w: 3 values for 2 columns", apperrors.ErrShape), false},
		{"schema", fmt.Errorf("%w: odd field list", apperrors.ErrSchema), false},
		{"config", fmt.Errorf("%w: unreadable mapping file", apperrors.ErrConfig), false},
		{"conflict beats timeout text", fmt.Errorf("%w: %w: timeout", apperrors.ErrPersistence, apperrors.ErrConflict), false},
		{"validation beats connectivity", fmt.Errorf("%w: %w", apperrors.ErrValidation, apperrors.ErrConnectivity), false},

		{"declared retryable", fmt.Errorf("wrapped: %w", declaredError{retry: true}), true},
		{"declared permanent", fmt.Errorf("%w: %w", apperrors.ErrConnectivity, declaredError{retry: false}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsRetryable(tt.err)
			if result != tt.expected {
				t.Errorf("IsRetryable(%v) = %v, expected %v", tt.err, result, tt.expected)
			}
		})
	}
}

func TestDoIfRetryable_RetryableError(t *testing.T) {
	callCount := 0
	err := DoIfRetryable(context.Background(), fastConfig(), func() error {
		callCount++
		if callCount < 3 {
			return fmt.Errorf("%w: localhost:5432", apperrors.ErrConnectivity)
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected no error after retries, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestDoIfRetryable_NonRetryableError(t *testing.T) {
	expectedErr := fmt.Errorf("%w: record has no hgid", apperrors.ErrValidation)
	callCount := 0
	err := DoIfRetryable(context.Background(), fastConfig(), func() error {
		callCount++
		return expectedErr
	})

	if err != expectedErr {
		t.Errorf("expected error %v, got %v", expectedErr, err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call (no retries), got %d", callCount)
	}
}

func TestDoIfRetryable_MaxRetriesExhausted(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 2

	expectedErr := errors.New("connection refused")
	callCount := 0
	err := DoIfRetryable(context.Background(), cfg, func() error {
		callCount++
		return expectedErr
	})

	if err != expectedErr {
		t.Errorf("expected error %v, got %v", expectedErr, err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestDoIfRetryable_EscalatesRepeatedErrorType(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 10
	cfg.MaxDelay = 10 * time.Millisecond
	cfg.MaxSameErrorType = 3

	callCount := 0
	err := DoIfRetryable(context.Background(), cfg, func() error {
		callCount++
		return fmt.Errorf("%w: elasticsearch:9200", apperrors.ErrConnectivity)
	})

	if err == nil {
		t.Fatal("expected escalated error")
	}
	if !errors.Is(err, apperrors.ErrConnectivity) {
		t.Errorf("expected escalated error to wrap ErrConnectivity, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls before escalation, got %d", callCount)
	}
}

func TestDoIfRetryable_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{
		MaxRetries:   5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	callCount := 0
	err := DoIfRetryable(ctx, cfg, func() error {
		callCount++
		return errors.New("connection timeout")
	})

	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestClassifyErrorType(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "nil"},
		{fmt.Errorf("%w: x", apperrors.ErrConnectivity), "connectivity"},
		{fmt.Errorf("%w: returned 503", apperrors.ErrPersistence), "persistence"},
		{errors.New("HTTP 503"), "503"},
		{errors.New("connection reset by peer"), "connection"},
		{errors.New("i/o timeout"), "timeout"},
		{errors.New("deadlock detected"), "deadlock"},
		{errors.New("something else"), "unknown"},
	}

	for _, tt := range tests {
		if got := classifyErrorType(tt.err); got != tt.want {
			t.Errorf("classifyErrorType(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
