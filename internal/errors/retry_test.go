package errors

import (
	"context"
	"testing"
	"time"
)

func fastRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:     maxRetries,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     100 * time.Millisecond,
		Multiplier:     2.0,
		RetryableErrors: func(err error) bool {
			return IsRetryable(err)
		},
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxRetries != 5 {
		t.Errorf("MaxRetries = %v, want 5", config.MaxRetries)
	}
	if config.InitialBackoff != 1*time.Second {
		t.Errorf("InitialBackoff = %v, want 1s", config.InitialBackoff)
	}
	if config.MaxBackoff != 30*time.Second {
		t.Errorf("MaxBackoff = %v, want 30s", config.MaxBackoff)
	}
	if config.RetryableErrors == nil {
		t.Error("RetryableErrors function is nil")
	}
}

func TestRetryWithBackoff_Success(t *testing.T) {
	attemptCount := 0
	err := RetryWithBackoff(context.Background(), fastRetryConfig(3), func() error {
		attemptCount++
		if attemptCount < 3 {
			return NewNetworkError("temporary failure", nil)
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected success, got error: %v", err)
	}
	if attemptCount != 3 {
		t.Errorf("Expected 3 attempts, got %d", attemptCount)
	}
}

func TestRetryWithBackoff_MaxRetriesExceeded(t *testing.T) {
	attemptCount := 0
	err := RetryWithBackoff(context.Background(), fastRetryConfig(2), func() error {
		attemptCount++
		return NewNetworkError("persistent failure", nil)
	})

	if err == nil {
		t.Error("Expected error, got nil")
	}
	if attemptCount != 3 { // Initial attempt + 2 retries
		t.Errorf("Expected 3 attempts, got %d", attemptCount)
	}
	if !IsNetworkError(err) {
		t.Errorf("wrapped error should still classify as network, got %v", GetErrorType(err))
	}
}

func TestRetryWithBackoff_NonRetryableError(t *testing.T) {
	attemptCount := 0
	err := RetryWithBackoff(context.Background(), fastRetryConfig(3), func() error {
		attemptCount++
		return NewAuthError("wrong password", nil)
	})

	if err == nil {
		t.Error("Expected error, got nil")
	}
	if attemptCount != 1 {
		t.Errorf("Expected 1 attempt (no retries), got %d", attemptCount)
	}
}

func TestRetryWithBackoff_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	config := fastRetryConfig(10)
	config.InitialBackoff = 100 * time.Millisecond
	config.MaxBackoff = time.Second

	err := RetryWithBackoff(ctx, config, func() error {
		return NewNetworkError("failure", nil)
	})

	if !IsCancelled(err) {
		t.Errorf("expected cancelled error, got %v", err)
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		name     string
		attempt  int
		expected time.Duration
	}{
		{"first retry", 0, 1 * time.Second},
		{"second retry", 1, 2 * time.Second},
		{"third retry", 2, 4 * time.Second},
		{"capped at max", 10, 30 * time.Second},
	}

	config := DefaultRetryConfig()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := config.backoff(tt.attempt); got != tt.expected {
				t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.expected)
			}
		})
	}
}

func TestRetryWithBackoff_OnRetry(t *testing.T) {
	var attempts []int
	var waits []time.Duration
	config := fastRetryConfig(2)
	config.OnRetry = func(attempt int, err error, wait time.Duration) {
		attempts = append(attempts, attempt)
		waits = append(waits, wait)
	}

	_ = RetryWithBackoff(context.Background(), config, func() error {
		return NewNetworkError("failure", nil)
	})

	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", attempts)
	}
	if len(waits) == 2 && waits[1] != 2*waits[0] {
		t.Errorf("waits = %v, want doubling", waits)
	}
}
