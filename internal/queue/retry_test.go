package queue

import (
	"testing"
	"time"
)

func TestNewRetryPolicy(t *testing.T) {
	t.Run("keeps a long backoff", func(t *testing.T) {
		p := NewRetryPolicy(5, time.Hour)
		if p.MaxAttempts != 5 {
			t.Errorf("NewRetryPolicy(5, 1h) MaxAttempts = %d, want 5", p.MaxAttempts)
		}
		if p.Backoff != time.Hour {
			t.Errorf("NewRetryPolicy(5, 1h) Backoff = %v, want 1h", p.Backoff)
		}
	})

	t.Run("raises a short backoff to the minimum", func(t *testing.T) {
		p := NewRetryPolicy(5, time.Second)
		if p.Backoff != MinRetryBackoff {
			t.Errorf("NewRetryPolicy(5, 1s) Backoff = %v, want %v", p.Backoff, MinRetryBackoff)
		}
	})
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name        string
		maxAttempts int
		attempts    int
		want        bool
	}{
		{
			name:        "first failure",
			maxAttempts: 5,
			attempts:    1,
			want:        true,
		},
		{
			name:        "one below the ceiling",
			maxAttempts: 5,
			attempts:    4,
			want:        true,
		},
		{
			name:        "at the ceiling",
			maxAttempts: 5,
			attempts:    5,
			want:        false,
		},
		{
			name:        "past the ceiling",
			maxAttempts: 5,
			attempts:    7,
			want:        false,
		},
		{
			name:        "single attempt allowed",
			maxAttempts: 1,
			attempts:    1,
			want:        false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewRetryPolicy(tt.maxAttempts, MinRetryBackoff)
			if got := p.ShouldRetry(tt.attempts); got != tt.want {
				t.Errorf("ShouldRetry(%d) with MaxAttempts=%d = %v, want %v",
					tt.attempts, tt.maxAttempts, got, tt.want)
			}
		})
	}
}

func TestNextAttemptAt(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	t.Run("without jitter", func(t *testing.T) {
		p := NewRetryPolicy(5, 20*time.Minute)
		want := now.Add(20 * time.Minute)
		if got := p.NextAttemptAt(now); !got.Equal(want) {
			t.Errorf("NextAttemptAt() = %v, want %v", got, want)
		}
	})

	t.Run("zero value still waits the minimum", func(t *testing.T) {
		var p RetryPolicy
		want := now.Add(MinRetryBackoff)
		if got := p.NextAttemptAt(now); !got.Equal(want) {
			t.Errorf("NextAttemptAt() = %v, want %v", got, want)
		}
	})

	t.Run("jitter only lengthens the delay", func(t *testing.T) {
		p := NewRetryPolicy(5, MinRetryBackoff)
		p.Jitter = 0.5
		lo := now.Add(MinRetryBackoff)
		hi := now.Add(MinRetryBackoff * 3 / 2)
		for range 100 {
			got := p.NextAttemptAt(now)
			if got.Before(lo) || got.After(hi) {
				t.Fatalf("NextAttemptAt() = %v, want within [%v, %v]", got, lo, hi)
			}
		}
	})
}
