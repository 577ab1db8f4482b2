package backoff

import (
	"testing"
	"time"
)

func TestConstant(t *testing.T) {
	t.Parallel()

	s := NewConstant(2 * time.Second)
	for _, attempt := range []int{1, 5, 100} {
		if got := s.Delay(attempt); got != 2*time.Second {
			t.Fatalf("Delay(%d) = %v, want 2s", attempt, got)
		}
	}
}

func TestExponential(t *testing.T) {
	t.Parallel()

	s := NewExponential(time.Second, 10*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped
		{10, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := s.Delay(tt.attempt); got != tt.want {
			t.Fatalf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponentialWithJitterBounds(t *testing.T) {
	t.Parallel()

	s := NewExponentialWithJitter(time.Second, 8*time.Second)

	for attempt := 1; attempt <= 6; attempt++ {
		ceiling := time.Duration(float64(time.Second) * float64(int(1)<<uint(attempt-1)))
		if ceiling > 8*time.Second {
			ceiling = 8 * time.Second
		}
		for i := 0; i < 50; i++ {
			d := s.Delay(attempt)
			if d < 0 || d > ceiling {
				t.Fatalf("Delay(%d) = %v, want in [0, %v]", attempt, d, ceiling)
			}
		}
	}
}

func TestDefaultStrategy(t *testing.T) {
	t.Parallel()

	s := DefaultStrategy()
	if d := s.Delay(20); d > 30*time.Second {
		t.Fatalf("default Delay(20) = %v, want <= 30s", d)
	}
}
