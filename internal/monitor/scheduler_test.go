package monitor

import (
	"testing"
	"time"
)

func TestBackoffDelayNeverBelowPollingInterval(t *testing.T) {
	interval := 60 * time.Second
	max := 5 * time.Minute

	for failures := 1; failures <= 10; failures++ {
		delay := backoffDelay(failures, interval, max)
		if delay < interval {
			t.Errorf("failures=%d: delay = %v, want at least %v", failures, delay, interval)
		}
		if delay > max {
			t.Errorf("failures=%d: delay = %v, want at most %v", failures, delay, max)
		}
	}
}

func TestBackoffDelayDoublesAboveInterval(t *testing.T) {
	interval := time.Second
	max := time.Minute

	cases := []struct {
		failures int
		want     time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{6, time.Minute}, // capped
		{9, time.Minute},
	}
	for _, tc := range cases {
		if got := backoffDelay(tc.failures, interval, max); got != tc.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tc.failures, got, tc.want)
		}
	}
}
