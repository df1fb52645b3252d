package clock

import (
	"context"
	"time"
)

// Sleeper pauses between actions. Tests replace it to run without waiting.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// RealSleeper sleeps on a timer and wakes early when ctx is done.
type RealSleeper struct{}

func (RealSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NopSleeper records requested durations without sleeping.
type NopSleeper struct {
	Slept []time.Duration
}

func (s *NopSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.Slept = append(s.Slept, d)
	return nil
}
