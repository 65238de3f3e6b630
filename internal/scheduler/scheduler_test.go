package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextWakeAlignsToBoundary(t *testing.T) {
	s := NewAlignedScheduler(context.Background(), 15*time.Minute, 0)

	now := time.Date(2026, 3, 1, 10, 7, 30, 0, time.UTC)
	wakeAt, wait := s.nextWake(now)

	assert.Equal(t, time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC), wakeAt)
	assert.Equal(t, 7*time.Minute+30*time.Second, wait)
}

func TestNextWakeAppliesOffset(t *testing.T) {
	s := NewAlignedScheduler(context.Background(), time.Hour, 5*time.Minute)

	now := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	wakeAt, _ := s.nextWake(now)

	assert.Equal(t, time.Date(2026, 3, 1, 11, 5, 0, 0, time.UTC), wakeAt)
}

func TestStartRunImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewAlignedScheduler(ctx, time.Hour, 0)
	s.RunImmediately = true

	ran := make(chan struct{}, 1)
	go s.Start(func() {
		ran <- struct{}{}
		cancel()
	})

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("immediate run never fired")
	}
}

func TestStartRejectsInvalidInterval(t *testing.T) {
	done := make(chan struct{})
	s := NewAlignedScheduler(context.Background(), 0, 0)

	go func() {
		s.Start(func() { t.Error("task must not run with zero interval") })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not exit on invalid interval")
	}
}
