package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestSchedule(t *testing.T) *PollSchedule {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewPollSchedule(client)
}

func TestDueReturnsOnlyDueJobs(t *testing.T) {
	s := newTestSchedule(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.Schedule(ctx, "job-a", now.Add(-time.Minute)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.Schedule(ctx, "job-b", now.Add(-time.Second)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.Schedule(ctx, "job-c", now.Add(time.Hour)); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	ids, err := s.Due(ctx, now, 10)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(ids) != 2 || ids[0] != "job-a" || ids[1] != "job-b" {
		t.Fatalf("ids = %v", ids)
	}

	// Popped ids are gone; the future job is untouched.
	ids, err = s.Due(ctx, now, 10)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("second pop should be empty, got %v", ids)
	}
	ids, err = s.Due(ctx, now.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(ids) != 1 || ids[0] != "job-c" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestDueHonorsLimit(t *testing.T) {
	s := newTestSchedule(t)
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"j1", "j2", "j3"} {
		if err := s.Schedule(ctx, id, now.Add(-time.Minute)); err != nil {
			t.Fatalf("schedule: %v", err)
		}
	}
	ids, err := s.Due(ctx, now, 2)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ids = %v, want 2", ids)
	}
}

func TestScheduleMovesExistingJob(t *testing.T) {
	s := newTestSchedule(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.Schedule(ctx, "job-a", now.Add(-time.Minute)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.Schedule(ctx, "job-a", now.Add(time.Hour)); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	ids, err := s.Due(ctx, now, 10)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("rescheduled job must not be due, got %v", ids)
	}
}

func TestRemove(t *testing.T) {
	s := newTestSchedule(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.Schedule(ctx, "job-a", now.Add(-time.Minute)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.Remove(ctx, "job-a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	ids, err := s.Due(ctx, now, 10)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("removed job must not be due, got %v", ids)
	}
}
