package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultScheduleKey = "sora:poll_schedule"

// PollSchedule tracks when each active job is next due for a provider poll.
// Job ids live in a redis sorted set scored by their next-poll unix time, so
// the poller only touches jobs that are actually due instead of sweeping the
// whole table every run.
type PollSchedule struct {
	client *redis.Client
	key    string
}

// NewPollSchedule builds a schedule on the given redis client.
func NewPollSchedule(client *redis.Client) *PollSchedule {
	return &PollSchedule{client: client, key: defaultScheduleKey}
}

// Schedule sets or moves the job's next poll time.
func (s *PollSchedule) Schedule(ctx context.Context, jobID string, at time.Time) error {
	return s.client.ZAdd(ctx, s.key, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: jobID,
	}).Err()
}

// Due pops up to limit job ids whose poll time has passed. Popped ids are
// removed; non-terminal jobs get rescheduled by the poller after the poll.
func (s *PollSchedule) Due(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	if err := s.client.ZRem(ctx, s.key, members...).Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Remove drops a job from the schedule, typically once it goes terminal.
func (s *PollSchedule) Remove(ctx context.Context, jobID string) error {
	return s.client.ZRem(ctx, s.key, jobID).Err()
}
