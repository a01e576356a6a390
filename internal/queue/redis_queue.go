package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"asset-pipeline/internal/models"
)

// Priorities within a kind's queue. Leasing drains high before default
// before low; across kinds no ordering exists.
const (
	PriorityHigh    = "high"
	PriorityDefault = "default"
	PriorityLow     = "low"
)

var priorities = []string{PriorityHigh, PriorityDefault, PriorityLow}

// terminalRecordTTL bounds how long a terminal job's record outlives its spot
// in the completed/failed retention lists.
const terminalRecordTTL = 24 * time.Hour

// ErrJobNotFound is returned when a job id has no backing record, typically
// because retention already purged it.
var ErrJobNotFound = errors.New("job not found")

// KindOptions configures retry and retention behavior for one kind's queue.
type KindOptions struct {
	Attempts         int
	BackoffBase      time.Duration
	RemoveOnComplete int
	RemoveOnFail     int
	Priority         string
}

// DefaultKindOptions returns the per-kind queue defaults. Image jobs retry
// harder and faster than video jobs, whose transforms are expensive enough
// that two attempts with a longer backoff is the better trade.
func DefaultKindOptions() map[models.Kind]KindOptions {
	return map[models.Kind]KindOptions{
		models.KindImage:    {Attempts: 3, BackoffBase: 5 * time.Second, RemoveOnComplete: 100, RemoveOnFail: 50, Priority: PriorityHigh},
		models.KindVideo:    {Attempts: 2, BackoffBase: 10 * time.Second, RemoveOnComplete: 50, RemoveOnFail: 25, Priority: PriorityDefault},
		models.KindDocument: {Attempts: 3, BackoffBase: 5 * time.Second, RemoveOnComplete: 100, RemoveOnFail: 50, Priority: PriorityLow},
	}
}

// EnqueueOptions tune a single enqueue call. Zero values fall back to the
// kind's configured defaults.
type EnqueueOptions struct {
	Priority    string
	Delay       time.Duration
	MaxAttempts int
}

// Queue is a durable, at-least-once job queue over Redis. Each kind gets its
// own set of ready lists, a scheduled set for delayed jobs, and an in-flight
// set scored by lease deadline. Job records live in per-job hashes so the
// queue, not the worker, owns every state transition.
type Queue struct {
	client             *redis.Client
	kinds              map[models.Kind]KindOptions
	leaseTTL           time.Duration
	scheduledBatchSize int64
}

// Config collects queue construction parameters.
type Config struct {
	LeaseTimeout       time.Duration
	ScheduledBatchSize int
	Kinds              map[models.Kind]KindOptions
}

// New builds a queue client. The redis client is injected so one connection
// is constructed at startup and shared explicitly.
func New(client *redis.Client, cfg Config) *Queue {
	if cfg.LeaseTimeout == 0 {
		cfg.LeaseTimeout = 2 * time.Minute
	}
	if cfg.ScheduledBatchSize == 0 {
		cfg.ScheduledBatchSize = 100
	}
	kinds := cfg.Kinds
	if kinds == nil {
		kinds = DefaultKindOptions()
	}
	return &Queue{
		client:             client,
		kinds:              kinds,
		leaseTTL:           cfg.LeaseTimeout,
		scheduledBatchSize: int64(cfg.ScheduledBatchSize),
	}
}

// Options returns the configured options for a kind.
func (q *Queue) Options(kind models.Kind) KindOptions {
	if o, ok := q.kinds[kind]; ok {
		return o
	}
	return KindOptions{Attempts: 3, BackoffBase: 5 * time.Second, RemoveOnComplete: 100, RemoveOnFail: 50, Priority: PriorityDefault}
}

func readyKey(kind models.Kind, priority string) string {
	return fmt.Sprintf("pipeline:%s:ready:%s", kind, priority)
}

func scheduledKey(kind models.Kind) string { return fmt.Sprintf("pipeline:%s:scheduled", kind) }
func inflightKey(kind models.Kind) string  { return fmt.Sprintf("pipeline:%s:inflight", kind) }
func completedKey(kind models.Kind) string { return fmt.Sprintf("pipeline:%s:completed", kind) }
func failedKey(kind models.Kind) string    { return fmt.Sprintf("pipeline:%s:failed", kind) }
func pausedKey(kind models.Kind) string    { return fmt.Sprintf("pipeline:%s:paused", kind) }
func jobKey(jobID string) string           { return "pipeline:job:" + jobID }

// Enqueue validates the payload, persists the job record, and makes it
// leasable (immediately or after an optional delay).
func (q *Queue) Enqueue(ctx context.Context, kind models.Kind, payload models.Payload, opts EnqueueOptions) (models.Job, error) {
	if err := payload.Validate(); err != nil {
		return models.Job{}, err
	}
	ko := q.Options(kind)
	if opts.Priority == "" {
		opts.Priority = ko.Priority
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = ko.Attempts
	}

	job := models.Job{
		ID:          uuid.New().String(),
		Kind:        kind,
		Payload:     payload,
		State:       models.StateWaiting,
		Priority:    opts.Priority,
		MaxAttempts: opts.MaxAttempts,
		CreatedAt:   time.Now().UTC(),
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return models.Job{}, fmt.Errorf("marshal payload: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, jobKey(job.ID), map[string]any{
		"id":           job.ID,
		"kind":         string(kind),
		"payload":      payloadJSON,
		"state":        job.State,
		"priority":     job.Priority,
		"attempts":     0,
		"max_attempts": job.MaxAttempts,
		"backoff_ms":   ko.BackoffBase.Milliseconds(),
		"progress":     0,
		"created_at":   job.CreatedAt.UnixMilli(),
	})
	if opts.Delay > 0 {
		pipe.HSet(ctx, jobKey(job.ID), "state", models.StateDelayed)
		pipe.ZAdd(ctx, scheduledKey(kind), redis.Z{Score: float64(time.Now().Add(opts.Delay).UnixMilli()), Member: job.ID})
		job.State = models.StateDelayed
	} else {
		pipe.RPush(ctx, readyKey(kind, job.Priority), job.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return models.Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

// Lease returns at most one job, exclusively owned by the caller until the
// lease deadline passes. Due delayed jobs are promoted and expired leases
// reclaimed first, so a crashed worker's job becomes leasable again here.
func (q *Queue) Lease(ctx context.Context, kind models.Kind) (*models.Job, error) {
	paused, err := q.client.Exists(ctx, pausedKey(kind)).Result()
	if err != nil {
		return nil, err
	}
	if paused > 0 {
		return nil, nil
	}

	now := time.Now()
	if _, err := q.promoteScheduled(ctx, kind, now); err != nil {
		return nil, err
	}
	if _, err := q.reclaimExpired(ctx, kind, now); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(priorities)+1)
	for _, p := range priorities {
		keys = append(keys, readyKey(kind, p))
	}
	keys = append(keys, inflightKey(kind))

	res, err := dequeueScript.Run(ctx, q.client, keys, now.Add(q.leaseTTL).UnixMilli()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	jobID, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected type from dequeue script: %T", res)
	}

	if err := q.client.HSet(ctx, jobKey(jobID), "state", models.StateActive).Err(); err != nil {
		return nil, err
	}
	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		// Record vanished between pop and load; drop the lease.
		_ = q.client.ZRem(ctx, inflightKey(kind), jobID).Err()
		return nil, err
	}
	return &job, nil
}

// promoteScheduled moves due delayed jobs back into their ready lists.
func (q *Queue) promoteScheduled(ctx context.Context, kind models.Kind, now time.Time) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, scheduledKey(kind), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: q.scheduledBatchSize,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		priority := q.jobPriority(ctx, id)
		pipe.ZRem(ctx, scheduledKey(kind), id)
		pipe.HSet(ctx, jobKey(id), "state", models.StateWaiting)
		pipe.RPush(ctx, readyKey(kind, priority), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// reclaimExpired re-queues leases whose deadline passed without completion.
// The attempt counter is untouched; only handler errors consume attempts.
func (q *Queue) reclaimExpired(ctx context.Context, kind models.Kind, now time.Time) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, inflightKey(kind), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: q.scheduledBatchSize,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		priority := q.jobPriority(ctx, id)
		pipe.ZRem(ctx, inflightKey(kind), id)
		pipe.HSet(ctx, jobKey(id), "state", models.StateWaiting)
		pipe.RPush(ctx, readyKey(kind, priority), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

func (q *Queue) jobPriority(ctx context.Context, jobID string) string {
	priority, err := q.client.HGet(ctx, jobKey(jobID), "priority").Result()
	if err != nil || priority == "" {
		return PriorityDefault
	}
	return priority
}

// ReportProgress raises the job's progress (monotonic, clamped to [0,100])
// and refreshes the lease deadline so a slow transform is not reclaimed
// mid-flight. Reports on jobs no longer leased refresh nothing.
func (q *Queue) ReportProgress(ctx context.Context, jobID string, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	kind, err := q.client.HGet(ctx, jobKey(jobID), "kind").Result()
	if err == redis.Nil {
		return ErrJobNotFound
	}
	if err != nil {
		return err
	}
	if err := progressScript.Run(ctx, q.client, []string{jobKey(jobID)}, percent).Err(); err != nil {
		return err
	}
	return q.client.ZAddXX(ctx, inflightKey(models.Kind(kind)), redis.Z{
		Score:  float64(time.Now().Add(q.leaseTTL).UnixMilli()),
		Member: jobID,
	}).Err()
}

// ExtendLease pushes the lease deadline forward for a long transform.
func (q *Queue) ExtendLease(ctx context.Context, jobID string, extension time.Duration) error {
	kind, err := q.client.HGet(ctx, jobKey(jobID), "kind").Result()
	if err == redis.Nil {
		return ErrJobNotFound
	}
	if err != nil {
		return err
	}
	return q.client.ZAddXX(ctx, inflightKey(models.Kind(kind)), redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: jobID,
	}).Err()
}

// Complete marks a leased job terminally successful and applies the
// completed-set retention policy.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	ko := q.Options(job.Kind)

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, jobKey(jobID), map[string]any{
		"state":       models.StateCompleted,
		"progress":    100,
		"finished_at": time.Now().UnixMilli(),
	})
	pipe.ZRem(ctx, inflightKey(job.Kind), jobID)
	pipe.LPush(ctx, completedKey(job.Kind), jobID)
	pipe.LTrim(ctx, completedKey(job.Kind), 0, int64(ko.RemoveOnComplete)-1)
	pipe.Expire(ctx, jobKey(jobID), terminalRecordTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// Fail records a failed attempt. While attempts remain the job is delayed by
// backoffBase * 2^(attemptsMade) and becomes leasable again once the delay
// elapses; otherwise it lands in the terminal failed set. Returns whether the
// job will be retried so the caller can distinguish transient from terminal
// on the asset record.
func (q *Queue) Fail(ctx context.Context, jobID string, jobErr error) (retrying bool, err error) {
	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	ko := q.Options(job.Kind)

	backoffBase := ko.BackoffBase
	if ms, err := q.client.HGet(ctx, jobKey(jobID), "backoff_ms").Int64(); err == nil && ms > 0 {
		backoffBase = time.Duration(ms) * time.Millisecond
	}

	attempts := job.Attempts + 1
	msg := "unknown error"
	if jobErr != nil {
		msg = jobErr.Error()
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, jobKey(jobID), map[string]any{
		"attempts": attempts,
		"error":    msg,
	})
	pipe.ZRem(ctx, inflightKey(job.Kind), jobID)

	if attempts < job.MaxAttempts {
		delay := backoffBase << (attempts - 1)
		pipe.HSet(ctx, jobKey(jobID), "state", models.StateDelayed)
		pipe.ZAdd(ctx, scheduledKey(job.Kind), redis.Z{
			Score:  float64(time.Now().Add(delay).UnixMilli()),
			Member: jobID,
		})
		retrying = true
	} else {
		pipe.HSet(ctx, jobKey(jobID), map[string]any{
			"state":       models.StateFailed,
			"finished_at": time.Now().UnixMilli(),
		})
		pipe.LPush(ctx, failedKey(job.Kind), jobID)
		pipe.LTrim(ctx, failedKey(job.Kind), 0, int64(ko.RemoveOnFail)-1)
		pipe.Expire(ctx, jobKey(jobID), terminalRecordTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return retrying, nil
}

// Discard fails a job terminally without consuming retries. Used for
// contract errors (malformed payloads) detected before any side effect,
// where retrying could never succeed.
func (q *Queue) Discard(ctx context.Context, jobID string, jobErr error) error {
	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	ko := q.Options(job.Kind)

	msg := "discarded"
	if jobErr != nil {
		msg = jobErr.Error()
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, jobKey(jobID), map[string]any{
		"state":       models.StateFailed,
		"error":       msg,
		"finished_at": time.Now().UnixMilli(),
	})
	pipe.ZRem(ctx, inflightKey(job.Kind), jobID)
	pipe.LPush(ctx, failedKey(job.Kind), jobID)
	pipe.LTrim(ctx, failedKey(job.Kind), 0, int64(ko.RemoveOnFail)-1)
	pipe.Expire(ctx, jobKey(jobID), terminalRecordTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// RetryFailed moves a terminally failed job back to waiting with a fresh
// attempt budget.
func (q *Queue) RetryFailed(ctx context.Context, jobID string) error {
	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State != models.StateFailed {
		return fmt.Errorf("job %s is %s, not failed", jobID, job.State)
	}

	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, failedKey(job.Kind), 0, jobID)
	pipe.HSet(ctx, jobKey(jobID), map[string]any{
		"state":    models.StateWaiting,
		"attempts": 0,
		"progress": 0,
		"error":    "",
	})
	pipe.HDel(ctx, jobKey(jobID), "finished_at")
	pipe.Persist(ctx, jobKey(jobID))
	pipe.RPush(ctx, readyKey(job.Kind, job.Priority), jobID)
	_, err = pipe.Exec(ctx)
	return err
}

// Remove deletes a job from every queue structure. Derived artifacts are
// idempotently overwritten keys, so removal performs no artifact cleanup.
func (q *Queue) Remove(ctx context.Context, jobID string) error {
	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	pipe := q.client.TxPipeline()
	for _, p := range priorities {
		pipe.LRem(ctx, readyKey(job.Kind, p), 0, jobID)
	}
	pipe.ZRem(ctx, scheduledKey(job.Kind), jobID)
	pipe.ZRem(ctx, inflightKey(job.Kind), jobID)
	pipe.LRem(ctx, completedKey(job.Kind), 0, jobID)
	pipe.LRem(ctx, failedKey(job.Kind), 0, jobID)
	pipe.Del(ctx, jobKey(jobID))
	_, err = pipe.Exec(ctx)
	return err
}

// GetJob loads a job record by id.
func (q *Queue) GetJob(ctx context.Context, jobID string) (models.Job, error) {
	fields, err := q.client.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return models.Job{}, err
	}
	if len(fields) == 0 {
		return models.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return jobFromHash(fields)
}

func jobFromHash(fields map[string]string) (models.Job, error) {
	job := models.Job{
		ID:        fields["id"],
		Kind:      models.Kind(fields["kind"]),
		State:     fields["state"],
		Priority:  fields["priority"],
		LastError: fields["error"],
	}
	if err := json.Unmarshal([]byte(fields["payload"]), &job.Payload); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal payload for job %s: %w", job.ID, err)
	}
	job.Attempts, _ = strconv.Atoi(fields["attempts"])
	job.MaxAttempts, _ = strconv.Atoi(fields["max_attempts"])
	job.Progress, _ = strconv.Atoi(fields["progress"])
	if ms, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil {
		job.CreatedAt = time.UnixMilli(ms).UTC()
	}
	if ms, err := strconv.ParseInt(fields["finished_at"], 10, 64); err == nil {
		job.FinishedAt = time.UnixMilli(ms).UTC()
	}
	return job, nil
}

// ListByState returns job records for a kind in the given state over the
// requested range.
func (q *Queue) ListByState(ctx context.Context, kind models.Kind, state string, start, stop int64) ([]models.Job, error) {
	var ids []string
	var err error

	switch state {
	case models.StateWaiting:
		for _, p := range priorities {
			batch, lerr := q.client.LRange(ctx, readyKey(kind, p), start, stop).Result()
			if lerr != nil {
				return nil, lerr
			}
			ids = append(ids, batch...)
		}
	case models.StateDelayed:
		ids, err = q.client.ZRange(ctx, scheduledKey(kind), start, stop).Result()
	case models.StateActive:
		ids, err = q.client.ZRange(ctx, inflightKey(kind), start, stop).Result()
	case models.StateCompleted:
		ids, err = q.client.LRange(ctx, completedKey(kind), start, stop).Result()
	case models.StateFailed:
		ids, err = q.client.LRange(ctx, failedKey(kind), start, stop).Result()
	default:
		return nil, fmt.Errorf("unknown state %q", state)
	}
	if err != nil {
		return nil, err
	}

	jobs := make([]models.Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Counts reports how many jobs a kind has per state.
func (q *Queue) Counts(ctx context.Context, kind models.Kind) (map[string]int64, error) {
	pipe := q.client.Pipeline()
	readyCmds := make([]*redis.IntCmd, 0, len(priorities))
	for _, p := range priorities {
		readyCmds = append(readyCmds, pipe.LLen(ctx, readyKey(kind, p)))
	}
	delayed := pipe.ZCard(ctx, scheduledKey(kind))
	active := pipe.ZCard(ctx, inflightKey(kind))
	completed := pipe.LLen(ctx, completedKey(kind))
	failed := pipe.LLen(ctx, failedKey(kind))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	var waiting int64
	for _, c := range readyCmds {
		waiting += c.Val()
	}
	return map[string]int64{
		models.StateWaiting:   waiting,
		models.StateDelayed:   delayed.Val(),
		models.StateActive:    active.Val(),
		models.StateCompleted: completed.Val(),
		models.StateFailed:    failed.Val(),
	}, nil
}

// Clean purges terminal jobs that finished before the grace window. Only
// completed and failed sets are cleanable.
func (q *Queue) Clean(ctx context.Context, kind models.Kind, olderThan time.Duration, state string) (int, error) {
	var key string
	switch state {
	case models.StateCompleted:
		key = completedKey(kind)
	case models.StateFailed:
		key = failedKey(kind)
	default:
		return 0, fmt.Errorf("cannot clean state %q", state)
	}

	ids, err := q.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-olderThan).UnixMilli()

	removed := 0
	for _, id := range ids {
		ms, err := q.client.HGet(ctx, jobKey(id), "finished_at").Int64()
		if err == redis.Nil {
			// Orphaned id with no record; drop it from the list.
			_ = q.client.LRem(ctx, key, 0, id).Err()
			removed++
			continue
		}
		if err != nil {
			return removed, err
		}
		if ms <= cutoff {
			pipe := q.client.TxPipeline()
			pipe.LRem(ctx, key, 0, id)
			pipe.Del(ctx, jobKey(id))
			if _, err := pipe.Exec(ctx); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// Pause stops Lease from handing out jobs for a kind until Resume.
func (q *Queue) Pause(ctx context.Context, kind models.Kind) error {
	return q.client.Set(ctx, pausedKey(kind), "1", 0).Err()
}

// Resume lifts a pause.
func (q *Queue) Resume(ctx context.Context, kind models.Kind) error {
	return q.client.Del(ctx, pausedKey(kind)).Err()
}

// Depth returns the total ready-list length for a kind, for telemetry.
func (q *Queue) Depth(ctx context.Context, kind models.Kind) (int64, error) {
	pipe := q.client.Pipeline()
	cmds := make([]*redis.IntCmd, 0, len(priorities))
	for _, p := range priorities {
		cmds = append(cmds, pipe.LLen(ctx, readyKey(kind, p)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	var total int64
	for _, c := range cmds {
		total += c.Val()
	}
	return total, nil
}

// Ping verifies the Redis connection for health checks.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

var dequeueScript = redis.NewScript(`
local inflight = KEYS[#KEYS]
for i=1,#KEYS-1 do
  local job = redis.call('LPOP', KEYS[i])
  if job then
    redis.call('ZADD', inflight, ARGV[1], job)
    return job
  end
end
return nil
`)

var progressScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], 'progress') or '0')
local p = tonumber(ARGV[1])
if p > cur then
  redis.call('HSET', KEYS[1], 'progress', p)
  return p
end
return cur
`)
