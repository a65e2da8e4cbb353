package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"thumbnail-service/internal/config"
	"thumbnail-service/internal/domain"
	"thumbnail-service/internal/domain/model"
	"thumbnail-service/internal/domain/ports/adapter"
	"thumbnail-service/internal/infra/metrics"
)

var (
	_ adapter.TaskQueue       = (*Queue)(nil)
	_ adapter.TaskConsumer    = (*Queue)(nil)
	_ adapter.TaskEventSource = (*Queue)(nil)
)

const (
	consumerGroup = "workers"
	guardTTL      = 24 * time.Hour
)

// Queue is the broker facade: a Redis stream consumed through a consumer
// group, one hash per task holding the payload, and a Pub/Sub channel
// carrying lifecycle events.
//
// Keys, with prefix "thumbq" and queue "thumbnails":
//
//	thumbq:thumbnails:wait         stream of task ids
//	thumbq:thumbnails:task:<id>    task hash
//	thumbq:thumbnails:job:<jobID>  job -> task guard
//	thumbq:thumbnails:completed    retention set (score: finish time)
//	thumbq:thumbnails:failed       retention set
//	thumbq:thumbnails:events       lifecycle channel
type Queue struct {
	producer *redis.Client
	blocking *redis.Client
	ready    *Readiness

	base            string
	readyTimeout    time.Duration
	claimBlock      time.Duration
	retainCompleted int64
	retainFailed    int64

	log *zerolog.Logger
}

// NewQueue builds the facade. claimBlock bounds a single XREADGROUP; a
// negative value disables blocking.
func NewQueue(clients *Clients, cfg config.RedisConfig, claimBlock time.Duration, logger *zerolog.Logger) *Queue {
	if claimBlock == 0 {
		claimBlock = 5 * time.Second
	}
	return &Queue{
		producer:        clients.Producer,
		blocking:        clients.Blocking,
		ready:           NewReadiness(),
		base:            cfg.Prefix + ":" + cfg.Queue,
		readyTimeout:    cfg.ReadyTimeout,
		claimBlock:      claimBlock,
		retainCompleted: cfg.RetainCompleted,
		retainFailed:    cfg.RetainFailed,
		log:             logger,
	}
}

func (q *Queue) streamKey() string            { return q.base + ":wait" }
func (q *Queue) taskKeyPrefix() string        { return q.base + ":task:" }
func (q *Queue) taskKey(id string) string     { return q.taskKeyPrefix() + id }
func (q *Queue) jobKey(jobID string) string   { return q.base + ":job:" + jobID }
func (q *Queue) retentionKey(s string) string { return q.base + ":" + s }
func (q *Queue) channel() string              { return q.base + ":events" }

// Init pings the broker until it answers or the ready timeout elapses, then
// creates the consumer group. It runs once; later calls return the first
// outcome.
func (q *Queue) Init(ctx context.Context) error {
	err := q.ready.Init(ctx, q.readyTimeout,
		func(ctx context.Context) error { return q.producer.Ping(ctx).Err() },
		func(ctx context.Context) error {
			err := q.producer.XGroupCreateMkStream(ctx, q.streamKey(), consumerGroup, "0").Err()
			if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
				return fmt.Errorf("create consumer group: %w", err)
			}
			return nil
		},
	)
	metrics.SetQueueAvailable(err == nil)
	if err != nil {
		q.log.Error().Err(err).Str("addr", q.producer.Options().Addr).Msg("task queue unavailable")
		return err
	}
	q.log.Info().Str("addr", q.producer.Options().Addr).Msg("task queue ready")
	return nil
}

func (q *Queue) Ready() <-chan struct{} { return q.ready.Done() }

func (q *Queue) Err() error { return q.ready.Err() }

func (q *Queue) State() ReadyState { return q.ready.State() }

// IsAvailable never blocks.
func (q *Queue) IsAvailable() bool { return q.ready.IsReady() }

// awaitReady waits for an in-flight initialization so early callers are not
// reported as unavailable.
func (q *Queue) awaitReady(ctx context.Context) error {
	select {
	case <-q.ready.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if !q.ready.IsReady() {
		return domain.ErrBrokerUnavailable
	}
	return nil
}

func (q *Queue) Enqueue(ctx context.Context, payload model.TaskPayload, opts ...adapter.EnqueueOption) (string, error) {
	if q.State() == StateFailed {
		return "", domain.ErrBrokerUnavailable
	}
	if err := q.awaitReady(ctx); err != nil {
		return "", err
	}
	var o adapter.EnqueueOptions
	for _, opt := range opts {
		opt(&o)
	}

	taskID := ulid.Make().String()
	ok, err := q.producer.SetNX(ctx, q.jobKey(payload.JobID), taskID, guardTTL).Result()
	if err != nil {
		return "", fmt.Errorf("reserve task: %w", err)
	}
	if !ok {
		return "", domain.ErrAlreadyExists
	}

	if o.BeforeDispatch != nil {
		if err := o.BeforeDispatch(ctx, taskID); err != nil {
			q.release(ctx, payload.JobID)
			return "", err
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	event, _ := json.Marshal(model.TaskEvent{TaskID: taskID, Event: model.TaskEventWaiting})
	now := time.Now().UnixMilli()
	_, err = q.producer.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.taskKey(taskID),
			"payload", body,
			"state", string(model.TaskStateWaiting),
			"progress", 0,
			"created_at", now,
		)
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: q.streamKey(),
			Values: map[string]interface{}{"task_id": taskID},
		})
		pipe.Publish(ctx, q.channel(), event)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("dispatch task: %w", err)
	}
	return taskID, nil
}

// Claim reads at most one new entry for consumer. domain.ErrNotFound means
// nothing was ready within the claim block.
func (q *Queue) Claim(ctx context.Context, consumer string) (*model.Task, error) {
	if err := q.awaitReady(ctx); err != nil {
		return nil, err
	}
	streams, err := q.blocking.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    consumerGroup,
		Consumer: consumer,
		Streams:  []string{q.streamKey(), ">"},
		Count:    1,
		Block:    q.claimBlock,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, domain.ErrNotFound
	}

	msg := streams[0].Messages[0]
	taskID, _ := msg.Values["task_id"].(string)
	task, err := q.GetTask(ctx, taskID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// entry without a task hash (purged or foreign); drop it
		q.ack(ctx, msg.ID)
		return nil, fmt.Errorf("load task %q: %w", taskID, err)
	case err != nil:
		// the entry stays pending until the caller fails the task
		unread := &model.Task{ID: taskID, EntryID: msg.ID, State: model.TaskStateActive}
		return unread, fmt.Errorf("load task %q: %w: %w", taskID, err, domain.ErrUnprocessableTask)
	}
	task.EntryID = msg.ID
	task.State = model.TaskStateActive

	event, _ := json.Marshal(model.TaskEvent{TaskID: task.ID, Event: model.TaskEventActive})
	_, err = q.producer.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.taskKey(task.ID),
			"state", string(model.TaskStateActive),
			"entry_id", msg.ID,
			"consumer", consumer,
			"started_at", time.Now().UnixMilli(),
		)
		pipe.Publish(ctx, q.channel(), event)
		return nil
	})
	if err != nil {
		return task, fmt.Errorf("mark task active: %w: %w", err, domain.ErrUnprocessableTask)
	}
	return task, nil
}

func (q *Queue) ReportProgress(ctx context.Context, task *model.Task, progress int) error {
	event, _ := json.Marshal(model.TaskEvent{TaskID: task.ID, Event: model.TaskEventProgress, Progress: progress})
	_, err := q.producer.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.taskKey(task.ID), "progress", progress)
		pipe.Publish(ctx, q.channel(), event)
		return nil
	})
	if err == nil {
		task.Progress = progress
	}
	return err
}

func (q *Queue) Complete(ctx context.Context, task *model.Task, result *model.ThumbnailResult) error {
	res, _ := json.Marshal(result)
	return q.finish(ctx, task, model.TaskStateCompleted, q.retainCompleted,
		model.TaskEvent{TaskID: task.ID, Event: model.TaskEventCompleted, Progress: model.ProgressDone, Result: result},
		"result", string(res))
}

func (q *Queue) Fail(ctx context.Context, task *model.Task, reason string) error {
	return q.finish(ctx, task, model.TaskStateFailed, q.retainFailed,
		model.TaskEvent{TaskID: task.ID, Event: model.TaskEventFailed, Reason: reason},
		"reason", reason)
}

func (q *Queue) finish(ctx context.Context, task *model.Task, state model.TaskState, retain int64, ev model.TaskEvent, field, value string) error {
	event, _ := json.Marshal(ev)
	now := time.Now().UnixMilli()
	set := q.retentionKey(string(state))
	_, err := q.producer.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if task.EntryID != "" {
			pipe.XAck(ctx, q.streamKey(), consumerGroup, task.EntryID)
			pipe.XDel(ctx, q.streamKey(), task.EntryID)
		}
		pipe.HSet(ctx, q.taskKey(task.ID), "state", string(state), field, value, "finished_at", now)
		pipe.ZAdd(ctx, set, &redis.Z{Score: float64(now), Member: task.ID})
		pipe.Publish(ctx, q.channel(), event)
		return nil
	})
	if err != nil {
		return fmt.Errorf("finish task: %w", err)
	}
	task.State = state

	if n, err := luaTrim.Run(ctx, q.producer, []string{set}, retain, q.taskKeyPrefix()).Int64(); err != nil {
		q.log.Warn().Err(err).Str("set", set).Msg("retention trim failed")
	} else if n > 0 {
		q.log.Debug().Int64("purged", n).Str("set", set).Msg("retention trim")
	}
	return nil
}

// luaTrim keeps the newest ARGV[1] members of KEYS[1] and deletes the task
// hashes of the rest.
var luaTrim = redis.NewScript(`
local n = redis.call("ZCARD", KEYS[1])
local keep = tonumber(ARGV[1])
if n <= keep then
	return 0
end
local old = redis.call("ZRANGE", KEYS[1], 0, n - keep - 1)
for _, id in ipairs(old) do
	redis.call("DEL", ARGV[2] .. id)
end
redis.call("ZREMRANGEBYRANK", KEYS[1], 0, n - keep - 1)
return #old`)

// release drops the job guard so the job could be enqueued again.
func (q *Queue) release(ctx context.Context, jobID string) {
	if err := q.producer.Del(ctx, q.jobKey(jobID)).Err(); err != nil {
		q.log.Warn().Err(err).Str("job_id", jobID).Msg("failed to release job guard")
	}
}

func (q *Queue) ack(ctx context.Context, entryID string) {
	if err := q.producer.XAck(ctx, q.streamKey(), consumerGroup, entryID).Err(); err != nil {
		q.log.Warn().Err(err).Str("entry_id", entryID).Msg("xack failed")
	}
}

// GetTask reads a task back with its original payload.
func (q *Queue) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	if taskID == "" {
		return nil, domain.ErrNotFound
	}
	fields, err := q.producer.HGetAll(ctx, q.taskKey(taskID)).Result()
	if err != nil {
		return nil, err
	}
	raw, ok := fields["payload"]
	if !ok {
		return nil, domain.ErrNotFound
	}
	task := &model.Task{
		ID:      taskID,
		EntryID: fields["entry_id"],
		State:   model.TaskState(fields["state"]),
	}
	task.Progress, _ = strconv.Atoi(fields["progress"])
	if err := json.Unmarshal([]byte(raw), &task.Payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return task, nil
}

// Listen subscribes to the lifecycle channel on the blocking client and
// feeds every decodable event to fn. It returns nil when ctx ends and an
// error when the subscription could not be established or was closed.
func (q *Queue) Listen(ctx context.Context, fn func(model.TaskEvent)) error {
	if err := q.awaitReady(ctx); err != nil {
		return err
	}
	sub := q.blocking.Subscribe(ctx, q.channel())
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", q.channel(), err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("lifecycle subscription closed")
			}
			var ev model.TaskEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil || ev.TaskID == "" {
				q.log.Warn().Str("payload", msg.Payload).Msg("undecodable lifecycle event")
				continue
			}
			fn(ev)
		}
	}
}
