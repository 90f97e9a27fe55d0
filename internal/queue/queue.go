// Package queue provides a durable, at-least-once job queue on top of
// Redis Streams with a consumer group per queue name.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue is a single named Redis stream plus its consumer group.
type Queue struct {
	client *redis.Client
	name   string
	group  string
}

// New connects to the Redis instance at url and binds to the stream
// "name", creating its consumer group "group" if it doesn't exist yet.
func New(ctx context.Context, url, name, group string) (*Queue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	q := &Queue{client: client, name: name, group: group}
	if err := q.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.name, q.group, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

func (q *Queue) Close() error { return q.client.Close() }

// Enqueue appends a new job envelope to the stream and returns its
// stream-assigned message id.
func (q *Queue) Enqueue(ctx context.Context, jobID string, payload []byte) (string, error) {
	res, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.name,
		Values: map[string]interface{}{"jobId": jobID, "payload": payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	return res, nil
}

// Message is one dequeued stream entry awaiting acknowledgement.
type Message struct {
	StreamID string
	JobID    string
	Payload  []byte
}

// Consume blocks (up to block) for up to count pending messages assigned
// to consumerName under this queue's group.
func (q *Queue) Consume(ctx context.Context, consumerName string, count int64, block time.Duration) ([]Message, error) {
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumerName,
		Streams:  []string{q.name, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("consume from %s: %w", q.name, err)
	}

	var out []Message
	for _, stream := range res {
		for _, entry := range stream.Messages {
			m := Message{StreamID: entry.ID}
			if v, ok := entry.Values["jobId"].(string); ok {
				m.JobID = v
			}
			switch v := entry.Values["payload"].(type) {
			case string:
				m.Payload = []byte(v)
			case []byte:
				m.Payload = v
			}
			out = append(out, m)
		}
	}
	return out, nil
}

// Ack acknowledges a processed message, removing it from the group's
// pending entries list.
func (q *Queue) Ack(ctx context.Context, streamID string) error {
	return q.client.XAck(ctx, q.name, q.group, streamID).Err()
}

// Trim caps the stream to approximately maxLen entries, discarding the
// oldest beyond that bound (retention policy for completed/failed jobs).
func (q *Queue) Trim(ctx context.Context, maxLen int64) error {
	return q.client.XTrimMaxLenApprox(ctx, q.name, maxLen, 0).Err()
}
