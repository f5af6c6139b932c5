// Package analytics appends pipeline telemetry onto a Redis stream.
// Emission is fire-and-forget: every failure is logged and discarded so
// telemetry can never abort the pipeline.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Sink writes events to a Redis stream. A nil *Sink silently drops
// events, so callers never guard their Track calls.
type Sink struct {
	rdb    *redis.Client
	stream string
	logger *zap.Logger
}

// New connects to Redis and returns a Sink for the given stream.
func New(redisURL, stream string, logger *zap.Logger) (*Sink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Sink{rdb: rdb, stream: stream, logger: logger}, nil
}

// Track appends one event. Never returns an error and never blocks the
// caller for longer than the internal write timeout.
func (s *Sink) Track(eventType string, payload map[string]interface{}) {
	if s == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("analytics payload not serializable", zap.String("event", eventType), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"event":   eventType,
			"payload": string(data),
			"at":      time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		s.logger.Warn("analytics event dropped", zap.String("event", eventType), zap.Error(err))
	}
}

// Close shuts down the Redis connection.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	return s.rdb.Close()
}
