package loki

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageReader is the consumer side of the security event topic. *kafka.Reader satisfies it.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

const (
	pushAttempts = 3
	pushTimeout  = 10 * time.Second
	retryBackoff = 500 * time.Millisecond
)

// Forward pushes every message from r to c until ctx is done. A message is committed once it
// was pushed or its retries are spent, so one bad event cannot stall the partition.
func Forward(ctx context.Context, r MessageReader, c *Client) error {
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			zap.L().Warn("loki forward: kafka read failed", zap.Error(err))
			continue
		}
		if err := pushWithRetry(ctx, c, msg.Value); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			zap.L().Warn("loki forward: dropping event after retries",
				zap.Int64("offset", msg.Offset), zap.Error(err))
		}
		if err := r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			zap.L().Warn("loki forward: commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func pushWithRetry(ctx context.Context, c *Client, raw []byte) error {
	var err error
	for attempt := 0; attempt < pushAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff * time.Duration(attempt)):
			}
		}
		pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
		err = c.PushEventJSON(pushCtx, raw)
		cancel()
		if err == nil {
			return nil
		}
	}
	return err
}
