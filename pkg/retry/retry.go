// Package retry 提供带退避策略的有界重试。
package retry

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidMaxAttempts 表示 maxAttempts <= 0。
var ErrInvalidMaxAttempts = errors.New("retry: maxAttempts must be > 0")

// Backoff 返回第 attempt 次失败后（attempt 从 1 开始）需要等待的时长。
type Backoff func(attempt int) time.Duration

// Exponential 返回 base * 2^(attempt-1) 的指数退避策略。
func Exponential(base time.Duration) Backoff {
	return func(attempt int) time.Duration {
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
		}
		return d
	}
}

// Constant 每次等待固定时长。
func Constant(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

// Do 最多执行 fn maxAttempts 次，成功即返回 nil；全部失败时返回最后一次的错误。
// 等待期间 ctx 被取消则立即返回 ctx.Err()。
func Do(ctx context.Context, maxAttempts int, backoff Backoff, fn func(ctx context.Context) error) error {
	if maxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	if backoff == nil {
		backoff = Constant(0)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
