// Package resendlimit throttles verification re-issues so the email-matched
// resend endpoint cannot be driven in a loop.
package resendlimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"schoolreg/pkg/platform/sentinel"
)

// DefaultCooldown is the minimum gap between re-issues per application.
const DefaultCooldown = time.Minute

// RedisLimiter enforces a per-application cooldown with SET NX. The key
// expires on its own, so a crashed process leaves no stuck cooldowns.
type RedisLimiter struct {
	client   *redis.Client
	cooldown time.Duration
	logger   *slog.Logger
}

// NewRedisLimiter builds a limiter over the given client. A zero cooldown
// falls back to DefaultCooldown.
func NewRedisLimiter(client *redis.Client, cooldown time.Duration, logger *slog.Logger) *RedisLimiter {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &RedisLimiter{client: client, cooldown: cooldown, logger: logger}
}

// Allow reserves the cooldown slot for the application. Returns
// sentinel.ErrConflict while a prior reservation is still live. Redis being
// unreachable fails open: a missed throttle is better than a dead resend
// path.
func (l *RedisLimiter) Allow(ctx context.Context, applicationID uuid.UUID) error {
	key := fmt.Sprintf("schoolreg:resend:%s", applicationID)
	ok, err := l.client.SetNX(ctx, key, 1, l.cooldown).Result()
	if err != nil {
		l.logger.WarnContext(ctx, "resend throttle check failed, allowing resend",
			"application_id", applicationID, "error", err)
		return nil
	}
	if !ok {
		return fmt.Errorf("resend cooldown active for %s: %w", applicationID, sentinel.ErrConflict)
	}
	return nil
}
