package ratelimit

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-accounts"
)

const (
	DefaultMaxAttempts = 5
	DefaultWindow      = 15 * time.Minute
	DefaultKeyPrefix   = "accounts"
)

// Config tunes the fixed window counters
type Config struct {
	MaxAttempts int
	Window      time.Duration
	KeyPrefix   string
	// ThrottleEmail counts reset requests per target address
	ThrottleEmail bool
	// ThrottleIP counts requests and confirmations per caller address
	ThrottleIP bool
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:   DefaultMaxAttempts,
		Window:        DefaultWindow,
		KeyPrefix:     DefaultKeyPrefix,
		ThrottleEmail: true,
		ThrottleIP:    true,
	}
}

// ResetLimiter is a redis backed accounts.ResetLimiter
type ResetLimiter struct {
	redis  redis.Cmdable
	config Config
}

var _ accounts.ResetLimiter = (*ResetLimiter)(nil)

func NewResetLimiter(client redis.Cmdable, cfg Config) *ResetLimiter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	return &ResetLimiter{redis: client, config: cfg}
}

func (l *ResetLimiter) CheckRequest(ctx context.Context, email, ip string) error {
	if l.config.ThrottleEmail && email != "" {
		if err := l.enforce(ctx, l.key("rst:req:email", email)); err != nil {
			return err
		}
	}
	if l.config.ThrottleIP && ip != "" {
		if err := l.enforce(ctx, l.key("rst:req:ip", ip)); err != nil {
			return err
		}
	}
	return nil
}

func (l *ResetLimiter) CheckConfirm(ctx context.Context, ip string) error {
	if l.config.ThrottleIP && ip != "" {
		return l.enforce(ctx, l.key("rst:cfm:ip", ip))
	}
	return nil
}

// Cooldown is how long a caller waits once limited
func (l *ResetLimiter) Cooldown() time.Duration {
	return l.config.Window
}

func (l *ResetLimiter) enforce(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "reset limiter unavailable")
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryExternal, "reset limiter unavailable")
		}
	}

	if count > int64(l.config.MaxAttempts) {
		return accounts.ErrResetRateLimited
	}

	return nil
}

func (l *ResetLimiter) key(kind, value string) string {
	return l.config.KeyPrefix + ":" + kind + ":" + value
}
