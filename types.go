package accounts

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Logger is the logging contract used across the package. A glog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Identity holds the attributes of an authenticated account
type Identity interface {
	GetID() string
	GetUsername() string
	GetEmail() string
	GetRole() string
	IsAdmin() bool
}

// Notifier delivers a plain text message. Delivery is attempted once, the
// caller treats failures as soft.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, to, subject, body string) error

// Send implements Notifier.
func (f NotifierFunc) Send(ctx context.Context, to, subject, body string) error {
	if f == nil {
		return nil
	}
	return f(ctx, to, subject, body)
}

type noopNotifier struct{}

func (noopNotifier) Send(context.Context, string, string, string) error { return nil }

// ResetLimiter throttles password reset traffic. Implementations return
// ErrResetRateLimited once a caller went over budget.
type ResetLimiter interface {
	CheckRequest(ctx context.Context, email, ip string) error
	CheckConfirm(ctx context.Context, ip string) error
}

// Config holds session token options
type Config interface {
	GetSigningKey() string
	GetSigningMethod() string
	GetTokenExpiration() int
	GetIssuer() string
	GetAudience() []string
}

// Clock returns the current time
type Clock func() time.Time

// Now returns the current time in UTC truncated to whole seconds. Stored
// timestamps and expiry comparisons all use this resolution.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func normalizeClock(c Clock) Clock {
	if c == nil {
		return Now
	}
	return func() time.Time {
		return c().UTC().Truncate(time.Second)
	}
}

type defLogger struct{}

func (d defLogger) Debug(msg string, args ...any) { d.print("DBG", msg, args...) }
func (d defLogger) Info(msg string, args ...any)  { d.print("INF", msg, args...) }
func (d defLogger) Warn(msg string, args ...any)  { d.print("WRN", msg, args...) }
func (d defLogger) Error(msg string, args ...any) { d.print("ERR", msg, args...) }

func (defLogger) print(level, msg string, args ...any) {
	var b strings.Builder
	b.WriteString("[" + level + "] ACCOUNTS " + msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	fmt.Println(b.String())
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
