package accounts

import (
	"context"

	"github.com/uptrace/bun"
)

// ActivitySink consumes committed activity entries for telemetry or
// forwarding. Sinks run after the transaction that stored the entry.
type ActivitySink interface {
	Record(ctx context.Context, entry ActivityEntry) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, entry ActivityEntry) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, entry ActivityEntry) error {
	if f == nil {
		return nil
	}
	return f(ctx, entry)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEntry) error {
	return nil
}

type multiActivitySink []ActivitySink

// MultiActivitySink fans an entry out to every sink, returning the first error
func MultiActivitySink(sinks ...ActivitySink) ActivitySink {
	out := multiActivitySink{}
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multiActivitySink) Record(ctx context.Context, entry ActivityEntry) error {
	var first error
	for _, s := range m {
		if err := s.Record(ctx, entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// activityRecorder appends entries inside the caller transaction and
// publishes them once the transaction committed
type activityRecorder struct {
	log    ActivityLog
	sink   ActivitySink
	logger Logger
}

func (r *activityRecorder) appendTx(ctx context.Context, tx bun.IDB, entry *ActivityEntry) error {
	_, err := r.log.AppendTx(ctx, tx, entry)
	return err
}

func (r *activityRecorder) publish(ctx context.Context, entries ...*ActivityEntry) {
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		if err := r.sink.Record(ctx, *entry); err != nil {
			r.logger.Warn("activity sink error", "action", entry.Action, "error", err)
		}
	}
}
