package accounts

import (
	"context"
	"fmt"
	"time"
)

// DefaultActivityRetention is how long activity entries are kept
const DefaultActivityRetention = 180 * 24 * time.Hour

// ActivityPurger removes activity entries past the retention window
type ActivityPurger struct {
	log       ActivityLog
	retention time.Duration
	interval  time.Duration
	logger    Logger
	now       Clock
}

// PurgerOption customizes ActivityPurger
type PurgerOption func(*ActivityPurger)

func WithPurgerLogger(logger Logger) PurgerOption {
	return func(p *ActivityPurger) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithPurgerClock(clock Clock) PurgerOption {
	return func(p *ActivityPurger) {
		if clock != nil {
			p.now = normalizeClock(clock)
		}
	}
}

// WithPurgeInterval sets how often Run purges
func WithPurgeInterval(d time.Duration) PurgerOption {
	return func(p *ActivityPurger) {
		if d > 0 {
			p.interval = d
		}
	}
}

// NewActivityPurger returns a purger keeping entries younger than retention
func NewActivityPurger(log ActivityLog, retention time.Duration, opts ...PurgerOption) *ActivityPurger {
	if retention <= 0 {
		retention = DefaultActivityRetention
	}
	p := &ActivityPurger{
		log:       log,
		retention: retention,
		interval:  24 * time.Hour,
		logger:    defLogger{},
		now:       Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// PurgeOnce deletes entries created before now minus the retention window
// and records the purge itself
func (p *ActivityPurger) PurgeOnce(ctx context.Context) (int64, error) {
	now := p.now()
	cutoff := now.Add(-p.retention)

	removed, err := p.log.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		entry := NewActivityEntry(SystemAccountID, ActionActivityPurge,
			fmt.Sprintf("purged %d entries older than %s", removed, cutoff.Format(time.RFC3339)), "", now)
		if _, err := p.log.Append(ctx, entry); err != nil {
			return removed, err
		}
	}

	p.logger.Info("activity purge finished", "removed", removed, "cutoff", cutoff)
	return removed, nil
}

// Run purges once immediately and then every interval until ctx is done
func (p *ActivityPurger) Run(ctx context.Context) error {
	if _, err := p.PurgeOnce(ctx); err != nil {
		p.logger.Error("activity purge failed", "error", err)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.PurgeOnce(ctx); err != nil {
				p.logger.Error("activity purge failed", "error", err)
			}
		}
	}
}
