package accounts

import (
	"context"
	"database/sql"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ActivityLog is the append-only activity store
type ActivityLog interface {
	Append(ctx context.Context, entry *ActivityEntry) (*ActivityEntry, error)
	AppendTx(ctx context.Context, tx bun.IDB, entry *ActivityEntry) (*ActivityEntry, error)
	List(ctx context.Context, filter ActivityFilter) ([]*ActivityEntry, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ActivityFilter narrows List results. Zero values mean no filter.
type ActivityFilter struct {
	AccountID *int64
	Action    ActivityAction
	Since     time.Time
	Limit     int
}

type activityLog struct {
	repository.Repository[*ActivityEntry]
	db *bun.DB
}

var _ ActivityLog = (*activityLog)(nil)

// NewActivityLogRepository returns the bun backed activity log
func NewActivityLogRepository(db *bun.DB) ActivityLog {
	repo := repository.NewRepository[*ActivityEntry](db, repository.ModelHandlers[*ActivityEntry]{
		NewRecord: func() *ActivityEntry { return &ActivityEntry{} },
		GetID: func(record *ActivityEntry) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *ActivityEntry, id uuid.UUID) {
			if record != nil {
				record.ID = id
			}
		},
		GetIdentifier: func() string {
			return "action"
		},
	})

	return &activityLog{Repository: repo, db: db}
}

func (l *activityLog) Append(ctx context.Context, entry *ActivityEntry) (*ActivityEntry, error) {
	return l.AppendTx(ctx, l.db, entry)
}

func (l *activityLog) AppendTx(ctx context.Context, tx bun.IDB, entry *ActivityEntry) (*ActivityEntry, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = Now()
	}

	record, err := l.Repository.CreateTx(ctx, tx, entry)
	if err != nil {
		return nil, storageError(err, "activity.append")
	}
	return record, nil
}

// List returns entries newest first
func (l *activityLog) List(ctx context.Context, filter ActivityFilter) ([]*ActivityEntry, error) {
	records := []*ActivityEntry{}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	q := l.db.NewSelect().
		Model(&records).
		Order("created_at DESC").
		Limit(limit)

	if filter.AccountID != nil {
		q = q.Where("?TableAlias.account_id = ?", *filter.AccountID)
	}
	if filter.Action != "" {
		q = q.Where("?TableAlias.action = ?", filter.Action)
	}
	if !filter.Since.IsZero() {
		q = q.Where("?TableAlias.created_at >= ?", filter.Since.UTC())
	}

	if err := q.Scan(ctx); err != nil {
		return nil, storageError(err, "activity.list")
	}
	return records, nil
}

// PurgeOlderThan deletes every entry created strictly before cutoff
func (l *activityLog) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.NewDelete().
		Model((*ActivityEntry)(nil)).
		Where("created_at < ?", cutoff.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, storageError(err, "activity.purge")
	}
	return affectedRows(res), nil
}

func affectedRows(res sql.Result) int64 {
	if res == nil {
		return 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

func expectOneRow(res sql.Result, op string) error {
	if affectedRows(res) == 0 {
		return errorWith(ErrAccountNotFound, map[string]any{"operation": op})
	}
	return nil
}
