package activitymap

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-accounts"
)

const (
	// MetadataKeyIP stores the caller address of the entry
	MetadataKeyIP = "ip"
	// MetadataKeyDetail stores the free text detail of the entry
	MetadataKeyDetail = "detail"
	// MetadataKeyEntryID stores the activity entry id
	MetadataKeyEntryID = "entry_id"
)

const (
	defaultChannel    = "accounts"
	defaultObjectType = "account"
	defaultActorID    = "system"
)

// FeedRecord is an activity entry flattened for feeds and audit exporters
type FeedRecord struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option tweaks Normalize
type Option func(*feedOptions)

type feedOptions struct {
	channel       string
	objectType    string
	actorFallback string
}

// Normalize converts an activity entry into a FeedRecord. Entries
// recorded against the system id have no object and the fallback actor.
func Normalize(entry accounts.ActivityEntry, opts ...Option) FeedRecord {
	options := defaultFeedOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := options.actorFallback
	objectID := ""
	if entry.AccountID != accounts.SystemAccountID {
		actorID = strconv.FormatInt(entry.AccountID, 10)
		objectID = actorID
	}

	occurredAt := entry.CreatedAt.UTC()
	if entry.CreatedAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return FeedRecord{
		ActorID:    actorID,
		Verb:       entry.Action,
		ObjectType: options.objectType,
		ObjectID:   objectID,
		Channel:    options.channel,
		Metadata:   normalizeMetadata(entry),
		OccurredAt: occurredAt,
	}
}

// Sink adapts fn into an accounts.ActivitySink publishing normalized records
func Sink(fn func(context.Context, FeedRecord) error, opts ...Option) accounts.ActivitySink {
	return accounts.ActivitySinkFunc(func(ctx context.Context, entry accounts.ActivityEntry) error {
		return fn(ctx, Normalize(entry, opts...))
	})
}

// WithDefaultChannel sets the channel stamped on records
func WithDefaultChannel(channel string) Option {
	return func(opts *feedOptions) {
		if opts == nil {
			return
		}
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithDefaultObjectType sets the object type stamped on records
func WithDefaultObjectType(objectType string) Option {
	return func(opts *feedOptions) {
		if opts == nil {
			return
		}
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithActorFallback sets the actor id used for system entries.
func WithActorFallback(actorID string) Option {
	return func(opts *feedOptions) {
		if opts == nil {
			return
		}
		if actorID = strings.TrimSpace(actorID); actorID != "" {
			opts.actorFallback = actorID
		}
	}
}

func defaultFeedOptions() feedOptions {
	return feedOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
	}
}

func normalizeMetadata(entry accounts.ActivityEntry) map[string]any {
	metadata := map[string]any{}
	if ip := strings.TrimSpace(entry.IP); ip != "" {
		metadata[MetadataKeyIP] = ip
	}
	if detail := strings.TrimSpace(entry.Detail); detail != "" {
		metadata[MetadataKeyDetail] = detail
	}
	if entry.ID != uuid.Nil {
		metadata[MetadataKeyEntryID] = entry.ID.String()
	}
	if len(metadata) == 0 {
		return nil
	}
	return metadata
}
