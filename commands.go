package accounts

import (
	"context"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// ChangeAccountStatusMessage asks for a lifecycle transition outside of a
// request, e.g. from the admin command line
type ChangeAccountStatusMessage struct {
	ID     int64         `json:"id"`
	Status AccountStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
	IP     string        `json:"-"`

	OnResponse func(*TransitionResult)
}

func (e ChangeAccountStatusMessage) Type() string { return "account.status" }

// ChangeAccountStatusHandler runs status changes through AccountService so
// notifications and activity entries match the HTTP path
type ChangeAccountStatusHandler struct {
	accounts *AccountService
	logger   Logger
}

func NewChangeAccountStatusHandler(accounts *AccountService) *ChangeAccountStatusHandler {
	return &ChangeAccountStatusHandler{accounts: accounts, logger: defLogger{}}
}

// WithLogger overrides the logger used by the handler.
func (h *ChangeAccountStatusHandler) WithLogger(logger Logger) *ChangeAccountStatusHandler {
	h.logger = normalizeLogger(logger)
	return h
}

func (h *ChangeAccountStatusHandler) Execute(ctx context.Context, event ChangeAccountStatusMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account status change",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ChangeAccountStatusHandler) execute(ctx context.Context, event ChangeAccountStatusMessage) error {
	actor := SystemActor(event.IP)
	opts := []TransitionOption{WithTransitionReason(event.Reason)}

	var (
		result *TransitionResult
		err    error
	)

	switch AccountStatus(strings.ToLower(string(event.Status))) {
	case AccountStatusApproved:
		var current *Account
		if current, err = h.accounts.Get(ctx, event.ID); err != nil {
			return err
		}
		if current.Status == AccountStatusDisabled {
			result, err = h.accounts.Enable(ctx, actor, event.ID, opts...)
		} else {
			result, err = h.accounts.Approve(ctx, actor, event.ID, opts...)
		}
	case AccountStatusRejected:
		result, err = h.accounts.Reject(ctx, actor, event.ID, opts...)
	case AccountStatusDisabled:
		result, err = h.accounts.Disable(ctx, actor, event.ID, opts...)
	default:
		return errorWith(ErrInvalidTransition, map[string]any{
			"id":     event.ID,
			"target": event.Status,
			"reason": "unknown target status",
		})
	}
	if err != nil {
		return err
	}

	if result.NotificationErr != nil {
		h.logger.Warn("status changed but notification failed", "id", event.ID, "error", result.NotificationErr)
	}

	if event.OnResponse != nil {
		event.OnResponse(result)
	}
	return nil
}

// PurgeActivityMessage triggers a single activity purge
type PurgeActivityMessage struct {
	OnResponse func(removed int64)
}

func (e PurgeActivityMessage) Type() string { return "activity.purge" }

type PurgeActivityHandler struct {
	purger *ActivityPurger
}

func NewPurgeActivityHandler(purger *ActivityPurger) *PurgeActivityHandler {
	return &PurgeActivityHandler{purger: purger}
}

func (h *PurgeActivityHandler) Execute(ctx context.Context, event PurgeActivityMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during activity purge")
	default:
	}

	removed, err := h.purger.PurgeOnce(ctx)
	if err != nil {
		return err
	}
	if event.OnResponse != nil {
		event.OnResponse(removed)
	}
	return nil
}
