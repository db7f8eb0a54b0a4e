package accounts

import (
	"context"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
)

const (
	ActorTypeSystem  = "system"
	ActorTypeAdmin   = "admin"
	ActorTypeAccount = "account"
)

// ActorRef identifies who triggered an operation and from where
type ActorRef struct {
	ID   int64
	Type string
	IP   string
}

// SystemActor is the actor used for administrative and background work
func SystemActor(ip string) ActorRef {
	return ActorRef{ID: SystemAccountID, Type: ActorTypeSystem, IP: ip}
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor   ActorRef
	Account *Account
	From    AccountStatus
	To      AccountStatus
	Reason  string
}

// TransitionHook is executed after a transition committed
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionOption customizes a single transition
type TransitionOption func(*transitionOptions)

// WithTransitionReason sets the human-readable reason recorded in the activity log
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.reason = strings.TrimSpace(reason)
	}
}

// WithAfterTransitionHook adds a hook executed once the status update committed.
// Hook errors are logged, the transition is not undone.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// AccountStateMachine owns the lifecycle graph
type AccountStateMachine interface {
	Transition(ctx context.Context, actor ActorRef, id int64, target AccountStatus, opts ...TransitionOption) (*Account, error)
	CanTransition(from, to AccountStatus) bool
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*accountStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock Clock) StateMachineOption {
	return func(sm *accountStateMachine) {
		if clock != nil {
			sm.now = normalizeClock(clock)
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle entries.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *accountStateMachine) {
		sm.activity.sink = normalizeActivitySink(sink)
	}
}

// WithStateMachineLogger overrides the logger used for hook and sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *accountStateMachine) {
		if logger != nil {
			sm.logger = logger
			sm.activity.logger = logger
		}
	}
}

type transitionOptions struct {
	reason     string
	afterHooks []TransitionHook
}

type accountStateMachine struct {
	repo        RepositoryManager
	transitions map[AccountStatus]map[AccountStatus]ActivityAction
	now         Clock
	activity    *activityRecorder
	logger      Logger
}

// NewAccountStateMachine returns the default implementation backed by repo
func NewAccountStateMachine(repo RepositoryManager, opts ...StateMachineOption) AccountStateMachine {
	sm := &accountStateMachine{
		repo: repo,
		transitions: map[AccountStatus]map[AccountStatus]ActivityAction{
			AccountStatusPending: {
				AccountStatusApproved: ActionApprove,
				AccountStatusRejected: ActionReject,
			},
			AccountStatusApproved: {
				AccountStatusDisabled: ActionDisable,
			},
			AccountStatusDisabled: {
				AccountStatusApproved: ActionEnable,
			},
		},
		now:    Now,
		logger: defLogger{},
		activity: &activityRecorder{
			log:    repo.Activity(),
			sink:   noopActivitySink{},
			logger: defLogger{},
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

func (sm *accountStateMachine) CanTransition(from, to AccountStatus) bool {
	_, ok := sm.action(from, to)
	return ok
}

func (sm *accountStateMachine) action(from, to AccountStatus) (ActivityAction, bool) {
	targets, ok := sm.transitions[from]
	if !ok {
		return "", false
	}
	action, ok := targets[to]
	return action, ok
}

// Transition moves account id to target. The read, the conditional update
// and the activity entry share one transaction.
func (sm *accountStateMachine) Transition(ctx context.Context, actor ActorRef, id int64, target AccountStatus, opts ...TransitionOption) (*Account, error) {
	if !target.IsValid() {
		return nil, errorWith(ErrInvalidTransition, map[string]any{
			"id":     id,
			"target": target,
			"reason": "unknown target status",
		})
	}

	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	var (
		updated *Account
		from    AccountStatus
		entry   *ActivityEntry
	)

	err := sm.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := sm.repo.Accounts().GetByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}

		from = current.Status
		action, ok := sm.action(from, target)
		if !ok {
			return errorWith(ErrInvalidTransition, map[string]any{
				"id":   id,
				"from": from,
				"to":   target,
			})
		}

		now := sm.now()
		updated, err = sm.repo.Accounts().UpdateStatusTx(ctx, tx, id, from, target, now)
		if err != nil {
			return err
		}

		entry = NewActivityEntry(SystemAccountID, action, transitionDetail(actor, updated, from, target, options.reason), actor.IP, now)
		return sm.activity.appendTx(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}

	sm.activity.publish(ctx, entry)

	tc := TransitionContext{
		Actor:   actor,
		Account: updated,
		From:    from,
		To:      target,
		Reason:  options.reason,
	}
	for _, hook := range options.afterHooks {
		if err := hook(ctx, tc); err != nil {
			sm.logger.Warn("after transition hook failed", "id", id, "from", from, "to", target, "error", err)
		}
	}

	return updated, nil
}

func transitionDetail(actor ActorRef, account *Account, from, to AccountStatus, reason string) string {
	detail := fmt.Sprintf("account %d (%s) %s -> %s", account.ID, account.Username, from, to)
	if actor.ID != SystemAccountID {
		detail += fmt.Sprintf(" by %s %d", actor.Type, actor.ID)
	}
	if reason != "" {
		detail += ": " + reason
	}
	return detail
}
