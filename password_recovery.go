package accounts

import (
	"context"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// DefaultResetWindow is how long a reset token stays redeemable
const DefaultResetWindow = 2 * time.Hour

// RecoveryConfig holds password recovery options
type RecoveryConfig struct {
	// ResetURL is the base of the emailed link, the token is appended as the last path segment
	ResetURL          string
	ResetWindow       time.Duration
	MinPasswordLength int
}

func (c RecoveryConfig) window() time.Duration {
	if c.ResetWindow <= 0 {
		return DefaultResetWindow
	}
	return c.ResetWindow
}

// ResetLink builds the link embedding token
func (c RecoveryConfig) ResetLink(token string) string {
	base := strings.TrimRight(c.ResetURL, "/")
	if base == "" {
		return token
	}
	return base + "/" + token
}

// ResetRequestResult is what RequestReset reports. Callers must show the same
// message whether or not Issued is set.
type ResetRequestResult struct {
	// Issued is set when a token was stored and a message attempted
	Issued          bool
	ExpiresAt       time.Time
	NotificationErr error
}

// RecoveryOption customizes PasswordRecovery
type RecoveryOption func(*PasswordRecovery)

func WithRecoveryLogger(logger Logger) RecoveryOption {
	return func(p *PasswordRecovery) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithRecoveryClock(clock Clock) RecoveryOption {
	return func(p *PasswordRecovery) {
		if clock != nil {
			p.now = normalizeClock(clock)
		}
	}
}

func WithRecoveryNotifier(n Notifier) RecoveryOption {
	return func(p *PasswordRecovery) {
		if n != nil {
			p.notifier = n
		}
	}
}

func WithRecoveryHasher(h PasswordHasher) RecoveryOption {
	return func(p *PasswordRecovery) {
		if h != nil {
			p.hasher = h
		}
	}
}

func WithRecoveryTokenGenerator(g TokenGenerator) RecoveryOption {
	return func(p *PasswordRecovery) {
		if g != nil {
			p.tokens = g
		}
	}
}

func WithRecoveryLimiter(l ResetLimiter) RecoveryOption {
	return func(p *PasswordRecovery) {
		p.limiter = l
	}
}

func WithRecoveryActivitySink(sink ActivitySink) RecoveryOption {
	return func(p *PasswordRecovery) {
		p.sink = normalizeActivitySink(sink)
	}
}

func WithRecoveryComposer(c MessageComposer) RecoveryOption {
	return func(p *PasswordRecovery) {
		if c != nil {
			p.composer = c
		}
	}
}

// PasswordRecovery issues and redeems reset tokens
type PasswordRecovery struct {
	repo     RepositoryManager
	config   RecoveryConfig
	hasher   PasswordHasher
	tokens   TokenGenerator
	notifier Notifier
	composer MessageComposer
	limiter  ResetLimiter
	sink     ActivitySink
	logger   Logger
	now      Clock

	activity *activityRecorder
}

// NewPasswordRecovery wires the recovery service over repo
func NewPasswordRecovery(repo RepositoryManager, config RecoveryConfig, opts ...RecoveryOption) *PasswordRecovery {
	p := &PasswordRecovery{
		repo:     repo,
		config:   config,
		hasher:   NewBcryptHasher(),
		tokens:   NewRandomTokenGenerator(),
		notifier: noopNotifier{},
		composer: DefaultComposer{},
		sink:     noopActivitySink{},
		logger:   defLogger{},
		now:      Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	p.activity = &activityRecorder{log: repo.Activity(), sink: p.sink, logger: p.logger}
	return p
}

// RequestReset issues a token for the approved account owning email. Unknown
// or non approved emails get the same empty result so callers can not enumerate
// the directory.
func (p *PasswordRecovery) RequestReset(ctx context.Context, email string) (*ResetRequestResult, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during password reset request")
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, defaultOperationTimeout)
	defer cancel()

	email = NormalizeEmail(email)
	if err := validationError(func() error {
		return validation.Validate(email, emailRules()...)
	}, "invalid email"); err != nil {
		return nil, err
	}

	ip := ClientIPFromContext(ctx)
	if err := p.checkLimit(func() error { return p.limiter.CheckRequest(ctx, email, ip) }); err != nil {
		return nil, err
	}

	result := &ResetRequestResult{}

	account, err := p.repo.Accounts().GetByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) {
			p.logger.Info("password reset requested for unknown email", "email", email, "ip", ip)
			return result, nil
		}
		return nil, err
	}

	if !account.IsApproved() {
		p.logger.Info("password reset requested for account that is not approved", "id", account.ID, "status", account.Status)
		return result, nil
	}

	token, err := p.tokens.Generate()
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate reset token")
	}

	now := p.now()
	expiresAt := now.Add(p.config.window())

	var entry *ActivityEntry
	err = p.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := p.repo.Accounts().SetResetTokenTx(ctx, tx, account.ID, TokenDigest(token), expiresAt, now); err != nil {
			return err
		}
		entry = NewActivityEntry(account.ID, ActionResetRequest,
			fmt.Sprintf("reset token issued for account %d, expires %s", account.ID, expiresAt.Format(time.RFC3339)),
			ip, now)
		return p.activity.appendTx(ctx, tx, entry)
	})
	if err != nil {
		return nil, txError(err, "password reset request failed")
	}

	p.activity.publish(ctx, entry)
	p.logger.Info("password reset issued", "id", account.ID, "token", maskToken(token))

	result.Issued = true
	result.ExpiresAt = expiresAt
	result.NotificationErr = dispatch(ctx, p.notifier, p.logger,
		p.composer.ResetRequested(account, p.config.ResetLink(token), expiresAt))

	return result, nil
}

// ConfirmReset redeems token and sets the new password. Hash rotation and
// token clearing happen in one statement, a token works at most once.
func (p *PasswordRecovery) ConfirmReset(ctx context.Context, token, password, confirm string) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during password reset")
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, defaultOperationTimeout)
	defer cancel()

	if password != confirm {
		return ErrPasswordMismatch
	}

	minLength := p.config.MinPasswordLength
	if minLength <= 0 {
		minLength = DefaultMinPasswordLength
	}
	if err := checkPassword(password, minLength); err != nil {
		return err
	}

	ip := ClientIPFromContext(ctx)
	if err := p.checkLimit(func() error { return p.limiter.CheckConfirm(ctx, ip) }); err != nil {
		return err
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidOrExpiredToken
	}

	hash, err := p.hasher.Hash(password)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	digest := TokenDigest(token)

	var entry *ActivityEntry
	err = p.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := p.now()
		account, err := p.repo.Accounts().ConsumeResetTokenTx(ctx, tx, digest, hash, now)
		if err != nil {
			return err
		}
		entry = NewActivityEntry(account.ID, ActionResetConfirm,
			fmt.Sprintf("account %d reset password", account.ID), ip, now)
		return p.activity.appendTx(ctx, tx, entry)
	})
	if err != nil {
		if IsInvalidOrExpiredToken(err) {
			p.logger.Info("password reset rejected", "reason", p.diagnoseToken(ctx, digest), "token", maskToken(token), "ip", ip)
			return ErrInvalidOrExpiredToken
		}
		return txError(err, "password reset failed")
	}

	p.activity.publish(ctx, entry)
	return nil
}

// diagnoseToken tells expired and unknown tokens apart for the logs only
func (p *PasswordRecovery) diagnoseToken(ctx context.Context, digest string) string {
	exists, err := p.repo.Accounts().HasResetToken(ctx, digest)
	switch {
	case err != nil:
		return "lookup failed"
	case exists:
		return "expired"
	default:
		return "unknown or used"
	}
}

func (p *PasswordRecovery) checkLimit(check func() error) error {
	if p.limiter == nil {
		return nil
	}
	err := check()
	if err == nil {
		return nil
	}
	if IsResetRateLimited(err) {
		return err
	}
	p.logger.Warn("reset limiter unavailable, allowing request", "error", err)
	return nil
}
