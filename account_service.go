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

const defaultOperationTimeout = 10 * time.Second

// RegisterAccountMessage is the registration payload
type RegisterAccountMessage struct {
	Email        string      `json:"email" form:"email"`
	Username     string      `json:"username" form:"username"`
	Password     string      `json:"password" form:"password"`
	DisplayName  string      `json:"display_name" form:"display_name"`
	CompanyName  string      `json:"company_name" form:"company_name"`
	TaxID        string      `json:"tax_id" form:"tax_id"`
	Phone        string      `json:"phone" form:"phone"`
	ProfilePhoto string      `json:"profile_photo" form:"profile_photo"`
	Role         AccountRole `json:"role" form:"role"`
}

func (m RegisterAccountMessage) Type() string { return "account.register" }

func (m *RegisterAccountMessage) normalize() {
	m.Email = NormalizeEmail(m.Email)
	m.Username = strings.TrimSpace(m.Username)
	m.DisplayName = strings.TrimSpace(m.DisplayName)
	m.CompanyName = strings.TrimSpace(m.CompanyName)
	m.TaxID = NormalizeTaxID(m.TaxID)
	m.Phone = strings.TrimSpace(m.Phone)
	m.ProfilePhoto = strings.TrimSpace(m.ProfilePhoto)
	m.Role = AccountRole(strings.ToLower(strings.TrimSpace(string(m.Role))))
}

// Validate will run validation rules
func (m RegisterAccountMessage) Validate(minPasswordLength int, phoneRegion string) error {
	return validationError(func() error {
		return validation.ValidateStruct(&m,
			validation.Field(&m.Email, emailRules()...),
			validation.Field(&m.Username, usernameRules()...),
			validation.Field(&m.Password, passwordRules(minPasswordLength)...),
			validation.Field(&m.DisplayName, profileTextRules(true)...),
			validation.Field(&m.CompanyName, profileTextRules(true)...),
			validation.Field(&m.TaxID, taxIDRules()...),
			validation.Field(&m.Phone, validation.By(ValidPhone(phoneRegion))),
			validation.Field(&m.ProfilePhoto, validation.Length(0, 512)),
			validation.Field(&m.Role, roleRules()...),
		)
	}, "invalid registration payload")
}

// ProfileUpdate carries the profile fields to change. Nil fields are kept.
type ProfileUpdate struct {
	Email        *string      `json:"email,omitempty"`
	DisplayName  *string      `json:"display_name,omitempty"`
	CompanyName  *string      `json:"company_name,omitempty"`
	TaxID        *string      `json:"tax_id,omitempty"`
	Phone        *string      `json:"phone,omitempty"`
	ProfilePhoto *string      `json:"profile_photo,omitempty"`
	Role         *AccountRole `json:"role,omitempty"`
}

func (p ProfileUpdate) apply(record *Account, phoneRegion string) []string {
	changed := []string{}
	set := func(field string, dst *string, src *string, norm func(string) string) {
		if src == nil {
			return
		}
		v := norm(*src)
		if v != *dst {
			*dst = v
			changed = append(changed, field)
		}
	}

	set("email", &record.Email, p.Email, NormalizeEmail)
	set("display_name", &record.DisplayName, p.DisplayName, strings.TrimSpace)
	set("company_name", &record.CompanyName, p.CompanyName, strings.TrimSpace)
	set("tax_id", &record.TaxID, p.TaxID, NormalizeTaxID)
	set("phone", &record.Phone, p.Phone, func(s string) string { return NormalizePhone(s, phoneRegion) })
	set("profile_photo", &record.ProfilePhoto, p.ProfilePhoto, strings.TrimSpace)
	if p.Role != nil {
		role := AccountRole(strings.ToLower(strings.TrimSpace(string(*p.Role))))
		if role != record.Role {
			record.Role = role
			changed = append(changed, "role")
		}
	}
	return changed
}

func validateProfile(record *Account, phoneRegion string) error {
	return validationError(func() error {
		return validation.ValidateStruct(record,
			validation.Field(&record.Email, emailRules()...),
			validation.Field(&record.DisplayName, profileTextRules(true)...),
			validation.Field(&record.CompanyName, profileTextRules(true)...),
			validation.Field(&record.TaxID, taxIDRules()...),
			validation.Field(&record.Phone, validation.By(ValidPhone(phoneRegion))),
			validation.Field(&record.ProfilePhoto, validation.Length(0, 512)),
			validation.Field(&record.Role, roleRules()...),
		)
	}, "invalid profile payload")
}

// ServiceConfig holds the policy knobs of the account services
type ServiceConfig struct {
	// AutoApprove stores new registrations as approved
	AutoApprove bool
	// ReviewerEmail receives a message for every registration left pending
	ReviewerEmail string
	// ReviewURL is linked from the reviewer message
	ReviewURL string
	// LoginURL is linked from the approval message
	LoginURL          string
	MinPasswordLength int
	PhoneRegion       string
}

func (c ServiceConfig) minPasswordLength() int {
	if c.MinPasswordLength <= 0 {
		return DefaultMinPasswordLength
	}
	return c.MinPasswordLength
}

// RegistrationResult is returned by Register
type RegistrationResult struct {
	Account *Account
	// NotificationErr is set when the reviewer message could not be delivered
	NotificationErr error
}

// TransitionResult is returned by the lifecycle operations
type TransitionResult struct {
	Account         *Account
	NotificationErr error
}

// ServiceOption customizes AccountService
type ServiceOption func(*AccountService)

func WithServiceLogger(logger Logger) ServiceOption {
	return func(s *AccountService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithServiceClock(clock Clock) ServiceOption {
	return func(s *AccountService) {
		if clock != nil {
			s.now = normalizeClock(clock)
		}
	}
}

func WithServiceNotifier(n Notifier) ServiceOption {
	return func(s *AccountService) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithServiceHasher(h PasswordHasher) ServiceOption {
	return func(s *AccountService) {
		if h != nil {
			s.hasher = h
		}
	}
}

func WithServiceActivitySink(sink ActivitySink) ServiceOption {
	return func(s *AccountService) {
		s.sink = normalizeActivitySink(sink)
	}
}

func WithServiceComposer(c MessageComposer) ServiceOption {
	return func(s *AccountService) {
		if c != nil {
			s.composer = c
		}
	}
}

// AccountService implements registration and the administrative lifecycle
type AccountService struct {
	repo     RepositoryManager
	config   ServiceConfig
	hasher   PasswordHasher
	notifier Notifier
	composer MessageComposer
	sink     ActivitySink
	logger   Logger
	now      Clock

	machine  AccountStateMachine
	activity *activityRecorder
}

// NewAccountService wires the lifecycle service over repo
func NewAccountService(repo RepositoryManager, config ServiceConfig, opts ...ServiceOption) *AccountService {
	s := &AccountService{
		repo:     repo,
		config:   config,
		hasher:   NewBcryptHasher(),
		notifier: noopNotifier{},
		composer: DefaultComposer{},
		sink:     noopActivitySink{},
		logger:   defLogger{},
		now:      Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.activity = &activityRecorder{log: repo.Activity(), sink: s.sink, logger: s.logger}
	s.machine = NewAccountStateMachine(repo,
		WithStateMachineClock(s.now),
		WithStateMachineActivitySink(s.sink),
		WithStateMachineLogger(s.logger),
	)

	return s
}

// StateMachine exposes the lifecycle graph used by the service
func (s *AccountService) StateMachine() AccountStateMachine {
	return s.machine
}

// Register creates a new account. The duplicate pre-check is advisory, the
// store UNIQUE constraints settle concurrent registrations.
func (s *AccountService) Register(ctx context.Context, msg RegisterAccountMessage) (*RegistrationResult, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during account registration")
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, defaultOperationTimeout)
	defer cancel()

	msg.normalize()
	if err := msg.Validate(s.config.minPasswordLength(), s.config.PhoneRegion); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(msg.Password)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	status := AccountStatusPending
	if s.config.AutoApprove {
		status = AccountStatusApproved
	}

	now := s.now()
	record := &Account{
		Email:        msg.Email,
		Username:     msg.Username,
		DisplayName:  msg.DisplayName,
		CompanyName:  msg.CompanyName,
		TaxID:        msg.TaxID,
		Phone:        NormalizePhone(msg.Phone, s.config.PhoneRegion),
		ProfilePhoto: msg.ProfilePhoto,
		Role:         msg.Role,
		Status:       status,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var entry *ActivityEntry
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		field, err := s.repo.Accounts().FindConflictTx(ctx, tx, record.Email, record.Username, 0)
		if err != nil {
			return err
		}
		if field != "" {
			return errorWith(ErrDuplicateIdentity, map[string]any{"field": field})
		}

		if record, err = s.repo.Accounts().CreateTx(ctx, tx, record); err != nil {
			return err
		}

		entry = NewActivityEntry(record.ID, ActionRegister,
			fmt.Sprintf("registered %s <%s> as %s, status %s", record.Username, record.Email, record.Role, record.Status),
			ClientIPFromContext(ctx), now)
		return s.activity.appendTx(ctx, tx, entry)
	})
	if err != nil {
		return nil, txError(err, "account registration failed")
	}

	s.activity.publish(ctx, entry)
	s.logger.Info("account registered", "id", record.ID, "username", record.Username, "status", record.Status)

	result := &RegistrationResult{Account: record}
	if s.config.ReviewerEmail != "" && record.Status == AccountStatusPending {
		msg := s.composer.ReviewRequest(record, s.config.ReviewURL)
		msg.To = s.config.ReviewerEmail
		result.NotificationErr = dispatch(ctx, s.notifier, s.logger, msg)
	}

	return result, nil
}

// Approve moves a pending account to approved and tells the account holder
func (s *AccountService) Approve(ctx context.Context, actor ActorRef, id int64, opts ...TransitionOption) (*TransitionResult, error) {
	account, err := s.machine.Transition(ctx, actor, id, AccountStatusApproved, opts...)
	if err != nil {
		return nil, err
	}

	result := &TransitionResult{Account: account}
	result.NotificationErr = dispatch(ctx, s.notifier, s.logger, s.composer.Approved(account, s.config.LoginURL))
	return result, nil
}

// Reject settles a pending account as rejected
func (s *AccountService) Reject(ctx context.Context, actor ActorRef, id int64, opts ...TransitionOption) (*TransitionResult, error) {
	return s.transition(ctx, actor, id, AccountStatusRejected, opts...)
}

// Disable switches an approved account off
func (s *AccountService) Disable(ctx context.Context, actor ActorRef, id int64, opts ...TransitionOption) (*TransitionResult, error) {
	return s.transition(ctx, actor, id, AccountStatusDisabled, opts...)
}

// Enable switches a disabled account back on
func (s *AccountService) Enable(ctx context.Context, actor ActorRef, id int64, opts ...TransitionOption) (*TransitionResult, error) {
	return s.transition(ctx, actor, id, AccountStatusApproved, opts...)
}

func (s *AccountService) transition(ctx context.Context, actor ActorRef, id int64, target AccountStatus, opts ...TransitionOption) (*TransitionResult, error) {
	account, err := s.machine.Transition(ctx, actor, id, target, opts...)
	if err != nil {
		return nil, err
	}
	return &TransitionResult{Account: account}, nil
}

// UpdateProfile changes profile fields from any status. Status and
// credential are never touched here. Role changes are ignored unless the
// actor is an admin or the system.
func (s *AccountService) UpdateProfile(ctx context.Context, actor ActorRef, id int64, update ProfileUpdate) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultOperationTimeout)
	defer cancel()

	if update.Role != nil && actor.Type == ActorTypeAccount {
		s.logger.Warn("role change ignored for self service update", "id", id, "actor", actor.ID)
		update.Role = nil
	}

	var (
		updated *Account
		entry   *ActivityEntry
	)

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := s.repo.Accounts().GetByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}

		changed := update.apply(record, s.config.PhoneRegion)
		if len(changed) == 0 {
			updated = record
			return nil
		}

		if err := validateProfile(record, s.config.PhoneRegion); err != nil {
			return err
		}

		field, err := s.repo.Accounts().FindConflictTx(ctx, tx, record.Email, "", record.ID)
		if err != nil {
			return err
		}
		if field != "" {
			return errorWith(ErrDuplicateIdentity, map[string]any{"field": field})
		}

		now := s.now()
		if updated, err = s.repo.Accounts().UpdateProfileTx(ctx, tx, record, now); err != nil {
			return err
		}

		entry = NewActivityEntry(actorAccountID(actor, id), ActionProfileUpdate,
			fmt.Sprintf("account %d updated %s", id, strings.Join(changed, ", ")),
			actor.IP, now)
		return s.activity.appendTx(ctx, tx, entry)
	})
	if err != nil {
		return nil, txError(err, "profile update failed")
	}

	s.activity.publish(ctx, entry)
	return updated, nil
}

// ChangePassword rotates the credential after checking the current one.
// Any in-flight reset token is dropped with the old password.
func (s *AccountService) ChangePassword(ctx context.Context, actor ActorRef, id int64, current, next string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultOperationTimeout)
	defer cancel()

	if err := checkPassword(next, s.config.minPasswordLength()); err != nil {
		return err
	}

	record, err := s.repo.Accounts().GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.hasher.Compare(current, record.PasswordHash); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	var entry *ActivityEntry
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := s.now()
		if err := s.repo.Accounts().UpdatePasswordTx(ctx, tx, id, hash, now); err != nil {
			return err
		}
		entry = NewActivityEntry(actorAccountID(actor, id), ActionPasswordChange,
			fmt.Sprintf("account %d changed password", id), actor.IP, now)
		return s.activity.appendTx(ctx, tx, entry)
	})
	if err != nil {
		return txError(err, "password change failed")
	}

	s.activity.publish(ctx, entry)
	return nil
}

// Delete hard deletes the account. Its activity entries stay behind.
func (s *AccountService) Delete(ctx context.Context, actor ActorRef, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, defaultOperationTimeout)
	defer cancel()

	var entry *ActivityEntry
	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := s.repo.Accounts().GetByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}

		if err := s.repo.Accounts().DeleteTx(ctx, tx, id); err != nil {
			return err
		}

		entry = NewActivityEntry(SystemAccountID, ActionDelete,
			fmt.Sprintf("deleted account %d (%s <%s>)%s", id, record.Username, record.Email, actorSuffix(actor)),
			actor.IP, s.now())
		return s.activity.appendTx(ctx, tx, entry)
	})
	if err != nil {
		return txError(err, "account deletion failed")
	}

	s.activity.publish(ctx, entry)
	s.logger.Info("account deleted", "id", id)
	return nil
}

// Get returns the account with id
func (s *AccountService) Get(ctx context.Context, id int64) (*Account, error) {
	return s.repo.Accounts().GetByID(ctx, id)
}

// List returns the accounts matching filter plus the total match count
func (s *AccountService) List(ctx context.Context, filter AccountFilter) ([]*Account, int, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, 0, validationFieldError("status", "unknown status")
	}
	if filter.Role != "" && !filter.Role.IsValid() {
		return nil, 0, validationFieldError("role", "unknown role")
	}
	return s.repo.Accounts().List(ctx, filter)
}

// Activity returns activity entries matching filter, newest first
func (s *AccountService) Activity(ctx context.Context, filter ActivityFilter) ([]*ActivityEntry, error) {
	return s.repo.Activity().List(ctx, filter)
}

// EnsureAdmin makes sure an approved administrator with msg's email exists,
// creating it when missing. An existing account keeps its password.
func (s *AccountService) EnsureAdmin(ctx context.Context, msg RegisterAccountMessage) (*Account, error) {
	msg.normalize()

	existing, err := s.repo.Accounts().GetByEmail(ctx, msg.Email)
	if err != nil && !IsNotFound(err) {
		return nil, err
	}

	if existing != nil && existing.Admin && existing.IsApproved() {
		return existing, nil
	}

	var (
		record *Account
		entry  *ActivityEntry
		hash   string
	)

	if existing == nil {
		if err := msg.Validate(s.config.minPasswordLength(), s.config.PhoneRegion); err != nil {
			return nil, err
		}
		if hash, err = s.hasher.Hash(msg.Password); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}
	}

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := s.now()
		if existing == nil {
			record = &Account{
				Email:        msg.Email,
				Username:     msg.Username,
				DisplayName:  msg.DisplayName,
				CompanyName:  msg.CompanyName,
				TaxID:        msg.TaxID,
				Phone:        NormalizePhone(msg.Phone, s.config.PhoneRegion),
				Role:         msg.Role,
				Admin:        true,
				Status:       AccountStatusApproved,
				PasswordHash: hash,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if record, err = s.repo.Accounts().CreateTx(ctx, tx, record); err != nil {
				return err
			}
		} else {
			if err := s.repo.Accounts().SetAdminTx(ctx, tx, existing.ID, true, now); err != nil {
				return err
			}
			if existing.Status != AccountStatusApproved {
				if _, err := s.repo.Accounts().UpdateStatusTx(ctx, tx, existing.ID, existing.Status, AccountStatusApproved, now); err != nil {
					return err
				}
			}
			if record, err = s.repo.Accounts().GetByIDTx(ctx, tx, existing.ID); err != nil {
				return err
			}
		}

		entry = NewActivityEntry(SystemAccountID, ActionBootstrapAdmin,
			fmt.Sprintf("ensured administrator %d (%s)", record.ID, record.Username), "", now)
		return s.activity.appendTx(ctx, tx, entry)
	})
	if err != nil {
		return nil, txError(err, "admin bootstrap failed")
	}

	s.activity.publish(ctx, entry)
	return record, nil
}

// actorAccountID is the id recorded on an entry: the account itself for
// self service, the system id for anything administrative
func actorAccountID(actor ActorRef, id int64) int64 {
	if actor.Type == ActorTypeAccount && actor.ID == id {
		return id
	}
	return SystemAccountID
}

func actorSuffix(actor ActorRef) string {
	if actor.ID == SystemAccountID {
		return ""
	}
	return fmt.Sprintf(" by %s %d", actor.Type, actor.ID)
}

func validationFieldError(field, msg string) error {
	return goerrors.NewValidationFromMap("invalid filter", map[string]string{field: msg}).
		WithTextCode(TextCodeValidation).
		WithCode(goerrors.CodeBadRequest)
}

// txError keeps classified errors as they are and wraps anything else
func txError(err error, msg string) error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg).
		WithTextCode(TextCodeStorageFailure).
		WithCode(goerrors.CodeInternal)
}
