package accounts

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Authenticator verifies credentials and resolves sessions
type Authenticator interface {
	Authenticate(ctx context.Context, identifier, password string) (*Account, error)
	Login(ctx context.Context, identifier, password string) (string, error)
	SessionFromToken(token string) (*SessionClaims, error)
	IdentityFromSession(ctx context.Context, session *SessionClaims) (Identity, error)
}

// Auther is the default Authenticator
type Auther struct {
	repo         RepositoryManager
	hasher       PasswordHasher
	tokenService TokenService
	activity     *activityRecorder
	logger       Logger
	now          Clock
	dummyHash    func() string
}

var _ Authenticator = (*Auther)(nil)

// NewAuthenticator returns an Authenticator over the account store
func NewAuthenticator(repo RepositoryManager, opts Config) *Auther {
	hasher := NewBcryptHasher()
	return &Auther{
		repo:         repo,
		hasher:       hasher,
		dummyHash:    dummyHashFor(hasher),
		tokenService: NewTokenService(opts, defLogger{}),
		activity: &activityRecorder{
			log:    repo.Activity(),
			sink:   noopActivitySink{},
			logger: defLogger{},
		},
		logger: defLogger{},
		now:    Now,
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	s.logger = normalizeLogger(logger)
	s.activity.logger = s.logger
	return s
}

func (s *Auther) WithHasher(h PasswordHasher) *Auther {
	if h != nil {
		s.hasher = h
		s.dummyHash = dummyHashFor(h)
	}
	return s
}

func (s *Auther) WithTokenService(ts TokenService) *Auther {
	if ts != nil {
		s.tokenService = ts
	}
	return s
}

// WithActivitySink configures an ActivitySink for login entries.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activity.sink = normalizeActivitySink(sink)
	return s
}

func (s *Auther) WithClock(clock Clock) *Auther {
	if clock != nil {
		s.now = normalizeClock(clock)
	}
	return s
}

// TokenService returns the TokenService used to mint sessions
func (s *Auther) TokenService() TokenService {
	return s.tokenService
}

// Authenticate checks identifier (email or username) and password. A non
// approved account always answers ErrNotApproved, but only after the same
// hash compare every other path pays. Failed attempts never change the
// account.
func (s *Auther) Authenticate(ctx context.Context, identifier, password string) (*Account, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		s.burnCompare(password)
		return nil, errorWith(ErrAccountNotFound, map[string]any{"identifier": identifier})
	}

	account, err := s.repo.Accounts().GetByIdentifier(ctx, identifier)
	if err != nil {
		if IsNotFound(err) {
			s.burnCompare(password)
			s.logger.Debug("login unknown identifier", "identifier", identifier)
		}
		return nil, err
	}

	if !account.IsApproved() {
		_ = s.hasher.Compare(password, account.PasswordHash)
		s.logger.Info("login blocked by account status", "id", account.ID, "status", account.Status)
		return nil, errorWith(ErrNotApproved, map[string]any{"status": account.Status})
	}

	if err := s.hasher.Compare(password, account.PasswordHash); err != nil {
		s.logger.Info("login bad credential", "id", account.ID)
		return nil, err
	}

	entry := NewActivityEntry(account.ID, ActionLogin,
		fmt.Sprintf("account %d (%s) logged in", account.ID, account.Username),
		ClientIPFromContext(ctx), s.now())
	if _, err := s.repo.Activity().Append(ctx, entry); err != nil {
		return nil, err
	}
	s.activity.publish(ctx, entry)

	return account, nil
}

// Login authenticates and returns a signed session token
func (s *Auther) Login(ctx context.Context, identifier, password string) (string, error) {
	account, err := s.Authenticate(ctx, identifier, password)
	if err != nil {
		return "", err
	}
	return s.tokenService.Generate(account)
}

// SessionFromToken validates a session token
func (s *Auther) SessionFromToken(token string) (*SessionClaims, error) {
	return s.tokenService.Validate(token)
}

// IdentityFromSession loads the account behind session. Accounts that were
// disabled or deleted after login lose their session here.
func (s *Auther) IdentityFromSession(ctx context.Context, session *SessionClaims) (Identity, error) {
	id, err := session.AccountID()
	if err != nil {
		return nil, err
	}

	account, err := s.repo.Accounts().GetByID(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, errorWith(ErrSessionInvalid, map[string]any{"id": id})
		}
		return nil, err
	}

	if !account.IsApproved() {
		return nil, errorWith(ErrNotApproved, map[string]any{"status": account.Status})
	}

	return account, nil
}

// burnCompare spends the same time as a real password check
func (s *Auther) burnCompare(password string) {
	_ = s.hasher.Compare(password, s.dummyHash())
}

func dummyHashFor(h PasswordHasher) func() string {
	return sync.OnceValue(func() string {
		return RandomPasswordHash(h)
	})
}
