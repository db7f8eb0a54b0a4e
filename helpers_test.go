package accounts_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/crypto/bcrypt"

	"github.com/goliatone/go-accounts"
)

const testPassword = "correct-horse"

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	_, err = accounts.Migrate(context.Background(), db)
	require.NoError(t, err)

	return db
}

func newTestStore(t *testing.T) (*bun.DB, accounts.RepositoryManager) {
	t.Helper()
	db := newTestDB(t)
	repo := accounts.NewRepositoryManager(db)
	require.NoError(t, repo.Validate())
	return db, repo
}

func newTestRepo(t *testing.T) accounts.RepositoryManager {
	t.Helper()
	_, repo := newTestStore(t)
	return repo
}

func testHasher() accounts.PasswordHasher {
	return accounts.NewBcryptHasher(bcrypt.MinCost)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []accounts.Message
	err  error
}

func (n *captureNotifier) Send(_ context.Context, to, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, accounts.Message{To: to, Subject: subject, Body: body})
	return nil
}

func (n *captureNotifier) Messages() []accounts.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]accounts.Message, len(n.sent))
	copy(out, n.sent)
	return out
}

type captureSink struct {
	mu      sync.Mutex
	entries []accounts.ActivityEntry
}

func (s *captureSink) Record(_ context.Context, entry accounts.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *captureSink) Actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Action)
	}
	return out
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

var errSMTPDown = errors.New("smtp: connection refused")

func validRegistration(suffix string) accounts.RegisterAccountMessage {
	return accounts.RegisterAccountMessage{
		Email:       "ana" + suffix + "@example.com",
		Username:    "ana" + suffix,
		Password:    testPassword,
		DisplayName: "Ana Souza",
		CompanyName: "Souza Design",
		TaxID:       "123.456.789-01",
		Phone:       "+1 201 555 0123",
		Role:        accounts.RoleDesigner,
	}
}

type fixture struct {
	repo     accounts.RepositoryManager
	clock    *testClock
	notifier *captureNotifier
	sink     *captureSink
	service  *accounts.AccountService
}

func newFixture(t *testing.T, cfg accounts.ServiceConfig) *fixture {
	t.Helper()

	f := &fixture{
		repo:     newTestRepo(t),
		clock:    newTestClock(),
		notifier: &captureNotifier{},
		sink:     &captureSink{},
	}

	f.service = accounts.NewAccountService(f.repo, cfg,
		accounts.WithServiceLogger(nopLogger{}),
		accounts.WithServiceClock(f.clock.Now),
		accounts.WithServiceHasher(testHasher()),
		accounts.WithServiceNotifier(f.notifier),
		accounts.WithServiceActivitySink(f.sink),
	)
	return f
}

func (f *fixture) register(t *testing.T, suffix string) *accounts.Account {
	t.Helper()
	res, err := f.service.Register(context.Background(), validRegistration(suffix))
	require.NoError(t, err)
	return res.Account
}

func (f *fixture) registerApproved(t *testing.T, suffix string) *accounts.Account {
	t.Helper()
	account := f.register(t, suffix)
	res, err := f.service.Approve(context.Background(), accounts.SystemActor(""), account.ID)
	require.NoError(t, err)
	return res.Account
}

func (f *fixture) activity(t *testing.T, filter accounts.ActivityFilter) []*accounts.ActivityEntry {
	t.Helper()
	entries, err := f.repo.Activity().List(context.Background(), filter)
	require.NoError(t, err)
	return entries
}

type testAuthConfig struct {
	signingKey string
	issuer     string
	audience   []string
	expiration int
}

func (c testAuthConfig) GetSigningKey() string    { return c.signingKey }
func (c testAuthConfig) GetSigningMethod() string { return "HS256" }
func (c testAuthConfig) GetTokenExpiration() int  { return c.expiration }
func (c testAuthConfig) GetIssuer() string        { return c.issuer }
func (c testAuthConfig) GetAudience() []string    { return c.audience }

func defaultAuthConfig() testAuthConfig {
	return testAuthConfig{
		signingKey: "test-signing-key-0123456789",
		issuer:     "accounts-test",
		audience:   []string{"accounts"},
		expiration: 1,
	}
}

func (f *fixture) authenticator() *accounts.Auther {
	return accounts.NewAuthenticator(f.repo, defaultAuthConfig()).
		WithLogger(nopLogger{}).
		WithHasher(testHasher()).
		WithClock(f.clock.Now).
		WithActivitySink(f.sink)
}
