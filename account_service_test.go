package accounts_test

import (
	"context"
	"sync"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-accounts"
)

func TestRegister_CreatesPendingAccount(t *testing.T) {
	f := newFixture(t, accounts.ServiceConfig{
		ReviewerEmail: "review@example.com",
		ReviewURL:     "https://admin.example.com/accounts",
	})
	ctx := accounts.WithClientIP(context.Background(), "10.0.0.7")

	msg := validRegistration("1")
	msg.Email = "  Ana1@Example.COM "

	res, err := f.service.Register(ctx, msg)
	require.NoError(t, err)
	require.NoError(t, res.NotificationErr)

	account := res.Account
	assert.NotZero(t, account.ID)
	assert.Equal(t, "ana1@example.com", account.Email)
	assert.Equal(t, accounts.AccountStatusPending, account.Status)
	assert.Equal(t, "12345678901", account.TaxID)
	assert.Equal(t, "+12015550123", account.Phone)
	assert.NotEqual(t, testPassword, account.PasswordHash)
	assert.NoError(t, testHasher().Compare(testPassword, account.PasswordHash))

	entries := f.activity(t, accounts.ActivityFilter{AccountID: &account.ID})
	require.Len(t, entries, 1)
	assert.Equal(t, accounts.ActionRegister, entries[0].Action)
	assert.Equal(t, "10.0.0.7", entries[0].IP)
	assert.True(t, f.clock.Now().Equal(entries[0].CreatedAt), "entry stamped with the service clock")

	msgs := f.notifier.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "review@example.com", msgs[0].To)
	assert.Contains(t, msgs[0].Body, "https://admin.example.com/accounts")

	assert.Equal(t, []string{accounts.ActionRegister}, f.sink.Actions())
}

func TestRegister_AutoApprove(t *testing.T) {
	f := newFixture(t, accounts.ServiceConfig{AutoApprove: true})

	account := f.register(t, "auto")
	assert.Equal(t, accounts.AccountStatusApproved, account.Status)
	assert.Empty(t, f.notifier.Messages(), "no reviewer configured")
}

func TestRegister_AutoApproveSkipsReviewRequest(t *testing.T) {
	var subjects []string
	notifier := accounts.NotifierFunc(func(_ context.Context, to, subject, _ string) error {
		subjects = append(subjects, to+": "+subject)
		return nil
	})

	service := accounts.NewAccountService(newTestRepo(t), accounts.ServiceConfig{
		AutoApprove:   true,
		ReviewerEmail: "review@example.com",
	},
		accounts.WithServiceLogger(nopLogger{}),
		accounts.WithServiceHasher(testHasher()),
		accounts.WithServiceNotifier(notifier),
	)

	res, err := service.Register(context.Background(), validRegistration("auto"))
	require.NoError(t, err)
	assert.Equal(t, accounts.AccountStatusApproved, res.Account.Status)
	assert.NoError(t, res.NotificationErr)
	assert.Empty(t, subjects, "nothing is waiting for review")
}

func TestRegister_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*accounts.RegisterAccountMessage)
		field string
	}{
		{"bad email", func(m *accounts.RegisterAccountMessage) { m.Email = "not-an-email" }, "email"},
		{"short username", func(m *accounts.RegisterAccountMessage) { m.Username = "ab" }, "username"},
		{"username punctuation", func(m *accounts.RegisterAccountMessage) { m.Username = "ana.souza" }, "username"},
		{"short password", func(m *accounts.RegisterAccountMessage) { m.Password = "1234567" }, "password"},
		{"tax id length", func(m *accounts.RegisterAccountMessage) { m.TaxID = "1234567890" }, "tax_id"},
		{"missing display name", func(m *accounts.RegisterAccountMessage) { m.DisplayName = "  " }, "display_name"},
		{"unknown role", func(m *accounts.RegisterAccountMessage) { m.Role = "printer" }, "role"},
	}

	f := newFixture(t, accounts.ServiceConfig{})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := validRegistration("v")
			tt.edit(&msg)

			_, err := f.service.Register(context.Background(), msg)
			require.Error(t, err)
			assert.True(t, accounts.IsValidationError(err), "got %v", err)

			var richErr *goerrors.Error
			require.True(t, goerrors.As(err, &richErr))
			assert.Contains(t, richErr.ValidationMap(), tt.field)
		})
	}

	list, total, err := f.service.List(context.Background(), accounts.AccountFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Zero(t, total)
}

func TestRegister_DuplicateIdentity(t *testing.T) {
	f := newFixture(t, accounts.ServiceConfig{})
	f.register(t, "dup")

	t.Run("email differs only in case", func(t *testing.T) {
		msg := validRegistration("other")
		msg.Email = "ANADUP@example.com"

		_, err := f.service.Register(context.Background(), msg)
		require.Error(t, err)
		assert.True(t, accounts.IsDuplicateIdentity(err))
	})

	t.Run("same username", func(t *testing.T) {
		msg := validRegistration("other")
		msg.Username = "anadup"

		_, err := f.service.Register(context.Background(), msg)
		require.Error(t, err)
		assert.True(t, accounts.IsDuplicateIdentity(err))
	})

	entries := f.activity(t, accounts.ActivityFilter{Action: accounts.ActionRegister})
	assert.Len(t, entries, 1)
}

func TestRegister_ConcurrentSameEmail(t *testing.T) {
	f := newFixture(t, accounts.ServiceConfig{})

	const workers = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := validRegistration("race")
			msg.Username = msg.Username + string(rune('a'+i))

			_, err := f.service.Register(context.Background(), msg)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case accounts.IsDuplicateIdentity(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, conflicts)
}

func TestRegister_NotificationFailureIsSoft(t *testing.T) {
	f := newFixture(t, accounts.ServiceConfig{ReviewerEmail: "review@example.com"})
	f.notifier.err = errSMTPDown

	res, err := f.service.Register(context.Background(), validRegistration("soft"))
	require.NoError(t, err)
	require.Error(t, res.NotificationErr)
	assert.True(t, accounts.IsNotificationFailure(res.NotificationErr))

	stored, err := f.service.Get(context.Background(), res.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, accounts.AccountStatusPending, stored.Status)
}

func TestApprove_NotifiesAccountHolder(t *testing.T) {
	f := newFixture(t, accounts.ServiceConfig{LoginURL: "https://example.com/login"})
	account := f.register(t, "ok")

	res, err := f.service.Approve(context.Background(), accounts.SystemActor("10.1.1.1"), account.ID,
		accounts.WithTransitionReason("documents checked"))
	require.NoError(t, err)
	require.NoError(t, res.NotificationErr)
	assert.Equal(t, accounts.AccountStatusApproved, res.Account.Status)

	msgs := f.notifier.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, account.Email, msgs[0].To)
	assert.Contains(t, msgs[0].Body, "https://example.com/login")

	entries := f.activity(t, accounts.ActivityFilter{Action: accounts.ActionApprove})
	require.Len(t, entries, 1)
	assert.Equal(t, accounts.SystemAccountID, entries[0].AccountID)
	assert.Equal(t, "10.1.1.1", entries[0].IP)
	assert.Contains(t, entries[0].Detail, "documents checked")
}

func TestApprove_NotificationFailureKeepsApproval(t *testing.T) {
	f := newFixture(t, accounts.ServiceConfig{})
	account := f.register(t, "soft")
	f.notifier.err = errSMTPDown

	res, err := f.service.Approve(context.Background(), accounts.SystemActor(""), account.ID)
	require.NoError(t, err)
	assert.Error(t, res.NotificationErr)

	stored, err := f.service.Get(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, accounts.AccountStatusApproved, stored.Status)
}

func TestLifecycleTransitions(t *testing.T) {
	f := newFixture(t, accounts.ServiceConfig{})
	ctx := context.Background()
	actor := accounts.SystemActor("")

	pending := f.register(t, "p")
	approved := f.registerApproved(t, "a")

	t.Run("reject pending", func(t *testing.T) {
		res, err := f.service.Reject(ctx, actor, pending.ID)
		require.NoError(t, err)
		assert.Equal(t, accounts.AccountStatusRejected, res.Account.Status)
	})

	t.Run("rejected is terminal", func(t *testing.T) {
		_, err := f.service.Approve(ctx, actor, pending.ID)
		require.Error(t, err)
		assert.True(t, accounts.IsInvalidTransition(err))

		_, err = f.service.Enable(ctx, actor, pending.ID)
		assert.True(t, accounts.IsInvalidTransition(err))
	})

	t.Run("approve twice", func(t *testing.T) {
		_, err := f.service.Approve(ctx, actor, approved.ID)
		require.Error(t, err)
		assert.True(t, accounts.IsInvalidTransition(err))
	})

	t.Run("disable and enable", func(t *testing.T) {
		res, err := f.service.Disable(ctx, actor, approved.ID)
		require.NoError(t, err)
		assert.Equal(t, accounts.AccountStatusDisabled, res.Account.Status)

		res, err = f.service.Enable(ctx, actor, approved.ID)
		require.NoError(t, err)
		assert.Equal(t, accounts.AccountStatusApproved, res.Account.Status)
	})

	t.Run("unknown account", func(t *testing.T) {
		_, err := f.service.Disable(ctx, actor, 9999)
		require.Error(t, err)
		assert.True(t, accounts.IsNotFound(err))
	})

	for _, action := range []string{accounts.ActionReject, accounts.ActionDisable, accounts.ActionEnable} {
		assert.Len(t, f.activity(t, accounts.ActivityFilter{Action: action}), 1, action)
	}
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t, accounts.ServiceConfig{})
	ctx := context.Background()
	account := f.register(t, "prof")
	other := f.register(t, "taken")

	self := accounts.ActorRef{ID: account.ID, Type: accounts.ActorTypeAccount, IP: "10.0.0.2"}

	t.Run("changes only given fields", func(t *testing.T) {
		company := "Souza Studio"
		phone := "(201) 555-0123"

		updated, err := f.service.UpdateProfile(ctx, self, account.ID, accounts.ProfileUpdate{
			CompanyName: &company,
			Phone:       &phone,
		})
		require.NoError(t, err)
		assert.Equal(t, "Souza Studio", updated.CompanyName)
		assert.Equal(t, "+12015550123", updated.Phone)
		assert.Equal(t, account.DisplayName, updated.DisplayName)
		assert.Equal(t, accounts.AccountStatusPending, updated.Status)
		assert.Equal(t, account.PasswordHash, updated.PasswordHash)

		entries := f.activity(t, accounts.ActivityFilter{Action: accounts.ActionProfileUpdate})
		require.Len(t, entries, 1)
		assert.Equal(t, account.ID, entries[0].AccountID)
		assert.Contains(t, entries[0].Detail, "company_name")
	})

	t.Run("email taken by another account", func(t *testing.T) {
		email := "ANATAKEN@example.com"
		_, err := f.service.UpdateProfile(ctx, self, account.ID, accounts.ProfileUpdate{Email: &email})
		require.Error(t, err)
		assert.True(t, accounts.IsDuplicateIdentity(err))

		stored, err := f.service.Get(ctx, other.ID)
		require.NoError(t, err)
		assert.Equal(t, "anataken@example.com", stored.Email)
	})

	t.Run("invalid tax id", func(t *testing.T) {
		taxID := "123"
		_, err := f.service.UpdateProfile(ctx, self, account.ID, accounts.ProfileUpdate{TaxID: &taxID})
		require.Error(t, err)
		assert.True(t, accounts.IsValidationError(err))
	})

	t.Run("role is ignored for the account itself", func(t *testing.T) {
		role := accounts.RoleReseller
		company := "Souza Resale"

		updated, err := f.service.UpdateProfile(ctx, self, account.ID, accounts.ProfileUpdate{
			Role:        &role,
			CompanyName: &company,
		})
		require.NoError(t, err)
		assert.Equal(t, accounts.RoleDesigner, updated.Role)
		assert.Equal(t, "Souza Resale", updated.CompanyName)
	})

	t.Run("role changes through an admin", func(t *testing.T) {
		role := accounts.RoleReseller
		admin := accounts.ActorRef{ID: 99, Type: accounts.ActorTypeAdmin}

		updated, err := f.service.UpdateProfile(ctx, admin, account.ID, accounts.ProfileUpdate{Role: &role})
		require.NoError(t, err)
		assert.Equal(t, accounts.RoleReseller, updated.Role)
	})

	t.Run("no changes writes nothing", func(t *testing.T) {
		before := len(f.activity(t, accounts.ActivityFilter{Action: accounts.ActionProfileUpdate}))

		_, err := f.service.UpdateProfile(ctx, self, account.ID, accounts.ProfileUpdate{})
		require.NoError(t, err)

		after := len(f.activity(t, accounts.ActivityFilter{Action: accounts.ActionProfileUpdate}))
		assert.Equal(t, before, after)
	})
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t, accounts.ServiceConfig{})
	ctx := context.Background()
	account := f.registerApproved(t, "pw")
	self := accounts.ActorRef{ID: account.ID, Type: accounts.ActorTypeAccount}

	err := f.service.ChangePassword(ctx, self, account.ID, "wrong-password", "new-password-1")
	require.Error(t, err)
	assert.True(t, accounts.IsBadCredential(err))

	err = f.service.ChangePassword(ctx, self, account.ID, testPassword, "short")
	require.Error(t, err)
	assert.True(t, accounts.HasTextCode(err, accounts.TextCodeWeakPassword))

	require.NoError(t, f.service.ChangePassword(ctx, self, account.ID, testPassword, "new-password-1"))

	stored, err := f.service.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.NoError(t, testHasher().Compare("new-password-1", stored.PasswordHash))
	assert.Error(t, testHasher().Compare(testPassword, stored.PasswordHash))

	entries := f.activity(t, accounts.ActivityFilter{Action: accounts.ActionPasswordChange})
	require.Len(t, entries, 1)
	assert.Equal(t, account.ID, entries[0].AccountID)
}

func TestDelete_KeepsActivity(t *testing.T) {
	f := newFixture(t, accounts.ServiceConfig{})
	ctx := context.Background()
	account := f.register(t, "gone")

	require.NoError(t, f.service.Delete(ctx, accounts.ActorRef{ID: 1, Type: accounts.ActorTypeAdmin}, account.ID))

	_, err := f.service.Get(ctx, account.ID)
	require.Error(t, err)
	assert.True(t, accounts.IsNotFound(err))

	history := f.activity(t, accounts.ActivityFilter{AccountID: &account.ID})
	require.Len(t, history, 1)
	assert.Equal(t, accounts.ActionRegister, history[0].Action)

	deletions := f.activity(t, accounts.ActivityFilter{Action: accounts.ActionDelete})
	require.Len(t, deletions, 1)
	assert.Equal(t, accounts.SystemAccountID, deletions[0].AccountID)
	assert.Contains(t, deletions[0].Detail, "by admin 1")

	err = f.service.Delete(ctx, accounts.SystemActor(""), account.ID)
	require.Error(t, err)
	assert.True(t, accounts.IsNotFound(err))
}

func TestList_Filters(t *testing.T) {
	f := newFixture(t, accounts.ServiceConfig{})
	ctx := context.Background()

	f.register(t, "one")
	f.registerApproved(t, "two")

	reseller := validRegistration("three")
	reseller.Role = accounts.RoleReseller
	_, err := f.service.Register(ctx, reseller)
	require.NoError(t, err)

	pending, total, err := f.service.List(ctx, accounts.AccountFilter{Status: accounts.AccountStatusPending})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, pending, 2)

	resellers, total, err := f.service.List(ctx, accounts.AccountFilter{Role: accounts.RoleReseller})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, resellers, 1)
	assert.Equal(t, "anathree", resellers[0].Username)

	page, total, err := f.service.List(ctx, accounts.AccountFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, "anatwo", page[0].Username)

	_, _, err = f.service.List(ctx, accounts.AccountFilter{Status: "archived"})
	require.Error(t, err)
	assert.True(t, accounts.IsValidationError(err))
}

func TestEnsureAdmin(t *testing.T) {
	f := newFixture(t, accounts.ServiceConfig{})
	ctx := context.Background()

	msg := validRegistration("admin")

	admin, err := f.service.EnsureAdmin(ctx, msg)
	require.NoError(t, err)
	assert.True(t, admin.Admin)
	assert.Equal(t, accounts.AccountStatusApproved, admin.Status)

	msg.Password = "another-password"
	again, err := f.service.EnsureAdmin(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, admin.ID, again.ID)
	assert.NoError(t, testHasher().Compare(testPassword, again.PasswordHash))

	assert.Len(t, f.activity(t, accounts.ActivityFilter{Action: accounts.ActionBootstrapAdmin}), 1)

	t.Run("promotes existing account", func(t *testing.T) {
		existing := f.register(t, "promote")

		promoted, err := f.service.EnsureAdmin(ctx, validRegistration("promote"))
		require.NoError(t, err)
		assert.Equal(t, existing.ID, promoted.ID)
		assert.True(t, promoted.Admin)
		assert.Equal(t, accounts.AccountStatusApproved, promoted.Status)
	})
}
