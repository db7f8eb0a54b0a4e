package accounts

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// Accounts is the account store
type Accounts interface {
	Create(ctx context.Context, record *Account) (*Account, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Account) (*Account, error)

	GetByID(ctx context.Context, id int64) (*Account, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id int64) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error)
	GetByIdentifier(ctx context.Context, identifier string) (*Account, error)
	GetByResetTokenTx(ctx context.Context, tx bun.IDB, digest string, now time.Time) (*Account, error)
	HasResetToken(ctx context.Context, digest string) (bool, error)
	FindConflictTx(ctx context.Context, tx bun.IDB, email, username string, excludeID int64) (string, error)
	List(ctx context.Context, filter AccountFilter) ([]*Account, int, error)

	UpdateStatusTx(ctx context.Context, tx bun.IDB, id int64, from, to AccountStatus, now time.Time) (*Account, error)
	UpdateProfileTx(ctx context.Context, tx bun.IDB, record *Account, now time.Time) (*Account, error)
	UpdatePasswordTx(ctx context.Context, tx bun.IDB, id int64, passwordHash string, now time.Time) error
	SetAdminTx(ctx context.Context, tx bun.IDB, id int64, admin bool, now time.Time) error
	SetResetTokenTx(ctx context.Context, tx bun.IDB, id int64, digest string, expiresAt, now time.Time) error
	ConsumeResetTokenTx(ctx context.Context, tx bun.IDB, digest, passwordHash string, now time.Time) (*Account, error)
	DeleteTx(ctx context.Context, tx bun.IDB, id int64) error
}

// AccountFilter narrows List results. Zero values mean no filter.
type AccountFilter struct {
	Status AccountStatus
	Role   AccountRole
	Limit  int
	Offset int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type accounts struct {
	db *bun.DB
}

var _ Accounts = (*accounts)(nil)

// NewAccountsRepository returns the bun backed account store
func NewAccountsRepository(db *bun.DB) Accounts {
	return &accounts{db: db}
}

func (a *accounts) Create(ctx context.Context, record *Account) (*Account, error) {
	return a.CreateTx(ctx, a.db, record)
}

// CreateTx inserts record. The UNIQUE constraints on email and username are
// the authoritative duplicate guard, a violation maps to ErrDuplicateIdentity.
func (a *accounts) CreateTx(ctx context.Context, tx bun.IDB, record *Account) (*Account, error) {
	prepareAccountDefaults(record)

	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		if field, ok := uniqueViolation(err); ok {
			return nil, errorWith(ErrDuplicateIdentity, map[string]any{"field": field})
		}
		return nil, storageError(err, "accounts.create")
	}

	return record, nil
}

func (a *accounts) GetByID(ctx context.Context, id int64) (*Account, error) {
	return a.GetByIDTx(ctx, a.db, id)
}

func (a *accounts) GetByIDTx(ctx context.Context, tx bun.IDB, id int64) (*Account, error) {
	return a.getOne(ctx, tx, "accounts.get_by_id", map[string]any{"id": id}, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.id = ?", id)
	})
}

func (a *accounts) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return a.GetByEmailTx(ctx, a.db, email)
}

func (a *accounts) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error) {
	email = NormalizeEmail(email)
	return a.getOne(ctx, tx, "accounts.get_by_email", map[string]any{"email": email}, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.email = ?", email)
	})
}

// GetByIdentifier matches either the email or the username in one lookup
func (a *accounts) GetByIdentifier(ctx context.Context, identifier string) (*Account, error) {
	email := NormalizeEmail(identifier)
	username := identifier
	return a.getOne(ctx, a.db, "accounts.get_by_identifier", map[string]any{"identifier": identifier}, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.email = ?", email).
				WhereOr("?TableAlias.username = ?", username)
		})
	})
}

// GetByResetTokenTx finds the account holding digest while the token has
// not expired. Expiry is strict: a token expiring exactly at now is dead.
func (a *accounts) GetByResetTokenTx(ctx context.Context, tx bun.IDB, digest string, now time.Time) (*Account, error) {
	return a.getOne(ctx, tx, "accounts.get_by_reset_token", nil, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.reset_token = ?", digest).
			Where("?TableAlias.reset_expires_at > ?", now.UTC())
	})
}

// HasResetToken reports whether digest is stored, expired or not
func (a *accounts) HasResetToken(ctx context.Context, digest string) (bool, error) {
	exists, err := a.db.NewSelect().
		Model((*Account)(nil)).
		Where("?TableAlias.reset_token = ?", digest).
		Exists(ctx)
	if err != nil {
		return false, storageError(err, "accounts.has_reset_token")
	}
	return exists, nil
}

// FindConflictTx returns the first identity field already used by another
// account, or an empty string
func (a *accounts) FindConflictTx(ctx context.Context, tx bun.IDB, email, username string, excludeID int64) (string, error) {
	checks := []struct {
		field string
		value string
	}{
		{field: "email", value: NormalizeEmail(email)},
		{field: "username", value: username},
	}

	for _, check := range checks {
		if check.value == "" {
			continue
		}
		q := tx.NewSelect().
			Model((*Account)(nil)).
			Where("?TableAlias.? = ?", bun.Ident(check.field), check.value)
		if excludeID > 0 {
			q = q.Where("?TableAlias.id <> ?", excludeID)
		}
		exists, err := q.Exists(ctx)
		if err != nil {
			return "", storageError(err, "accounts.find_conflict")
		}
		if exists {
			return check.field, nil
		}
	}

	return "", nil
}

func (a *accounts) List(ctx context.Context, filter AccountFilter) ([]*Account, int, error) {
	records := []*Account{}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	q := a.db.NewSelect().Model(&records).Order("id ASC").Limit(limit)
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if filter.Status != "" {
		q = q.Where("?TableAlias.status = ?", filter.Status)
	}
	if filter.Role != "" {
		q = q.Where("?TableAlias.role = ?", filter.Role)
	}

	total, err := q.ScanAndCount(ctx)
	if err != nil {
		return nil, 0, storageError(err, "accounts.list")
	}

	return records, total, nil
}

// UpdateStatusTx moves id from one status to another. The update only
// applies while the row is still in from, so a concurrent transition makes
// this one fail with ErrInvalidTransition. Leaving approved drops any
// in-flight reset token.
func (a *accounts) UpdateStatusTx(ctx context.Context, tx bun.IDB, id int64, from, to AccountStatus, now time.Time) (*Account, error) {
	q := tx.NewUpdate().
		Model((*Account)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", now)
	if to != AccountStatusApproved {
		q = q.Set("reset_token = NULL").
			Set("reset_expires_at = NULL")
	}

	res, err := q.
		Where("id = ?", id).
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		return nil, storageError(err, "accounts.update_status")
	}

	if err := expectOneRow(res, "accounts.update_status"); err != nil {
		current, getErr := a.GetByIDTx(ctx, tx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, errorWith(ErrInvalidTransition, map[string]any{
			"id":   id,
			"from": current.Status,
			"to":   to,
		})
	}

	return a.GetByIDTx(ctx, tx, id)
}

// UpdateProfileTx writes the profile columns of record. Status, credential
// and reset columns are never touched.
func (a *accounts) UpdateProfileTx(ctx context.Context, tx bun.IDB, record *Account, now time.Time) (*Account, error) {
	record.Email = NormalizeEmail(record.Email)
	record.UpdatedAt = now

	res, err := tx.NewUpdate().
		Model(record).
		Column("email", "display_name", "company_name", "tax_id", "phone", "profile_photo", "role", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		if field, ok := uniqueViolation(err); ok {
			return nil, errorWith(ErrDuplicateIdentity, map[string]any{"field": field})
		}
		return nil, storageError(err, "accounts.update_profile")
	}

	if err := expectOneRow(res, "accounts.update_profile"); err != nil {
		return nil, errorWith(ErrAccountNotFound, map[string]any{"id": record.ID})
	}

	return a.GetByIDTx(ctx, tx, record.ID)
}

// UpdatePasswordTx rotates the hash and drops any in-flight reset token
func (a *accounts) UpdatePasswordTx(ctx context.Context, tx bun.IDB, id int64, passwordHash string, now time.Time) error {
	res, err := tx.NewUpdate().
		Model((*Account)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("reset_token = NULL").
		Set("reset_expires_at = NULL").
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return storageError(err, "accounts.update_password")
	}

	if err := expectOneRow(res, "accounts.update_password"); err != nil {
		return errorWith(ErrAccountNotFound, map[string]any{"id": id})
	}
	return nil
}

func (a *accounts) SetAdminTx(ctx context.Context, tx bun.IDB, id int64, admin bool, now time.Time) error {
	res, err := tx.NewUpdate().
		Model((*Account)(nil)).
		Set("is_admin = ?", admin).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return storageError(err, "accounts.set_admin")
	}

	if err := expectOneRow(res, "accounts.set_admin"); err != nil {
		return errorWith(ErrAccountNotFound, map[string]any{"id": id})
	}
	return nil
}

// SetResetTokenTx stores token digest and expiry together, replacing any
// previous token
func (a *accounts) SetResetTokenTx(ctx context.Context, tx bun.IDB, id int64, digest string, expiresAt, now time.Time) error {
	res, err := tx.NewUpdate().
		Model((*Account)(nil)).
		Set("reset_token = ?", digest).
		Set("reset_expires_at = ?", expiresAt.UTC()).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return storageError(err, "accounts.set_reset_token")
	}

	if err := expectOneRow(res, "accounts.set_reset_token"); err != nil {
		return errorWith(ErrAccountNotFound, map[string]any{"id": id})
	}
	return nil
}

// ConsumeResetTokenTx redeems digest. The new hash is written and token and
// expiry are cleared by a single statement that only matches while the token
// is live, so two concurrent redemptions can not both succeed.
func (a *accounts) ConsumeResetTokenTx(ctx context.Context, tx bun.IDB, digest, passwordHash string, now time.Time) (*Account, error) {
	record, err := a.GetByResetTokenTx(ctx, tx, digest, now)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, err
	}

	res, err := tx.NewUpdate().
		Model((*Account)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("reset_token = NULL").
		Set("reset_expires_at = NULL").
		Set("updated_at = ?", now).
		Where("id = ?", record.ID).
		Where("reset_token = ?", digest).
		Where("reset_expires_at > ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return nil, storageError(err, "accounts.consume_reset_token")
	}

	if err := expectOneRow(res, "accounts.consume_reset_token"); err != nil {
		return nil, ErrInvalidOrExpiredToken
	}

	record.PasswordHash = passwordHash
	record.ClearReset()
	record.UpdatedAt = now
	return record, nil
}

// DeleteTx hard deletes the account row, reset token included. Activity
// entries keep pointing at the removed id.
func (a *accounts) DeleteTx(ctx context.Context, tx bun.IDB, id int64) error {
	res, err := tx.NewDelete().
		Model((*Account)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return storageError(err, "accounts.delete")
	}

	if err := expectOneRow(res, "accounts.delete"); err != nil {
		return errorWith(ErrAccountNotFound, map[string]any{"id": id})
	}
	return nil
}

func (a *accounts) getOne(ctx context.Context, tx bun.IDB, op string, meta map[string]any, where func(*bun.SelectQuery) *bun.SelectQuery) (*Account, error) {
	record := &Account{}
	err := where(tx.NewSelect().Model(record)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, errorWith(ErrAccountNotFound, meta)
		}
		return nil, storageError(err, op)
	}
	return record, nil
}

func prepareAccountDefaults(record *Account) {
	record.Email = NormalizeEmail(record.Email)
	if record.Status == "" {
		record.Status = AccountStatusPending
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = Now()
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}
}
