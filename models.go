package accounts

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccountStatus is the lifecycle state of an account
type AccountStatus string

const (
	// AccountStatusPending is waiting for an administrator decision
	AccountStatusPending AccountStatus = "pending"
	// AccountStatusApproved can authenticate
	AccountStatusApproved AccountStatus = "approved"
	// AccountStatusRejected was turned down during review
	AccountStatusRejected AccountStatus = "rejected"
	// AccountStatusDisabled was approved and later switched off
	AccountStatusDisabled AccountStatus = "disabled"
)

// IsValid reports whether the status is one of the known values
func (s AccountStatus) IsValid() bool {
	switch s {
	case AccountStatusPending, AccountStatusApproved, AccountStatusRejected, AccountStatusDisabled:
		return true
	}
	return false
}

// AccountRole is the business role picked at registration
type AccountRole string

const (
	RoleDesigner AccountRole = "designer"
	RoleReseller AccountRole = "reseller"
)

// IsValid reports whether the role is one of the known values
func (r AccountRole) IsValid() bool {
	return r == RoleDesigner || r == RoleReseller
}

// Account is the directory record of a registered person
type Account struct {
	bun.BaseModel  `bun:"table:accounts,alias:acc"`
	ID             int64         `bun:"id,pk,autoincrement" json:"id"`
	Email          string        `bun:"email,notnull,unique" json:"email"`
	Username       string        `bun:"username,notnull,unique" json:"username"`
	DisplayName    string        `bun:"display_name,notnull" json:"display_name"`
	CompanyName    string        `bun:"company_name,notnull" json:"company_name"`
	TaxID          string        `bun:"tax_id,notnull" json:"tax_id"`
	Phone          string        `bun:"phone,notnull" json:"phone,omitempty"`
	ProfilePhoto   string        `bun:"profile_photo,notnull" json:"profile_photo,omitempty"`
	Role           AccountRole   `bun:"role,notnull" json:"role"`
	Admin          bool          `bun:"is_admin,notnull" json:"is_admin"`
	Status         AccountStatus `bun:"status,notnull" json:"status"`
	PasswordHash   string        `bun:"password_hash,notnull" json:"-"`
	ResetToken     *string       `bun:"reset_token" json:"-"`
	ResetExpiresAt *time.Time    `bun:"reset_expires_at" json:"-"`
	CreatedAt      time.Time     `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt      time.Time     `bun:"updated_at,notnull" json:"updated_at"`
}

// IsApproved reports whether the account may authenticate
func (a *Account) IsApproved() bool {
	return a != nil && a.Status == AccountStatusApproved
}

// HasPendingReset reports whether a reset token is still redeemable at now
func (a *Account) HasPendingReset(now time.Time) bool {
	if a == nil || a.ResetToken == nil || a.ResetExpiresAt == nil {
		return false
	}
	return a.ResetExpiresAt.After(now)
}

// ClearReset drops any in-flight recovery token
func (a *Account) ClearReset() {
	a.ResetToken = nil
	a.ResetExpiresAt = nil
}

// Identity view over Account

func (a *Account) GetID() string       { return strconv.FormatInt(a.ID, 10) }
func (a *Account) GetUsername() string { return a.Username }
func (a *Account) GetEmail() string    { return a.Email }
func (a *Account) GetRole() string     { return string(a.Role) }
func (a *Account) IsAdmin() bool       { return a.Admin }

// ActivityAction labels an activity entry
type ActivityAction = string

const (
	ActionRegister       ActivityAction = "register"
	ActionApprove        ActivityAction = "approve"
	ActionReject         ActivityAction = "reject"
	ActionEnable         ActivityAction = "enable"
	ActionDisable        ActivityAction = "disable"
	ActionProfileUpdate  ActivityAction = "profile_update"
	ActionPasswordChange ActivityAction = "password_change"
	ActionDelete         ActivityAction = "delete"
	ActionLogin          ActivityAction = "login"
	ActionResetRequest   ActivityAction = "password_reset_request"
	ActionResetConfirm   ActivityAction = "password_reset_confirm"
	ActionBootstrapAdmin ActivityAction = "bootstrap_admin"
	ActionActivityPurge  ActivityAction = "activity_purge"
)

// SystemAccountID is recorded on entries written by administrative or
// background actions that have no account behind them
const SystemAccountID int64 = 0

const maxActivityDetailSize = 1024

// ActivityEntry is an append-only record of something that happened to an account
type ActivityEntry struct {
	bun.BaseModel `bun:"table:activity_log,alias:act"`
	ID            uuid.UUID      `bun:"id,pk,type:uuid" json:"id"`
	AccountID     int64          `bun:"account_id,notnull" json:"account_id"`
	Action        ActivityAction `bun:"action,notnull" json:"action"`
	Detail        string         `bun:"detail,notnull" json:"detail,omitempty"`
	IP            string         `bun:"ip,notnull" json:"ip,omitempty"`
	CreatedAt     time.Time      `bun:"created_at,notnull" json:"created_at"`
}

// NewActivityEntry builds an entry stamped at now
func NewActivityEntry(accountID int64, action ActivityAction, detail, ip string, now time.Time) *ActivityEntry {
	detail = strings.TrimSpace(detail)
	if len(detail) > maxActivityDetailSize {
		detail = detail[:maxActivityDetailSize]
	}
	return &ActivityEntry{
		ID:        uuid.New(),
		AccountID: accountID,
		Action:    action,
		Detail:    detail,
		IP:        ip,
		CreatedAt: now,
	}
}
