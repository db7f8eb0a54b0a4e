package accounts

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// RegisterAccountRoutes mounts the JSON account endpoints on app
func RegisterAccountRoutes[T any](app router.Router[T], controller *AccountController) {
	session := SessionGuard(controller.Auther, false, controller.Logger)
	admin := SessionGuard(controller.Auther, true, controller.Logger)
	routes := controller.Routes

	app.Post(routes.Register, controller.RegisterCreate).SetName("accounts.register")
	app.Post(routes.Login, controller.LoginPost).SetName("accounts.login")

	app.Post(routes.PasswordReset, controller.PasswordResetRequest).SetName("accounts.pwd-reset.request")
	app.Post(fmt.Sprintf("%s/:token", routes.PasswordReset), controller.PasswordResetConfirm).
		SetName("accounts.pwd-reset.confirm")

	app.Get(routes.Me, controller.MeShow, session).SetName("accounts.me.get")
	app.Put(routes.Me, controller.MeUpdate, session).SetName("accounts.me.update")
	app.Post(routes.Me+"/password", controller.MePassword, session).SetName("accounts.me.password")

	app.Get(routes.Activity, controller.AdminActivity, admin).SetName("accounts.admin.activity")
	app.Get(routes.Admin, controller.AdminList, admin).SetName("accounts.admin.list")
	app.Get(routes.Admin+"/:id", controller.AdminShow, admin).SetName("accounts.admin.get")
	app.Put(routes.Admin+"/:id", controller.AdminUpdate, admin).SetName("accounts.admin.update")
	app.Delete(routes.Admin+"/:id", controller.AdminDelete, admin).SetName("accounts.admin.delete")
	app.Post(routes.Admin+"/:id/approve", controller.AdminApprove, admin).SetName("accounts.admin.approve")
	app.Post(routes.Admin+"/:id/reject", controller.AdminReject, admin).SetName("accounts.admin.reject")
	app.Post(routes.Admin+"/:id/enable", controller.AdminEnable, admin).SetName("accounts.admin.enable")
	app.Post(routes.Admin+"/:id/disable", controller.AdminDisable, admin).SetName("accounts.admin.disable")
}

type AccountControllerRoutes struct {
	Register      string
	Login         string
	PasswordReset string
	Me            string
	Admin         string
	Activity      string
}

// AccountController exposes the services as JSON endpoints
type AccountController struct {
	Debug  bool
	Logger Logger
	// RevealAccountStatus lets login answers say an account is not approved
	// instead of the generic invalid credentials message
	RevealAccountStatus bool
	Routes              *AccountControllerRoutes

	Accounts *AccountService
	Recovery *PasswordRecovery
	Auther   Authenticator
}

type AccountControllerOption func(*AccountController) *AccountController

func WithControllerLogger(logger Logger) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.Logger = normalizeLogger(logger)
		return c
	}
}

func WithControllerDebug(debug bool) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.Debug = debug
		return c
	}
}

func WithRevealAccountStatus(reveal bool) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.RevealAccountStatus = reveal
		return c
	}
}

func WithControllerRoutes(routes *AccountControllerRoutes) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		if routes != nil {
			c.Routes = routes
		}
		return c
	}
}

// NewAccountController builds a controller over the three services
func NewAccountController(accounts *AccountService, recovery *PasswordRecovery, auther Authenticator, opts ...AccountControllerOption) *AccountController {
	c := &AccountController{
		Logger:   defLogger{},
		Accounts: accounts,
		Recovery: recovery,
		Auther:   auther,
		Routes: &AccountControllerRoutes{
			Register:      "/register",
			Login:         "/login",
			PasswordReset: "/password-reset",
			Me:            "/me",
			Admin:         "/admin/accounts",
			Activity:      "/admin/activity",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Accounts == nil {
		panic("Missing AccountService in account controller...")
	}

	if c.Recovery == nil {
		panic("Missing PasswordRecovery in account controller...")
	}

	if c.Auther == nil {
		panic("Missing Authenticator in account controller...")
	}

	return c
}

type LoginRequest struct {
	Identifier string `json:"identifier" form:"identifier"`
	Password   string `json:"password" form:"password"`
}

type PasswordResetRequest struct {
	Email string `json:"email" form:"email"`
}

type PasswordResetConfirmRequest struct {
	Password        string `json:"password" form:"password"`
	ConfirmPassword string `json:"confirm_password" form:"confirm_password"`
}

// Validate will run validation rules
func (r PasswordResetConfirmRequest) Validate() error {
	return validationError(func() error {
		return validation.ValidateStruct(&r,
			validation.Field(&r.Password, validation.Required),
			validation.Field(&r.ConfirmPassword, validation.Required, validation.By(ValidateStringEquals(r.Password))),
		)
	}, "invalid password reset payload")
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" form:"current_password"`
	NewPassword     string `json:"new_password" form:"new_password"`
	ConfirmPassword string `json:"confirm_password" form:"confirm_password"`
}

// Validate will run validation rules
func (r ChangePasswordRequest) Validate() error {
	return validationError(func() error {
		return validation.ValidateStruct(&r,
			validation.Field(&r.CurrentPassword, validation.Required),
			validation.Field(&r.NewPassword, validation.Required),
			validation.Field(&r.ConfirmPassword, validation.Required, validation.By(ValidateStringEquals(r.NewPassword))),
		)
	}, "invalid password change payload")
}

const (
	resetRequestedMessage = "If the address belongs to an approved account a reset link is on its way."
	notificationWarning   = "notification could not be delivered"
)

func (c *AccountController) RegisterCreate(ctx router.Context) error {
	payload := new(RegisterAccountMessage)
	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, err)
	}

	if c.Debug {
		masked := *payload
		masked.Password = "***"
		c.Logger.Debug("register payload", "payload", print.MaybePrettyJSON(masked))
	}

	result, err := c.Accounts.Register(c.requestContext(ctx), *payload)
	if err != nil {
		return c.sendError(ctx, err)
	}

	out := map[string]any{
		"id":     result.Account.ID,
		"status": result.Account.Status,
	}
	if result.NotificationErr != nil {
		out["warning"] = notificationWarning
	}

	return ctx.JSON(http.StatusCreated, out)
}

func (c *AccountController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)
	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, err)
	}

	token, err := c.Auther.Login(c.requestContext(ctx), payload.Identifier, payload.Password)
	if err != nil {
		c.Logger.Info("login failed", "identifier", payload.Identifier, "error", err)
		return c.sendError(ctx, PublicError(err, c.RevealAccountStatus))
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"token": token,
	})
}

func (c *AccountController) PasswordResetRequest(ctx router.Context) error {
	payload := new(PasswordResetRequest)
	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, err)
	}

	if _, err := c.Recovery.RequestReset(c.requestContext(ctx), payload.Email); err != nil {
		return c.sendError(ctx, err)
	}

	return ctx.JSON(http.StatusAccepted, map[string]any{
		"message": resetRequestedMessage,
	})
}

func (c *AccountController) PasswordResetConfirm(ctx router.Context) error {
	token := ctx.Param("token", "")

	payload := new(PasswordResetConfirmRequest)
	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return c.sendError(ctx, err)
	}

	if err := c.Recovery.ConfirmReset(c.requestContext(ctx), token, payload.Password, payload.ConfirmPassword); err != nil {
		return c.sendError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"message": "Password updated.",
	})
}

func (c *AccountController) MeShow(ctx router.Context) error {
	id, err := c.sessionAccountID(ctx)
	if err != nil {
		return c.sendError(ctx, err)
	}

	account, err := c.Accounts.Get(ctx.Context(), id)
	if err != nil {
		return c.sendError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, account)
}

func (c *AccountController) MeUpdate(ctx router.Context) error {
	id, err := c.sessionAccountID(ctx)
	if err != nil {
		return c.sendError(ctx, err)
	}

	payload := new(ProfileUpdate)
	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, err)
	}
	// roles are assigned by admins only
	payload.Role = nil

	reqCtx := c.requestContext(ctx)
	account, err := c.Accounts.UpdateProfile(reqCtx, ActorFromContext(reqCtx), id, *payload)
	if err != nil {
		return c.sendError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, account)
}

func (c *AccountController) MePassword(ctx router.Context) error {
	id, err := c.sessionAccountID(ctx)
	if err != nil {
		return c.sendError(ctx, err)
	}

	payload := new(ChangePasswordRequest)
	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return c.sendError(ctx, err)
	}

	reqCtx := c.requestContext(ctx)
	if err := c.Accounts.ChangePassword(reqCtx, ActorFromContext(reqCtx), id, payload.CurrentPassword, payload.NewPassword); err != nil {
		if IsBadCredential(err) {
			err = ErrInvalidCredentials
		}
		return c.sendError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"message": "Password updated.",
	})
}

func (c *AccountController) AdminList(ctx router.Context) error {
	filter := AccountFilter{
		Status: AccountStatus(strings.ToLower(ctx.Query("status"))),
		Role:   AccountRole(strings.ToLower(ctx.Query("role"))),
		Limit:  queryInt(ctx, "limit"),
		Offset: queryInt(ctx, "offset"),
	}

	records, total, err := c.Accounts.List(ctx.Context(), filter)
	if err != nil {
		return c.sendError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"records": records,
		"total":   total,
	})
}

// AdminActivity lists activity entries, optionally for one account id,
// one action or since a RFC3339 timestamp
func (c *AccountController) AdminActivity(ctx router.Context) error {
	filter := ActivityFilter{
		Action: ActivityAction(strings.ToLower(ctx.Query("action"))),
		Limit:  queryInt(ctx, "limit"),
	}

	if raw := ctx.Query("account_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 0 {
			return c.sendError(ctx, validationFieldError("account_id", "must be a positive number"))
		}
		filter.AccountID = &id
	}

	if raw := ctx.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.sendError(ctx, validationFieldError("since", "must be a RFC3339 timestamp"))
		}
		filter.Since = since
	}

	entries, err := c.Accounts.Activity(ctx.Context(), filter)
	if err != nil {
		return c.sendError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"records": entries,
		"count":   len(entries),
	})
}

func (c *AccountController) AdminShow(ctx router.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return c.sendError(ctx, err)
	}

	account, err := c.Accounts.Get(ctx.Context(), id)
	if err != nil {
		return c.sendError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, account)
}

func (c *AccountController) AdminUpdate(ctx router.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return c.sendError(ctx, err)
	}

	payload := new(ProfileUpdate)
	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, err)
	}

	reqCtx := c.requestContext(ctx)
	account, err := c.Accounts.UpdateProfile(reqCtx, ActorFromContext(reqCtx), id, *payload)
	if err != nil {
		return c.sendError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, account)
}

func (c *AccountController) AdminDelete(ctx router.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return c.sendError(ctx, err)
	}

	reqCtx := c.requestContext(ctx)
	if err := c.Accounts.Delete(reqCtx, ActorFromContext(reqCtx), id); err != nil {
		return c.sendError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"id":      id,
		"deleted": true,
	})
}

func (c *AccountController) AdminApprove(ctx router.Context) error {
	return c.transition(ctx, c.Accounts.Approve)
}

func (c *AccountController) AdminReject(ctx router.Context) error {
	return c.transition(ctx, c.Accounts.Reject)
}

func (c *AccountController) AdminEnable(ctx router.Context) error {
	return c.transition(ctx, c.Accounts.Enable)
}

func (c *AccountController) AdminDisable(ctx router.Context) error {
	return c.transition(ctx, c.Accounts.Disable)
}

type transitionFunc func(ctx context.Context, actor ActorRef, id int64, opts ...TransitionOption) (*TransitionResult, error)

func (c *AccountController) transition(ctx router.Context, fn transitionFunc) error {
	id, err := paramID(ctx)
	if err != nil {
		return c.sendError(ctx, err)
	}

	reason := strings.TrimSpace(ctx.Query("reason"))

	reqCtx := c.requestContext(ctx)
	result, err := fn(reqCtx, ActorFromContext(reqCtx), id, WithTransitionReason(reason))
	if err != nil {
		return c.sendError(ctx, err)
	}

	out := map[string]any{
		"id":     result.Account.ID,
		"status": result.Account.Status,
	}
	if result.NotificationErr != nil {
		out["warning"] = notificationWarning
	}

	return ctx.JSON(router.StatusOK, out)
}

// requestContext carries the caller address into the services
func (c *AccountController) requestContext(ctx router.Context) context.Context {
	return WithClientIP(ctx.Context(), ctx.IP())
}

func (c *AccountController) sessionAccountID(ctx router.Context) (int64, error) {
	session, ok := SessionFromContext(ctx.Context())
	if !ok {
		return 0, ErrSessionInvalid
	}
	return session.AccountID()
}

func (c *AccountController) badRequest(ctx router.Context, err error) error {
	return c.sendError(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "unable to parse request payload").
		WithTextCode(TextCodeValidation).
		WithCode(goerrors.CodeBadRequest))
}

func (c *AccountController) sendError(ctx router.Context, err error) error {
	return writeError(ctx, c.Logger, err)
}

func writeError(ctx router.Context, logger Logger, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "request could not be completed").
			WithCode(goerrors.CodeInternal)
	}

	code := richErr.Code
	if code == 0 {
		code = goerrors.CodeInternal
	}

	if code >= goerrors.CodeInternal {
		logger.Error("request failed", "error", err)
		richErr = goerrors.New("request could not be completed", richErr.Category).
			WithTextCode(richErr.TextCode).
			WithCode(code)
	}

	body := map[string]any{
		"error":   richErr.Message,
		"code":    richErr.TextCode,
		"success": false,
	}
	if fields := richErr.ValidationMap(); len(fields) > 0 {
		body["validation"] = fields
	}

	return ctx.JSON(code, body)
}

func paramID(ctx router.Context) (int64, error) {
	raw := ctx.Param("id", "")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errorWith(ErrAccountNotFound, map[string]any{"id": raw})
	}
	return id, nil
}

func queryInt(ctx router.Context, key string) int {
	raw := ctx.Query(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
