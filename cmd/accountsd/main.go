package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/activitymap"
	"github.com/goliatone/go-accounts/config"
	"github.com/goliatone/go-accounts/mailer"
	"github.com/goliatone/go-accounts/metrics"
	"github.com/goliatone/go-accounts/ratelimit"
)

type App struct {
	config   *config.Config
	db       *bun.DB
	repo     accounts.RepositoryManager
	srv      router.Server[*fiber.App]
	logger   *glog.BaseLogger
	registry *prometheus.Registry
	sink     accounts.ActivitySink
	notifier accounts.Notifier
	limiter  accounts.ResetLimiter
	redis    *redis.Client

	accounts *accounts.AccountService
	recovery *accounts.PasswordRecovery
	auther   *accounts.Auther
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config file] [approve|reject|enable|disable <id> [reason] | purge]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	lgr := glog.NewLogger(
		glog.WithLoggerType(cfg.Log.Format),
		glog.WithLevel(cfg.Log.LevelFor(cfg.Server.Debug)),
		glog.WithName("accounts"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)

	if cfg.Server.Debug {
		masked := *cfg
		masked.Auth.SigningKey = "***"
		masked.Admin.Password = "***"
		masked.SMTP.Password = "***"
		masked.Redis.Password = "***"
		fmt.Println(print.MaybePrettyJSON(masked))
	}

	app := &App{
		config:   cfg,
		logger:   lgr,
		registry: prometheus.NewRegistry(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if flag.NArg() > 0 {
		if err := runCommand(ctx, app, flag.Args()); err != nil {
			app.GetLogger("cli").Error("command failed", "error", err)
			_ = app.Close()
			os.Exit(1)
		}
		_ = app.Close()
		return
	}

	steps := []func(context.Context, *App) error{
		WithPersistence,
		WithTelemetry,
		WithNotifier,
		WithResetLimiter,
		WithServices,
		WithBootstrapAdmin,
		WithHTTPServer,
	}

	for _, step := range steps {
		if err := step(ctx, app); err != nil {
			app.GetLogger("app").Error("startup failed", "error", err)
			os.Exit(1)
		}
	}

	purger := accounts.NewActivityPurger(app.repo.Activity(), cfg.Accounts.ActivityRetention,
		accounts.WithPurgerLogger(app.GetLogger("purger")),
		accounts.WithPurgeInterval(cfg.Accounts.PurgeInterval),
	)
	go func() {
		if err := purger.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			app.GetLogger("purger").Error("purger stopped", "error", err)
		}
	}()

	metricsSrv := &http.Server{
		Addr:              cfg.Server.MetricsAddress,
		Handler:           metrics.Handler(app.registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.GetLogger("metrics").Error("metrics server stopped", "error", err)
		}
	}()

	app.srv.Serve(cfg.Server.Address)

	sig := WaitExitSignal()
	app.GetLogger("app").Info("shutting down", "signal", sig.String())

	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	_ = metricsSrv.Shutdown(shutdownCtx)

	_ = app.Close()
}

func (a *App) Close() error {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

var commandStatus = map[string]accounts.AccountStatus{
	"approve": accounts.AccountStatusApproved,
	"enable":  accounts.AccountStatusApproved,
	"reject":  accounts.AccountStatusRejected,
	"disable": accounts.AccountStatusDisabled,
}

// runCommand executes a single administrative command and returns
func runCommand(ctx context.Context, app *App, args []string) error {
	steps := []func(context.Context, *App) error{
		WithPersistence,
		WithTelemetry,
		WithNotifier,
		WithServices,
	}
	for _, step := range steps {
		if err := step(ctx, app); err != nil {
			return err
		}
	}

	logger := app.GetLogger("cli")

	if args[0] == "purge" {
		purger := accounts.NewActivityPurger(app.repo.Activity(), app.config.Accounts.ActivityRetention,
			accounts.WithPurgerLogger(logger),
		)
		return accounts.NewPurgeActivityHandler(purger).Execute(ctx, accounts.PurgeActivityMessage{
			OnResponse: func(removed int64) {
				logger.Info("activity purged", "removed", removed)
			},
		})
	}

	status, ok := commandStatus[args[0]]
	if !ok || len(args) < 2 {
		flag.Usage()
		return fmt.Errorf("unknown command %q", strings.Join(args, " "))
	}

	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid account id %q: %w", args[1], err)
	}

	handler := accounts.NewChangeAccountStatusHandler(app.accounts).WithLogger(logger)
	return handler.Execute(ctx, accounts.ChangeAccountStatusMessage{
		ID:     id,
		Status: status,
		Reason: strings.Join(args[2:], " "),
		OnResponse: func(res *accounts.TransitionResult) {
			logger.Info("account updated", "id", res.Account.ID, "username", res.Account.Username, "status", res.Account.Status)
		},
	})
}

func WithPersistence(ctx context.Context, app *App) error {
	cfg := app.config.Database

	var db *bun.DB
	switch cfg.Driver {
	case "postgres":
		sqldb, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return err
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DSN)
		if err != nil {
			return err
		}
		// sqlite serializes writers, one connection avoids SQLITE_BUSY
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	}

	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	if err := db.PingContext(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "database unreachable")
	}

	group, err := accounts.Migrate(ctx, db)
	if err != nil {
		return err
	}

	if group != nil && !group.IsZero() {
		app.GetLogger("persistence").Info("migrations applied", "group", group.String())
	}

	app.db = db
	app.repo = accounts.NewRepositoryManager(db)
	return app.repo.Validate()
}

func WithTelemetry(_ context.Context, app *App) error {
	collector := metrics.NewActivityCollector("accounts")
	if err := collector.Register(app.registry); err != nil {
		return err
	}

	logger := app.GetLogger("activity")
	app.sink = accounts.MultiActivitySink(
		collector,
		activitymap.Sink(func(_ context.Context, n activitymap.FeedRecord) error {
			logger.Debug("activity", "verb", n.Verb, "actor", n.ActorID, "object", n.ObjectID, "metadata", n.Metadata)
			return nil
		}, activitymap.WithDefaultChannel(app.config.Accounts.SiteName)),
	)
	return nil
}

func WithNotifier(_ context.Context, app *App) error {
	cfg := app.config.SMTP
	if !cfg.Enabled {
		app.notifier = mailer.NewConsoleNotifier(os.Stdout)
		return nil
	}

	n, err := mailer.NewSMTPNotifier(mailer.SMTPConfig{
		Host:       cfg.Host,
		Port:       cfg.Port,
		Username:   cfg.Username,
		Password:   cfg.Password,
		From:       cfg.From,
		FromName:   cfg.FromName,
		Encryption: cfg.Encryption,
	}, app.GetLogger("mailer"))
	if err != nil {
		return err
	}
	app.notifier = n
	return nil
}

func WithResetLimiter(ctx context.Context, app *App) error {
	cfg := app.config.Redis
	if !cfg.Enabled {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		app.GetLogger("ratelimit").Warn("redis unreachable, reset limiter fails open", "error", err)
	}

	limiterCfg := ratelimit.DefaultConfig()
	limiterCfg.MaxAttempts = cfg.MaxAttempts
	limiterCfg.Window = cfg.Window

	app.redis = client
	app.limiter = ratelimit.NewResetLimiter(client, limiterCfg)
	return nil
}

func WithServices(_ context.Context, app *App) error {
	composer := accounts.DefaultComposer{SiteName: app.config.Accounts.SiteName}

	app.accounts = accounts.NewAccountService(app.repo, app.config.Accounts.Service(),
		accounts.WithServiceLogger(app.GetLogger("accounts")),
		accounts.WithServiceNotifier(app.notifier),
		accounts.WithServiceActivitySink(app.sink),
		accounts.WithServiceComposer(composer),
	)

	recoveryOpts := []accounts.RecoveryOption{
		accounts.WithRecoveryLogger(app.GetLogger("recovery")),
		accounts.WithRecoveryNotifier(app.notifier),
		accounts.WithRecoveryActivitySink(app.sink),
		accounts.WithRecoveryComposer(composer),
	}
	if app.limiter != nil {
		recoveryOpts = append(recoveryOpts, accounts.WithRecoveryLimiter(app.limiter))
	}
	app.recovery = accounts.NewPasswordRecovery(app.repo, app.config.Accounts.Recovery(), recoveryOpts...)

	app.auther = accounts.NewAuthenticator(app.repo, app.config.Auth).
		WithLogger(app.GetLogger("auth")).
		WithActivitySink(app.sink)

	return nil
}

func WithBootstrapAdmin(ctx context.Context, app *App) error {
	cfg := app.config.Admin
	if cfg.Email == "" {
		return nil
	}

	admin, err := app.accounts.EnsureAdmin(ctx, cfg.Message())
	if err != nil {
		return err
	}

	app.GetLogger("app").Info("administrator ready", "id", admin.ID, "username", admin.Username)
	return nil
}

func WithHTTPServer(_ context.Context, app *App) error {
	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			EnablePrintRoutes: app.config.Server.Debug,
			StrictRouting:     false,
		}))
	})

	srv.Router().WithLogger(app.GetLogger("router"))

	controller := accounts.NewAccountController(app.accounts, app.recovery, app.auther,
		accounts.WithControllerLogger(app.GetLogger("http")),
		accounts.WithControllerDebug(app.config.Server.Debug),
		accounts.WithRevealAccountStatus(app.config.Auth.RevealAccountStatus),
	)

	accounts.RegisterAccountRoutes(srv.Router(), controller)

	app.srv = srv
	return nil
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
