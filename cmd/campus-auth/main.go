package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/uptrace/bun"

	auth "github.com/campusease/go-auth"
	"github.com/campusease/go-auth/activitymap"
	"github.com/campusease/go-auth/mailer"
	"github.com/campusease/go-auth/middleware/sessionware"
	"github.com/campusease/go-auth/persistence"
)

type App struct {
	config    *auth.EnvConfig
	bunDB     *bun.DB
	store     auth.CredentialStore
	tokens    *auth.TokenCodec
	notifier  auth.Notifier
	lifecycle *auth.LifecycleManager
	auther    *auth.Authenticator
	registry  *prometheus.Registry
	metrics   *auth.Metrics
	activity  auth.ActivitySink
	srv       *fiber.App
	logger    *glog.BaseLogger
}

func (a *App) GetLogger(name string) *glog.BaseLogger {
	return a.logger.GetLogger(name)
}

func main() {
	cfg, err := auth.LoadEnvConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(cfg.LogLevel),
		glog.WithName("app"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	if cfg.DebugDumps {
		fmt.Println("============")
		fmt.Println(print.MaybeSecureJSON(cfg))
		fmt.Println("============")
	}

	app := &App{
		config: cfg,
		logger: lgr,
	}

	ctx := context.Background()

	if err := WithPersistence(ctx, app); err != nil {
		lgr.Fatal("persistence setup failed", "error", err)
	}
	defer app.bunDB.Close()

	WithMetrics(app)

	if err := WithNotifier(app); err != nil {
		lgr.Fatal("notifier setup failed", "error", err)
	}

	WithLifecycle(app)
	WithHTTPServer(app)

	go func() {
		if err := app.srv.Listen(cfg.HTTPAddr); err != nil {
			lgr.Error("http server stopped", "error", err)
		}
	}()

	sig := WaitExitSignal()
	lgr.Info("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := app.srv.ShutdownWithContext(shutdownCtx); err != nil {
		lgr.Error("http shutdown", "error", err)
	}
}

func WithPersistence(ctx context.Context, app *App) error {
	db, err := persistence.Open(app.config.Database)
	if err != nil {
		return err
	}

	if err := persistence.Migrate(ctx, db, auth.GetMigrationsFS(), app.GetLogger("persistence")); err != nil {
		db.Close()
		return err
	}

	app.bunDB = db
	app.store = auth.NewBunStore(db)
	return nil
}

func WithMetrics(app *App) {
	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = auth.NewMetrics(app.registry)

	audit := app.GetLogger("audit")
	app.activity = auth.ActivitySinks{
		auth.NewLoggerActivitySink(app.GetLogger("activity"), app.config.DebugDumps),
		activitymap.NewSink(func(_ context.Context, record activitymap.Normalized) error {
			audit.Debug("audit record", "record", print.MaybeSecureJSON(record))
			return nil
		}),
	}
}

func WithNotifier(app *App) error {
	if app.config.SMTP.Host == "" {
		app.GetLogger("notifier").Warn("SMTP host not configured, notifications are only logged")
		app.notifier = auth.NewLogNotifier(app.GetLogger("notifier"))
		return nil
	}

	m, err := mailer.New(app.config.SMTP,
		mailer.WithLogger(app.GetLogger("mailer")),
	)
	if err != nil {
		return err
	}
	app.notifier = m
	return nil
}

func WithLifecycle(app *App) {
	if app.config.GetSigningKey() == "" {
		app.GetLogger("auth").Error("AUTH_SIGNING_KEY is empty, every token operation will fail")
	}

	app.tokens = auth.NewTokenCodecFromConfig(app.config,
		auth.WithTokenCodecLogger(app.GetLogger("tokens")),
	)

	app.lifecycle = auth.NewLifecycleManager(app.config, app.store, app.tokens, app.notifier,
		auth.WithLifecycleLogger(app.GetLogger("lifecycle")),
		auth.WithLifecycleActivitySink(app.activity),
		auth.WithLifecycleMetrics(app.metrics),
	)

	app.auther = auth.NewAuthenticator(app.config, app.store, app.tokens,
		auth.WithAuthenticatorLogger(app.GetLogger("authenticator")),
		auth.WithAuthenticatorActivitySink(app.activity),
		auth.WithAuthenticatorMetrics(app.metrics),
	)
}

func WithHTTPServer(app *App) {
	httpLogger := app.GetLogger("http")

	srv := fiber.New(fiber.Config{
		AppName:      "campus-auth",
		ErrorHandler: auth.NewErrorHandler(httpLogger),
	})
	srv.Use(recover.New())

	protected := sessionware.New(sessionware.Config{
		Validator:   app.auther,
		ContextKey:  app.config.GetContextKey(),
		TokenLookup: app.config.GetTokenLookup(),
		AuthScheme:  app.config.GetAuthScheme(),
	})

	optional := sessionware.New(sessionware.Config{
		Validator:   app.auther,
		ContextKey:  app.config.GetContextKey(),
		TokenLookup: app.config.GetTokenLookup(),
		AuthScheme:  app.config.GetAuthScheme(),
		Optional:    true,
	})

	auth.RegisterAuthRoutes(srv, protected,
		auth.WithControllerOptionalSession(optional),
		auth.WithControllerLifecycle(app.lifecycle),
		auth.WithControllerAuthenticator(app.auther),
		auth.WithControllerLogger(httpLogger),
		auth.WithControllerContextKey(app.config.GetContextKey()),
		auth.WithControllerDebug(app.config.DebugDumps),
	)

	srv.Get("/metrics", auth.MetricsHandler(app.registry))

	app.srv = srv
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
