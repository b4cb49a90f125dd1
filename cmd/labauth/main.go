// Command labauth runs the maintenance tasks of the auth service:
// schema migrations, fixtures, password resets by an operator and the
// auth code delivery worker.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"github.com/uptrace/bun"

	auth "github.com/service-laboratory/lab-auth"
	"github.com/service-laboratory/lab-auth/activitymap"
	"github.com/service-laboratory/lab-auth/config"
	"github.com/service-laboratory/lab-auth/logging"
	"github.com/service-laboratory/lab-auth/mail"
	"github.com/service-laboratory/lab-auth/metrics"
	"github.com/service-laboratory/lab-auth/persistence"
	"github.com/service-laboratory/lab-auth/queue"
)

const usage = `usage: labauth <command> [flags]

commands:
  config        print the resolved settings
  migrate       apply pending migrations and seed the default roles
  rollback      roll back the last migration group
  load          load fixtures (bundled ones unless --file is given)
  clear         delete every user, role, permission and code
  set-password  set the password of a user (--email, --password)
  reset         email a password reset code to a user (--email)
  worker        deliver auth code emails from the queue
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	cfg    *config.Settings
	logger *logging.Logger
	out    io.Writer
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return goerrors.New("missing command", goerrors.CategoryBadInput)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	a := &app{
		cfg:    cfg,
		logger: logging.NewConsole(cfg.LogLevel),
		out:    out,
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "config":
		fmt.Fprintln(out, print.MaybePrettyJSON(cfg))
		return nil
	case "migrate":
		return a.withStore(ctx, a.migrate)
	case "rollback":
		return a.withStore(ctx, a.rollback)
	case "load":
		return a.load(ctx, rest)
	case "clear":
		return a.withDB(ctx, func(ctx context.Context, db *bun.DB) error {
			return auth.NewClearFixturesHandler(auth.NewRepositoryManager(db)).
				Execute(ctx, auth.ClearFixturesMessage{})
		})
	case "set-password":
		return a.setPassword(ctx, rest)
	case "reset":
		return a.startReset(ctx, rest)
	case "worker":
		return a.worker(ctx, rest)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	}

	fmt.Fprint(out, usage)
	return goerrors.New("unknown command", goerrors.CategoryBadInput).
		WithMetadata(map[string]any{"command": cmd})
}

func (a *app) withStore(ctx context.Context, fn func(ctx context.Context, store *persistence.Store) error) error {
	store, err := persistence.New(ctx, persistence.Config{
		DSN:   a.cfg.DatabaseURI,
		Debug: a.cfg.IsDebug,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(ctx, store)
}

func (a *app) withDB(ctx context.Context, fn func(ctx context.Context, db *bun.DB) error) error {
	return a.withStore(ctx, func(ctx context.Context, store *persistence.Store) error {
		return fn(ctx, store.DB())
	})
}

func (a *app) migrate(ctx context.Context, store *persistence.Store) error {
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	if report := store.Report(); report != "" {
		fmt.Fprintf(a.out, "migrated to %s\n", report)
	} else {
		fmt.Fprintln(a.out, "no new migrations")
	}

	seeded, err := store.SeedRoles(ctx)
	if err != nil {
		return err
	}
	if seeded {
		fmt.Fprintln(a.out, "seeded default roles")
	}
	return nil
}

func (a *app) rollback(ctx context.Context, store *persistence.Store) error {
	if err := store.Rollback(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "rolled back the last migration group")
	return nil
}

func (a *app) load(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("load", pflag.ContinueOnError)
	flags.SetOutput(a.out)
	file := flags.StringP("file", "f", "", "fixtures yaml file")
	password := flags.StringP("password", "p", auth.DefaultFixturePassword, "password of every fixture user")
	if err := flags.Parse(args); err != nil {
		return err
	}

	var (
		fixtures *auth.Fixtures
		err      error
	)
	if *file == "" {
		fixtures, err = auth.ReadFixtures(auth.GetFixturesFS(), auth.DefaultFixturesPath)
	} else {
		fixtures, err = auth.ReadFixtures(os.DirFS("."), *file)
	}
	if err != nil {
		return err
	}

	return a.withDB(ctx, func(ctx context.Context, db *bun.DB) error {
		err := auth.NewLoadFixturesHandler(auth.NewRepositoryManager(db)).
			WithLogger(a.logger).
			Execute(ctx, auth.LoadFixturesMessage{Fixtures: fixtures, Password: *password})
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "loaded %d users, %d roles, %d permissions\n",
			len(fixtures.Users), len(fixtures.Roles), len(fixtures.Permissions))
		return nil
	})
}

func (a *app) setPassword(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("set-password", pflag.ContinueOnError)
	flags.SetOutput(a.out)
	email := flags.StringP("email", "e", "", "user email")
	password := flags.StringP("password", "p", "", "new password")
	if err := flags.Parse(args); err != nil {
		return err
	}

	return a.withDB(ctx, func(ctx context.Context, db *bun.DB) error {
		service, err := a.service(db)
		if err != nil {
			return err
		}
		return auth.NewSetUserPasswordHandler(service).
			Execute(ctx, auth.SetUserPasswordMessage{Email: *email, Password: *password})
	})
}

func (a *app) startReset(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("reset", pflag.ContinueOnError)
	flags.SetOutput(a.out)
	email := flags.StringP("email", "e", "", "user email")
	if err := flags.Parse(args); err != nil {
		return err
	}

	emitter, client := queue.NewAuthCodeEmitter(a.cfg.RedisAddr, a.logger.Zerolog())
	defer client.Close()

	return a.withDB(ctx, func(ctx context.Context, db *bun.DB) error {
		service, err := a.service(db)
		if err != nil {
			return err
		}

		err = service.WithEventEmitter(emitter.WithLogger(a.logger)).
			StartResetPassword(ctx, *email)
		// the code is enqueued after commit
		emitter.Wait()
		if err != nil {
			return err
		}

		fmt.Fprintf(a.out, "reset code queued for %s\n", auth.NormalizeEmail(*email))
		return nil
	})
}

func (a *app) service(db *bun.DB) (*auth.AuthService, error) {
	counters, err := metrics.NewActivitySink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, err
	}

	sinks := auth.MultiActivitySink{
		counters,
		activitymap.NewLogSink(a.logger.Zerolog(), activitymap.WithActorFallback("labauth")),
	}

	return auth.NewAuthService(auth.NewRepositoryManager(db), a.cfg).
		WithLogger(a.logger).
		WithActivitySink(sinks).
		WithHashidIDs(a.cfg.UseHashid), nil
}

func (a *app) worker(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("worker", pflag.ContinueOnError)
	flags.SetOutput(a.out)
	concurrency := flags.IntP("concurrency", "c", 2, "parallel deliveries")
	if err := flags.Parse(args); err != nil {
		return err
	}

	sender := mail.NewSMTPSender(mail.SMTPConfig{
		Host:     a.cfg.EmailServerHost,
		Port:     a.cfg.EmailServerPort,
		Login:    a.cfg.EmailServerLogin,
		Password: a.cfg.EmailServerPassword,
	})
	notifier := mail.NewAuthCodeNotifier(sender, a.cfg.ResetPasswordURL).
		WithDebug(a.cfg.IsDebug).
		WithLogger(a.logger)

	w := queue.NewWorker(a.cfg.RedisAddr, *concurrency, notifier, a.logger.Zerolog())

	errc := make(chan error, 1)
	go func() { errc <- w.Run() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		a.logger.Info("shutting down worker")
		done := make(chan struct{})
		go func() {
			w.Shutdown()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(30 * time.Second):
			a.logger.Warn("worker shutdown timed out")
		}
		return nil
	}
}
