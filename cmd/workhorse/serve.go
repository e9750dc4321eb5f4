package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/urfave/cli"

	audithook "github.com/coodoo-workhorse/workhorse-sub001/audit_hook"
	"github.com/coodoo-workhorse/workhorse-sub001/config"
	"github.com/coodoo-workhorse/workhorse-sub001/dwp"
	"github.com/coodoo-workhorse/workhorse-sub001/engine"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
	"github.com/coodoo-workhorse/workhorse-sub001/middleware"
	"github.com/coodoo-workhorse/workhorse-sub001/store"
	"github.com/coodoo-workhorse/workhorse-sub001/store/mongo"
	"github.com/coodoo-workhorse/workhorse-sub001/store/postgres"
	"github.com/coodoo-workhorse/workhorse-sub001/store/redis"
	"github.com/coodoo-workhorse/workhorse-sub001/store/sqlite"
	"github.com/coodoo-workhorse/workhorse-sub001/stream"
)

func serveCommand(stderr io.Writer) cli.Command {
	return cli.Command{
		Name:  "serve",
		Usage: "Run the engine and the management server",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:   "config, c",
				Usage:  "Path to the YAML configuration file",
				EnvVar: "WORKHORSE_CONFIG",
			},
			cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address, overriding server.addr",
			},
		},
		Action: func(ctx *cli.Context) error {
			file, err := loadFile(ctx.String("config"))
			if err != nil {
				return err
			}
			if addr := ctx.String("addr"); addr != "" {
				file.Server.Addr = addr
			}
			logger, err := file.Logging.NewLogger(stderr)
			if err != nil {
				return err
			}

			sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(sigCtx, ctx.String("config"), file, logger)
		},
	}
}

func loadFile(path string) (*config.File, error) {
	if path == "" {
		f := config.Default()
		return &f, nil
	}
	return config.Load(path)
}

// storeRegistry knows every backend this binary links.
func storeRegistry() *store.Registry {
	r := store.NewRegistry()
	r.Register(store.TypePostgres, postgres.Factory)
	r.Register(store.TypeSQLite, sqlite.Factory)
	r.Register(store.TypeRedis, redis.Factory)
	r.Register(store.TypeMongo, mongo.Factory)
	return r
}

// jobTimeouts serves the per-job work function deadlines of the most
// recently loaded file.
type jobTimeouts struct {
	file atomic.Pointer[config.File]
}

func newJobTimeouts(file *config.File) *jobTimeouts {
	t := &jobTimeouts{}
	t.file.Store(file)
	return t
}

func (t *jobTimeouts) set(file *config.File) { t.file.Store(file) }

func (t *jobTimeouts) lookup(j *job.Job) time.Duration {
	return t.file.Load().JobTimeout(j.Name)
}

// newEngine builds an engine from file with the stream broker and the
// audit log attached, and the built-in workers registered under the file's
// job overrides. Work function deadlines come from timeouts.
func newEngine(file *config.File, timeouts *jobTimeouts, logger *slog.Logger) (*engine.Engine, *stream.Broker, error) {
	broker := stream.NewBroker(logger)
	audit := audithook.New(audithook.LogRecorder(logger.With(slog.String("component", "audit"))),
		audithook.WithActions(
			audithook.ActionExecutionFailed,
			audithook.ActionExecutionRetrying,
			audithook.ActionExecutionTimedOut,
			audithook.ActionScheduleFired,
			audithook.ActionRestartRequested,
			audithook.ActionShutdown,
		),
		audithook.WithLogger(logger),
	)
	eng, err := engine.New(
		engine.WithConfig(file.Engine),
		engine.WithStoreConfig(file.Store),
		engine.WithRegistry(storeRegistry()),
		engine.WithLogger(logger),
		engine.WithExtension(broker),
		engine.WithExtension(audit),
		engine.WithMiddleware(middleware.TimeoutFunc(timeouts.lookup)),
	)
	if err != nil {
		return nil, nil, err
	}
	for name, work := range builtinWorkers {
		opts := job.DefaultOptions()
		file.Apply(name, &opts)
		eng.RegisterFunc(name, work, opts)
	}
	return eng, broker, nil
}

// applyOverrides pushes the file's job overrides onto the stored jobs.
// Jobs registered before an override was added keep their stored settings
// until this runs.
func applyOverrides(ctx context.Context, eng *engine.Engine, file *config.File, logger *slog.Logger) {
	jobs, err := eng.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		logger.Error("list jobs for overrides", slog.String("error", err.Error()))
		return
	}
	for _, j := range jobs {
		if !file.ApplyJob(j) {
			continue
		}
		if _, err := eng.UpdateJob(ctx, j); err != nil {
			logger.Error("apply job override",
				slog.String("job", j.Name),
				slog.String("error", err.Error()),
			)
		}
	}
}

func authenticator(s config.Server) dwp.Authenticator {
	if len(s.APIKeys) == 0 {
		return &dwp.NoopAuthenticator{}
	}
	entries := make([]dwp.APIKeyEntry, 0, len(s.APIKeys))
	for _, k := range s.APIKeys {
		entries = append(entries, dwp.APIKeyEntry{
			Token:    k.Token,
			Identity: dwp.Identity{Subject: k.Subject, Scopes: k.Scopes},
		})
	}
	return dwp.NewAPIKeyAuthenticator(entries...)
}

func serve(ctx context.Context, configPath string, file *config.File, logger *slog.Logger) error {
	timeouts := newJobTimeouts(file)
	eng, broker, err := newEngine(file, timeouts, logger)
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	applyOverrides(ctx, eng, file, logger)

	if len(file.Server.APIKeys) == 0 {
		logger.Warn("no api keys configured, the management server accepts any token")
	}
	srv := dwp.NewServer(broker, dwp.NewHandler(eng, broker, logger),
		dwp.WithAuth(authenticator(file.Server)),
		dwp.WithPath(file.Server.Path),
		dwp.WithLogger(logger),
	)
	httpServer := &http.Server{
		Addr:              file.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("management server listening", slog.String("addr", file.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	notify(logger, daemon.SdNotifyReady)

	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, func(next *config.File) {
				notify(logger, daemon.SdNotifyReloading)
				defer notify(logger, daemon.SdNotifyReady)

				if err := eng.Reconfigure(ctx, next.Engine, next.Store); err != nil {
					logger.Error("reconfigure", slog.String("error", err.Error()))
					return
				}
				applyOverrides(ctx, eng, next, logger)
				timeouts.set(next)
				logger.Info("configuration reloaded; server settings apply on the next start")
			}, config.WithWatchLogger(logger))
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("config watch stopped", slog.String("error", err.Error()))
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("management server: %w", err)
		}
	}

	notify(logger, daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), file.Engine.ShutdownTimeout+5*time.Second)
	defer cancel()

	srv.Shutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.String("error", err.Error()))
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("stop engine: %w", err))
	}
	return runErr
}

// notify reports state to systemd. Outside a notify-type unit it is a no-op.
func notify(logger *slog.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		logger.Debug("sd_notify", slog.String("state", state), slog.String("error", err.Error()))
	}
}
