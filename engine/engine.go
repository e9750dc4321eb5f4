package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/backoff"
	"github.com/coodoo-workhorse/workhorse-sub001/buffer"
	"github.com/coodoo-workhorse/workhorse-sub001/cron"
	"github.com/coodoo-workhorse/workhorse-sub001/ext"
	"github.com/coodoo-workhorse/workhorse-sub001/id"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
	mw "github.com/coodoo-workhorse/workhorse-sub001/middleware"
	"github.com/coodoo-workhorse/workhorse-sub001/observability"
	"github.com/coodoo-workhorse/workhorse-sub001/queue"
	"github.com/coodoo-workhorse/workhorse-sub001/store"
	"github.com/coodoo-workhorse/workhorse-sub001/store/memory"
	"github.com/coodoo-workhorse/workhorse-sub001/worker"
	"github.com/coodoo-workhorse/workhorse-sub001/zombie"
)

const instrumentationName = "github.com/coodoo-workhorse/workhorse-sub001"

// Engine owns the store, buffer, worker pools, scheduler and sweeper and
// wires them together at Start.
type Engine struct {
	cfg        workhorse.Config
	storeCfg   store.Config
	stores     *store.Registry
	fixedStore store.Store
	logger     *slog.Logger

	extensions  *ext.Registry
	pendingExts []ext.Extension
	registry    *job.Registry
	mws         []mw.Middleware
	chain       []mw.Middleware
	bo          backoff.Strategy

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// lifeMu serializes Start, Stop and Restart against management calls.
	lifeMu sync.RWMutex
	rt     *runtime
}

// runtime is everything built by one Start and torn down by the next Stop.
type runtime struct {
	cfg       workhorse.Config
	store     store.Store
	ownsStore bool
	buffer    *buffer.Buffer
	limiter   *queue.Manager
	executor  *worker.Executor
	scheduler *cron.Scheduler
	sweeper   *zombie.Sweeper

	mu    sync.Mutex
	pools map[id.JobID]*worker.Pool

	stopCleanup chan struct{}
	wg          sync.WaitGroup
}

// New creates an Engine. It validates the configuration but opens nothing
// until Start.
func New(opts ...Option) (*Engine, error) {
	eng := &Engine{
		cfg:      workhorse.DefaultConfig(),
		registry: job.NewRegistry(),
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.logger == nil {
		eng.logger = slog.Default()
	}
	if eng.stores == nil {
		eng.stores = store.NewRegistry()
	}
	if err := validate(eng.cfg); err != nil {
		return nil, err
	}

	eng.extensions = ext.NewRegistry(eng.logger)
	for _, e := range eng.pendingExts {
		eng.extensions.Register(e)
	}
	eng.pendingExts = nil

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware and the observability extension.
	var metricsMw mw.Middleware
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		metricsMw = mw.Metrics()
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default stack: tracing → metrics → logging → user middleware → recover.
	eng.chain = append([]mw.Middleware{tracingMw, metricsMw, mw.Logging(eng.logger)}, eng.mws...)

	return eng, nil
}

func validate(cfg workhorse.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	_, err := zombie.ParseCure(cfg.ExecutionTimeoutStatus)
	return err
}

// Register registers a typed job definition with the engine. Jobs
// registered after Start are synced on the next Start or Restart.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// RegisterFunc registers a raw work function under name. A zero thread
// count means one thread.
func (eng *Engine) RegisterFunc(name string, work job.WorkFunc, opts job.Options) {
	if opts.Threads < 1 {
		opts.Threads = 1
	}
	eng.registry.Register(name, work, opts)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Logger returns the engine logger.
func (eng *Engine) Logger() *slog.Logger { return eng.logger }

// Config returns the active engine configuration.
func (eng *Engine) Config() workhorse.Config {
	eng.lifeMu.RLock()
	defer eng.lifeMu.RUnlock()
	return eng.cfg
}

// StoreConfig returns the active persistence configuration.
func (eng *Engine) StoreConfig() store.Config {
	eng.lifeMu.RLock()
	defer eng.lifeMu.RUnlock()
	return eng.storeCfg
}

// Running reports whether the engine is started.
func (eng *Engine) Running() bool {
	eng.lifeMu.RLock()
	defer eng.lifeMu.RUnlock()
	return eng.rt != nil
}

// Store returns the open store, or nil when the engine is stopped.
func (eng *Engine) Store() store.Store {
	eng.lifeMu.RLock()
	defer eng.lifeMu.RUnlock()
	if eng.rt == nil {
		return nil
	}
	return eng.rt.store
}

// Start opens the store and starts every subsystem. Starting a running
// engine is a no-op.
func (eng *Engine) Start(ctx context.Context) error {
	eng.lifeMu.Lock()
	defer eng.lifeMu.Unlock()
	return eng.start(ctx)
}

// Stop gracefully shuts the engine down. If ctx has no deadline the
// configured shutdown timeout bounds the drain of in-flight executions.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.lifeMu.Lock()
	defer eng.lifeMu.Unlock()
	if eng.rt == nil {
		return nil
	}
	eng.extensions.EmitShutdown(ctx)
	return eng.stop(ctx)
}

// Restart swaps the engine configuration and restarts every subsystem.
// The persistence configuration is kept.
func (eng *Engine) Restart(ctx context.Context, cfg workhorse.Config) error {
	return eng.Reconfigure(ctx, cfg, eng.StoreConfig())
}

// Reconfigure swaps both the engine and persistence configuration. Both
// are validated before anything is stopped; on a validation error the
// engine keeps running with its previous configuration.
func (eng *Engine) Reconfigure(ctx context.Context, cfg workhorse.Config, storeCfg store.Config) error {
	if err := validate(cfg); err != nil {
		return err
	}
	if storeCfg.Type != "" && !eng.knowsPersistence(storeCfg.Type) {
		return fmt.Errorf("%w: %q", workhorse.ErrUnknownPersistence, storeCfg.Type)
	}

	eng.lifeMu.Lock()
	defer eng.lifeMu.Unlock()

	eng.extensions.EmitRestartRequested(ctx, "configuration changed")
	eng.logger.Info("engine restarting")

	if eng.rt != nil {
		if err := eng.stop(ctx); err != nil {
			eng.logger.Warn("engine stop during restart", slog.String("error", err.Error()))
		}
	}
	eng.cfg = cfg
	eng.storeCfg = storeCfg
	return eng.start(ctx)
}

func (eng *Engine) knowsPersistence(typ string) bool {
	for _, t := range eng.stores.Types() {
		if t == typ {
			return true
		}
	}
	return false
}

// start must be called with lifeMu held.
func (eng *Engine) start(ctx context.Context) error {
	if eng.rt != nil {
		return nil
	}

	rt := &runtime{
		cfg:         eng.cfg,
		pools:       make(map[id.JobID]*worker.Pool),
		stopCleanup: make(chan struct{}),
		limiter:     queue.NewManager(),
	}

	// 1. Store.
	rt.store, rt.ownsStore = eng.openStore(ctx)

	jobs, err := eng.syncJobs(ctx, rt.store)
	if err != nil {
		eng.closeStore(rt)
		return fmt.Errorf("sync jobs: %w", err)
	}

	rt.sweeper, err = zombie.New(rt.store, rt.cfg, eng.extensions, eng.logger)
	if err != nil {
		eng.closeStore(rt)
		return err
	}

	// 2. Buffer.
	rt.buffer = buffer.New(rt.store, rt.cfg, buffer.WithLogger(eng.logger))
	if err := rt.buffer.Start(ctx); err != nil {
		eng.closeStore(rt)
		return fmt.Errorf("start buffer: %w", err)
	}

	execOpts := []worker.ExecutorOption{worker.WithMiddleware(eng.chain...)}
	if eng.bo != nil {
		execOpts = append(execOpts, worker.WithBackoff(eng.bo))
	}
	rt.executor = worker.NewExecutor(rt.store, rt.buffer, eng.registry, eng.extensions, eng.logger, execOpts...)
	rt.scheduler = cron.NewScheduler(func(ctx context.Context, j *job.Job, _ time.Time) error {
		_, err := eng.createExecution(ctx, rt, j, nil)
		return err
	}, eng.extensions, eng.logger)

	// 3. Dispatchers, then 4. schedules.
	var active []*job.Job
	for _, j := range jobs {
		if !j.IsActive() {
			continue
		}
		if err := eng.checkSchedule(ctx, rt, j); err != nil {
			continue
		}
		eng.startDispatch(ctx, rt, j)
		active = append(active, j)
	}
	for _, j := range active {
		if err := rt.scheduler.Start(j); err != nil {
			eng.logger.Error("schedule start failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	// Sweeper and retention cleanup.
	if err := rt.sweeper.Start(ctx); err != nil {
		eng.logger.Error("sweeper start failed", slog.String("error", err.Error()))
	}
	rt.wg.Add(1)
	go eng.cleanupLoop(rt)

	eng.rt = rt
	eng.logger.Info("engine started",
		slog.Int("jobs", len(jobs)),
		slog.Int("active", len(active)),
		slog.Bool("push", rt.buffer.PushCapable()),
	)
	return nil
}

// stop must be called with lifeMu held.
func (eng *Engine) stop(ctx context.Context) error {
	rt := eng.rt
	eng.rt = nil

	if _, ok := ctx.Deadline(); !ok && rt.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.cfg.ShutdownTimeout)
		defer cancel()
	}

	rt.scheduler.StopAll()
	if err := rt.sweeper.Stop(ctx); err != nil {
		eng.logger.Error("sweeper stop error", slog.String("error", err.Error()))
	}
	close(rt.stopCleanup)
	rt.wg.Wait()

	rt.mu.Lock()
	pools := make([]*worker.Pool, 0, len(rt.pools))
	for _, p := range rt.pools {
		pools = append(pools, p)
	}
	rt.pools = make(map[id.JobID]*worker.Pool)
	rt.mu.Unlock()

	var g errgroup.Group
	for _, p := range pools {
		g.Go(func() error { return p.Stop(ctx) })
	}
	drainErr := g.Wait()

	rt.buffer.Stop()
	eng.closeStore(rt)

	if drainErr != nil {
		eng.logger.Warn("engine stopped before all executions drained",
			slog.String("error", drainErr.Error()),
		)
		return drainErr
	}
	eng.logger.Info("engine stopped")
	return nil
}

// openStore opens the configured backend, falling back to the memory
// store when it cannot be opened.
func (eng *Engine) openStore(ctx context.Context) (store.Store, bool) {
	if eng.fixedStore != nil {
		return eng.fixedStore, false
	}
	s, err := eng.stores.Open(ctx, eng.storeCfg)
	if err != nil {
		eng.logger.Warn("store unavailable, falling back to memory store",
			slog.String("type", eng.storeCfg.Type),
			slog.String("error", err.Error()),
		)
		return memory.New(), true
	}
	return s, true
}

func (eng *Engine) closeStore(rt *runtime) {
	if !rt.ownsStore {
		return
	}
	if err := rt.store.Close(); err != nil {
		eng.logger.Warn("store close error", slog.String("error", err.Error()))
	}
}

// startDispatch starts the buffer queue and worker pool of j.
func (eng *Engine) startDispatch(ctx context.Context, rt *runtime, j *job.Job) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, ok := rt.pools[j.ID]; ok {
		return
	}

	jc := *j
	rt.buffer.Initialize(ctx, &jc)
	p := worker.NewPool(&jc, rt.buffer, rt.executor, eng.logger, worker.WithQueueManager(rt.limiter))
	if err := p.Start(ctx); err != nil {
		eng.logger.Error("worker pool start failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		rt.buffer.Cancel(j.ID)
		return
	}
	rt.pools[j.ID] = p
}

// stopJob stops the schedule, drains the pool and drops the buffer queue
// of jobID. Queued executions stay in the store.
func (eng *Engine) stopJob(ctx context.Context, rt *runtime, jobID id.JobID) error {
	rt.scheduler.Stop(jobID)

	rt.mu.Lock()
	p := rt.pools[jobID]
	delete(rt.pools, jobID)
	rt.mu.Unlock()

	var err error
	if p != nil {
		err = p.Stop(ctx)
	}
	rt.buffer.Cancel(jobID)
	rt.limiter.Remove(jobID)
	return err
}

// startJob starts dispatch and the schedule of an active job.
func (eng *Engine) startJob(ctx context.Context, rt *runtime, j *job.Job) error {
	if err := eng.checkSchedule(ctx, rt, j); err != nil {
		return err
	}
	eng.startDispatch(ctx, rt, j)
	return rt.scheduler.Start(j)
}

// checkSchedule marks j ERROR when its schedule does not parse.
func (eng *Engine) checkSchedule(ctx context.Context, rt *runtime, j *job.Job) error {
	if j.Schedule == "" {
		return nil
	}
	if _, err := cron.ParseSchedule(j.Schedule); err != nil {
		eng.logger.Error("job has an invalid schedule",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)
		j.Status = job.StatusError
		j.Touch()
		if uerr := rt.store.UpdateJob(ctx, j); uerr != nil {
			eng.logger.Error("failed to mark job as errored", slog.String("error", uerr.Error()))
		}
		return err
	}
	return nil
}

// current returns the running runtime. Callers must hold lifeMu.
func (eng *Engine) current() (*runtime, error) {
	if eng.rt == nil {
		return nil, workhorse.ErrEngineNotRunning
	}
	return eng.rt, nil
}

// syncJobs creates registered jobs that are missing from the store and
// flags stored jobs whose worker is not registered.
func (eng *Engine) syncJobs(ctx context.Context, s store.Store) ([]*job.Job, error) {
	for _, name := range eng.registry.Names() {
		_, err := s.GetJobByName(ctx, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, workhorse.ErrJobNotFound) {
			return nil, err
		}
		opts, _ := eng.registry.Options(name)
		j := job.New(name, opts)
		if err := j.Validate(); err != nil {
			return nil, err
		}
		if err := s.CreateJob(ctx, j); err != nil && !errors.Is(err, workhorse.ErrJobAlreadyExists) {
			return nil, err
		}
		eng.logger.Info("job created", slog.String("job_id", j.ID.String()), slog.String("job_name", name))
	}

	jobs, err := s.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		_, registered := eng.registry.Get(j.WorkerName())
		var next job.Status
		switch {
		case !registered && j.Status != job.StatusNoWorker:
			next = job.StatusNoWorker
		case registered && (j.Status == job.StatusNoWorker || j.Status == job.StatusError):
			next = job.StatusActive
		default:
			continue
		}
		eng.logger.Info("job status synced",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("from", string(j.Status)),
			slog.String("to", string(next)),
		)
		j.Status = next
		j.Touch()
		if err := s.UpdateJob(ctx, j); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}
