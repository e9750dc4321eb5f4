package engine

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/backoff"
	"github.com/coodoo-workhorse/workhorse-sub001/ext"
	mw "github.com/coodoo-workhorse/workhorse-sub001/middleware"
	"github.com/coodoo-workhorse/workhorse-sub001/store"
)

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the engine-wide configuration.
func WithConfig(cfg workhorse.Config) Option {
	return func(eng *Engine) { eng.cfg = cfg }
}

// WithStoreConfig selects the persistence backend opened at Start.
func WithStoreConfig(cfg store.Config) Option {
	return func(eng *Engine) { eng.storeCfg = cfg }
}

// WithRegistry sets the persistence registry used to open the store.
// The default registry only knows the memory backend.
func WithRegistry(r *store.Registry) Option {
	return func(eng *Engine) { eng.stores = r }
}

// WithStore makes the engine use s instead of opening one from the store
// configuration. The engine never closes a store passed this way.
func WithStore(s store.Store) Option {
	return func(eng *Engine) { eng.fixedStore = s }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.pendingExts = append(eng.pendingExts, e) }
}

// WithMiddleware adds middleware to the engine's chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithBackoff sets the retry backoff strategy for every job.
// If not set, each job retries after its own constant RetryDelay.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = b }
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// Both the metrics middleware and the observability extension use it.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}
