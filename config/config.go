// Package config loads the workhorse daemon configuration from YAML and
// watches the file for changes.
//
// A file maps onto the engine settings, the persistence settings, per-job
// overrides, the management server and logging:
//
//	engine:
//	  buffer_max: 500
//	  execution_timeout: 10m
//	store:
//	  type: postgres
//	  dsn: postgres://localhost/workhorse
//	  migrate: true
//	jobs:
//	  send-report:
//	    threads: 4
//	    schedule: "0 0 6 * * *"
//	server:
//	  addr: ":8080"
//	  api_keys:
//	    - token: secret
//	      subject: ops
//	      scopes: ["*"]
//	logging:
//	  level: info
//	  format: json
//
// Unknown keys are rejected.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
	"github.com/coodoo-workhorse/workhorse-sub001/store"
)

// File is the decoded configuration file.
type File struct {
	Engine  workhorse.Config       `yaml:"engine"`
	Store   store.Config           `yaml:"store"`
	Jobs    map[string]JobOverride `yaml:"jobs"`
	Server  Server                 `yaml:"server"`
	Logging Logging                `yaml:"logging"`
}

// JobOverride replaces the registered options of one job. Unset fields
// keep the registered value.
type JobOverride struct {
	Threads             *int           `yaml:"threads"`
	MaxPerMinute        *int           `yaml:"max_per_minute"`
	FailRetries         *int           `yaml:"fail_retries"`
	RetryDelay          *time.Duration `yaml:"retry_delay"`
	Schedule            *string        `yaml:"schedule"`
	UniqueQueued        *bool          `yaml:"unique_queued"`
	MinutesUntilCleanup *int           `yaml:"minutes_until_cleanup"`
	Inactive            *bool          `yaml:"inactive"`

	// Timeout puts a deadline on the work function's context. Zero means
	// none.
	Timeout time.Duration `yaml:"timeout"`
}

// Server configures the management wire protocol endpoint.
type Server struct {
	// Addr is the listen address. An empty address disables the server.
	Addr string `yaml:"addr"`

	// Path is the base path of the endpoints.
	Path string `yaml:"path"`

	// APIKeys lists the accepted tokens. With no keys every caller is
	// accepted with all scopes.
	APIKeys []APIKey `yaml:"api_keys"`
}

// APIKey maps a token to a subject and its scopes.
type APIKey struct {
	Token   string   `yaml:"token"`
	Subject string   `yaml:"subject"`
	Scopes  []string `yaml:"scopes"`
}

// Logging selects the log level and handler.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used for keys the file leaves out.
func Default() File {
	return File{
		Engine: workhorse.DefaultConfig(),
		Store:  store.Config{Type: store.TypeMemory},
		Server: Server{Addr: ":8080", Path: "/dwp"},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads and validates the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	f, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a YAML document on top of Default and validates it. An
// empty document yields the defaults.
func Parse(r io.Reader) (*File, error) {
	f := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks every section.
func (f *File) Validate() error {
	if err := f.Engine.Validate(); err != nil {
		return err
	}
	if f.Store.Type == "" {
		return fmt.Errorf("%w: store type is required", workhorse.ErrInvalidConfig)
	}
	for name, o := range f.Jobs {
		if o.Threads != nil && *o.Threads < 1 {
			return fmt.Errorf("%w: job %q: threads must be at least 1", workhorse.ErrInvalidConfig, name)
		}
		if o.MaxPerMinute != nil && *o.MaxPerMinute < 0 {
			return fmt.Errorf("%w: job %q: max per minute must not be negative", workhorse.ErrInvalidConfig, name)
		}
		if o.FailRetries != nil && *o.FailRetries < 0 {
			return fmt.Errorf("%w: job %q: fail retries must not be negative", workhorse.ErrInvalidConfig, name)
		}
		if o.Timeout < 0 {
			return fmt.Errorf("%w: job %q: timeout must not be negative", workhorse.ErrInvalidConfig, name)
		}
	}
	for i, k := range f.Server.APIKeys {
		if k.Token == "" {
			return fmt.Errorf("%w: api key #%d has no token", workhorse.ErrInvalidConfig, i+1)
		}
	}
	if _, err := f.Logging.level(); err != nil {
		return err
	}
	switch f.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("%w: unknown log format %q", workhorse.ErrInvalidConfig, f.Logging.Format)
	}
	return nil
}

// Apply overlays the override for name onto opts. It reports whether the
// file has an override for name.
func (f *File) Apply(name string, opts *job.Options) bool {
	o, ok := f.Jobs[name]
	if !ok {
		return false
	}
	if o.Threads != nil {
		opts.Threads = *o.Threads
	}
	if o.MaxPerMinute != nil {
		opts.MaxPerMinute = *o.MaxPerMinute
	}
	if o.FailRetries != nil {
		opts.FailRetries = *o.FailRetries
	}
	if o.RetryDelay != nil {
		opts.RetryDelay = *o.RetryDelay
	}
	if o.Schedule != nil {
		opts.Schedule = *o.Schedule
	}
	if o.UniqueQueued != nil {
		opts.UniqueQueued = *o.UniqueQueued
	}
	if o.MinutesUntilCleanup != nil {
		opts.MinutesUntilCleanup = *o.MinutesUntilCleanup
	}
	if o.Inactive != nil {
		opts.Inactive = *o.Inactive
	}
	return true
}

// ApplyJob overlays the override for j.Name onto a stored job. The status
// is left alone; activation goes through the engine.
func (f *File) ApplyJob(j *job.Job) bool {
	opts := job.Options{
		Threads:             j.Threads,
		MaxPerMinute:        j.MaxPerMinute,
		FailRetries:         j.FailRetries,
		RetryDelay:          j.RetryDelay,
		Schedule:            j.Schedule,
		UniqueQueued:        j.UniqueQueued,
		MinutesUntilCleanup: j.MinutesUntilCleanup,
	}
	if !f.Apply(j.Name, &opts) {
		return false
	}
	j.Threads = opts.Threads
	j.MaxPerMinute = opts.MaxPerMinute
	j.FailRetries = opts.FailRetries
	j.RetryDelay = opts.RetryDelay
	j.Schedule = opts.Schedule
	j.UniqueQueued = opts.UniqueQueued
	j.MinutesUntilCleanup = opts.MinutesUntilCleanup
	return true
}

// JobTimeout returns the work function deadline configured for name, zero
// when there is none.
func (f *File) JobTimeout(name string) time.Duration {
	return f.Jobs[name].Timeout
}

func (l Logging) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("%w: log level: %v", workhorse.ErrInvalidConfig, err)
	}
	return lvl, nil
}

// NewLogger builds the logger described by l, writing to w.
func (l Logging) NewLogger(w io.Writer) (*slog.Logger, error) {
	lvl, err := l.level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if l.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}
