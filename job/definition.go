package job

import "context"

// Definition is a typed job definition. T is the parameters type and must
// be JSON-serializable. Work returns an optional summary that is stored on
// the finished execution.
type Definition[T any] struct {
	// Name is the unique job name and the default worker name.
	Name string

	// Work processes one execution's decoded parameters.
	Work func(ctx context.Context, params T) (string, error)

	// Opts configures threads, retries, schedule and retention.
	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](name string, work func(ctx context.Context, params T) (string, error), opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Name: name,
		Work: work,
		Opts: DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
