package disasm

import vm "github.com/ilreverse/vmdisasm"

// Options configures a Session, analogous to the host repo's
// SchemaExecOptions.
type Options struct {
	// MaxConcurrency bounds how many exports Session.RunAll analyzes at
	// once. 0 means unbounded (errgroup.Group with no SetLimit call).
	MaxConcurrency int

	// MaxAgendaIterations safeguards a single export's worklist against
	// a runaway fixed point, grounded on the host repo's
	// maxIterations := env.opts.MaxDepth * 1000 guard in
	// execute_schema.go.
	MaxAgendaIterations int

	// Logger receives every diagnostic the driver, processor, and
	// v-call dispatcher emit. Defaults to a no-op logger.
	Logger vm.Logger
}

// DefaultOptions returns the default configuration.
func DefaultOptions() Options {
	return Options{
		MaxConcurrency:      0,
		MaxAgendaIterations: 1_000_000,
		Logger:              vm.NewNoopLogger(),
	}
}

func (o Options) logger() vm.Logger {
	if o.Logger == nil {
		return vm.NewNoopLogger()
	}
	return o.Logger
}
