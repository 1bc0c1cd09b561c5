package cli

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/roach88/prism/internal/config"
	"github.com/roach88/prism/internal/engine"
	"github.com/roach88/prism/internal/store"
	"github.com/roach88/prism/internal/telemetry"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Store selection. Flags override PRISM_* environment variables.
	Backend string
	DB      string
	Dir     string

	config   config.Config
	logger   *slog.Logger
	shutdown func(context.Context) error
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the prism CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "prism",
		Short: "prism - content-addressed projections",
		Long: `A content-addressed resource store with a declarative projection engine.

Resources are stored under the hash of their canonical bytes. Projection
definitions select, traverse and shape them into derived containers that
can be materialized back into the store as views.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.prepare(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return opts.close(cmd.Context())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "store backend (sqlite|fs|memory), overrides PRISM_BACKEND")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "SQLite database path, overrides PRISM_DB")
	cmd.PersistentFlags().StringVar(&opts.Dir, "dir", "", "filesystem store directory, overrides PRISM_DIR")

	cmd.AddCommand(NewPutCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewRefsCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewDefineCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewEmitCommand(opts))
	cmd.AddCommand(NewViewCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// prepare resolves configuration, logging and tracing for one invocation.
func (o *RootOptions) prepare(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if o.Backend != "" {
		cfg.Backend = o.Backend
	}
	if o.DB != "" {
		cfg.DBPath = o.DB
	}
	if o.Dir != "" {
		cfg.Dir = o.Dir
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	if o.Verbose {
		level = slog.LevelDebug
	}
	o.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	o.config = cfg

	shutdown, err := telemetry.Setup(cmd.Context(), cfg)
	if err != nil {
		o.logger.Warn("tracing disabled", "error", err)
	}
	o.shutdown = shutdown
	return nil
}

func (o *RootOptions) close(ctx context.Context) error {
	if o.shutdown == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return o.shutdown(ctx)
}

// Logger returns the invocation logger, or a discarding one before prepare.
func (o *RootOptions) Logger() *slog.Logger {
	if o.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.logger
}

// formatter builds the output formatter for a command.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// openStore opens the configured backend.
func (o *RootOptions) openStore() (*store.Store, error) {
	logOpt := store.WithLogger(o.Logger())
	switch o.config.Backend {
	case config.BackendMemory:
		return store.NewMemory(logOpt), nil
	case config.BackendFS:
		return store.OpenFSStore(o.config.Dir, logOpt)
	default:
		return store.OpenSQLiteStore(o.config.DBPath, logOpt)
	}
}

// newEngine configures an engine over st from the resolved configuration.
func (o *RootOptions) newEngine(st *store.Store) *engine.Engine {
	return engine.New(st,
		engine.WithLogger(o.Logger()),
		engine.WithMaxDepth(o.config.MaxDepth),
		engine.WithMaxNodes(o.config.MaxNodes),
		engine.WithConcurrency(o.config.Concurrency),
		engine.WithCacheSize(o.config.CacheSize),
		engine.WithTracer(otel.Tracer(telemetry.ServiceName)),
	)
}

// withStore opens the store, makes sure the meta-projection is defined, runs
// fn and closes the store. Defining the meta-projection again is a no-op.
func (o *RootOptions) withStore(ctx context.Context, fn func(st *store.Store) error) error {
	st, err := o.openStore()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			o.Logger().Error("error closing store", "error", cerr)
		}
	}()
	if _, err := o.newEngine(st).Bootstrap(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to define the meta-projection", err)
	}
	return fn(st)
}
