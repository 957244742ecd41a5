// Package cli implements the spatialcompare command tree.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/banshee-data/spatialcompare/internal/config"
	"github.com/banshee-data/spatialcompare/internal/gridstore"
	"github.com/banshee-data/spatialcompare/internal/monitoring"
	"github.com/banshee-data/spatialcompare/internal/version"
)

// RootOptions holds the global flags.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

// Context carries what PersistentPreRunE initialised to subcommands.
type Context struct {
	Config *config.RunConfig // nil when --config was not given
	Logger *zap.Logger
}

type contextKey struct{}

// FromCommand returns the Context installed on cmd.
func FromCommand(cmd *cobra.Command) *Context {
	if c, ok := cmd.Context().Value(contextKey{}).(*Context); ok {
		return c
	}
	return &Context{Logger: zap.NewNop()}
}

// NewRootCommand builds the root command with every subcommand attached.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "spatialcompare",
		Short: "Compare gridded model outputs across sources",
		Long: "spatialcompare reduces monthly water-year grids from several models to\n" +
			"annual totals, then derives cross-model mean, spread and per-category\n" +
			"comparison grids.",
		Version: version.String(),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return persistentPreRun(cmd, opts)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "run configuration file (.yaml or .json)")
	pf.StringVar(&opts.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&opts.LogFormat, "log-format", "", "log format (console, json)")

	cmd.AddCommand(
		newRunCmd(),
		newWeightsCmd(),
		newDBCmd(),
		newHistogramCmd(),
		newVersionCmd(),
	)
	return cmd
}

func persistentPreRun(cmd *cobra.Command, opts *RootOptions) error {
	c := &Context{}
	if opts.ConfigPath != "" {
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			return err
		}
		c.Config = cfg
	}

	level, format := opts.LogLevel, opts.LogFormat
	if c.Config != nil {
		if level == "" {
			level = c.Config.Log.GetLevel()
		}
		if format == "" {
			format = c.Config.Log.GetFormat()
		}
	}
	logger, err := monitoring.NewLogger(level, format)
	if err != nil {
		return err
	}
	monitoring.SetLogger(logger)
	c.Logger = logger

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, contextKey{}, c))
	return nil
}

// requireConfig returns the loaded configuration or an error naming the
// command that needs it.
func (c *Context) requireConfig(name string) (*config.RunConfig, error) {
	if c.Config == nil {
		return nil, fmt.Errorf("%s requires --config", name)
	}
	return c.Config, nil
}

// openStore opens the backend described by sc. The returned closer is
// never nil.
func openStore(sc config.StoreConfig) (gridstore.Store, func() error, error) {
	switch sc.GetKind() {
	case config.StoreSQLite:
		s, err := gridstore.OpenSQLite(sc.GetPath())
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return gridstore.NewFileStore(nil, sc.GetPath()), func() error { return nil }, nil
	}
}

// Execute runs the command tree.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}
