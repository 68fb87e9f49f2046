package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jward/xsynth"
	"github.com/jward/xsynth/internal/config"
	"github.com/jward/xsynth/internal/watch"
)

func main() {
	c := newCLI(os.Stdout, os.Stderr)
	if err := c.root().Execute(); err != nil {
		if !c.errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

// cli holds the state shared by all commands of one invocation.
type cli struct {
	v      *viper.Viper
	stdout io.Writer
	stderr io.Writer

	flagConfig  string
	flagFormat  string
	flagVerbose bool

	// errorHandled is set by outputError so main() doesn't double-print.
	errorHandled bool
}

func newCLI(stdout, stderr io.Writer) *cli {
	return &cli{v: config.New(), stdout: stdout, stderr: stderr}
}

func (c *cli) root() *cobra.Command {
	root := &cobra.Command{
		Use:           "xsynth",
		Short:         "Line-oriented source preprocessor",
		Long:          "xsynth expands #$define directives and $name$ markers in .xpy/.xjs sources into .py/.js files, tracking cross-file dependencies in SQLite.",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return validateFormat(c.flagFormat)
		},
	}
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&c.flagConfig, "config", "", "config file (default: ./xsynth.toml)")
	pf.String("db", "", "dependency database path (default: .xsynth.db)")
	pf.StringVar(&c.flagFormat, "format", "text", "output format: json|text")
	pf.BoolVarP(&c.flagVerbose, "verbose", "v", false, "log debug output to stderr")
	_ = c.v.BindPFlag("db", pf.Lookup("db"))

	root.AddCommand(c.synthCmd(), c.statusCmd(), c.watchCmd())
	return root
}

func (c *cli) synthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "synth [paths...]",
		Short: "Synthesize source files",
		Long:  "Discovers source files under the given paths (or the configured sources), orders them by their qualified references, and writes the generated files. Exits non-zero if any file failed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return c.outputError("synth", err)
			}
			force, _ := cmd.Flags().GetBool("force")

			engine, err := c.openEngine(cfg, xsynth.WithForce(force))
			if err != nil {
				return c.outputError("synth", err)
			}
			defer engine.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := engine.ProcessDirectory(ctx, sourcesOrArgs(cfg, args)...)
			if err != nil {
				return c.outputError("synth", err)
			}
			if err := c.outputReport("synth", report); err != nil {
				return err
			}
			if err := report.Err(); err != nil {
				c.errorHandled = true
				return err
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.Bool("force", false, "reprocess every file regardless of recorded state")
	f.Bool("no-incremental", false, "disable the staleness check")
	f.Bool("serial", false, "process files one at a time")
	f.Int("workers", 0, "worker pool size (0: one per CPU)")
	f.String("prelude", "", "Risor script returning extra built-in symbols")
	f.StringSlice("exclude", nil, "glob patterns to skip (repeatable)")
	f.Bool("read-only", false, "mark generated files read-only")
	_ = c.v.BindPFlag("workers", f.Lookup("workers"))
	_ = c.v.BindPFlag("prelude", f.Lookup("prelude"))
	_ = c.v.BindPFlag("exclude", f.Lookup("exclude"))
	_ = c.v.BindPFlag("read_only_output", f.Lookup("read-only"))
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List recorded files and the last run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return c.outputError("status", err)
			}
			engine, err := c.openEngine(cfg)
			if err != nil {
				return c.outputError("status", err)
			}
			defer engine.Close()

			status, err := loadStatus(cmd.Context(), engine.Store())
			if err != nil {
				return c.outputError("status", err)
			}
			return c.outputResult(CLIResult{Command: "status", Results: status})
		},
	}
}

func (c *cli) watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [paths...]",
		Short: "Re-synthesize sources as they change",
		Long:  "Runs a full synthesis, then watches the paths and re-synthesizes changed sources together with every file that references their modules.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return c.outputError("watch", err)
			}
			engine, err := c.openEngine(cfg)
			if err != nil {
				return c.outputError("watch", err)
			}
			defer engine.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			roots := sourcesOrArgs(cfg, args)
			report, err := engine.ProcessDirectory(ctx, roots...)
			if err != nil {
				return c.outputError("watch", err)
			}
			if err := c.outputReport("watch", report); err != nil {
				return err
			}

			w, err := watch.New(engine, engine.Store(),
				watch.WithDebounce(cfg.Watch.Debounce),
				watch.WithExclude(cfg.Exclude...),
				watch.WithLogger(c.logger()),
				watch.OnReport(func(r *xsynth.Report, err error) {
					if err != nil {
						_ = c.outputError("watch", err)
						return
					}
					if r != nil {
						_ = c.outputReport("watch", r)
					}
				}),
			)
			if err != nil {
				return c.outputError("watch", err)
			}
			defer w.Close()
			return w.Run(ctx, roots...)
		},
	}
	cmd.Flags().Duration("debounce", 0, "wait this long for changes to settle (default 200ms)")
	_ = c.v.BindPFlag("watch.debounce", cmd.Flags().Lookup("debounce"))
	return cmd
}

// loadConfig reads the config file and applies flags that invert
// config booleans.
func (c *cli) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if f := cmd.Flags().Lookup("no-incremental"); f != nil && f.Changed {
		c.v.Set("incremental", false)
	}
	if f := cmd.Flags().Lookup("serial"); f != nil && f.Changed {
		c.v.Set("parallel", false)
	}
	return config.Load(c.v, c.flagConfig)
}

func (c *cli) logger() *slog.Logger {
	level := slog.LevelWarn
	if c.flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(c.stderr, &slog.HandlerOptions{Level: level}))
}

// openEngine creates the database directory and an Engine configured
// from cfg.
func (c *cli) openEngine(cfg *config.Config, extra ...xsynth.Option) (*xsynth.Engine, error) {
	if dir := filepath.Dir(cfg.DB); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	opts := append(engineOptions(cfg, c.logger()), extra...)
	engine, err := xsynth.New(cfg.DB, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	return engine, nil
}

func engineOptions(cfg *config.Config, logger *slog.Logger) []xsynth.Option {
	opts := []xsynth.Option{
		xsynth.WithIncremental(cfg.Incremental),
		xsynth.WithParallel(cfg.Parallel),
		xsynth.WithWorkers(cfg.Workers),
		xsynth.WithExclude(cfg.Exclude...),
		xsynth.WithReadOnlyOutput(cfg.ReadOnlyOutput),
		xsynth.WithLogger(logger),
	}
	if cfg.Prelude != "" {
		opts = append(opts, xsynth.WithPrelude(cfg.Prelude))
	}
	if len(cfg.Extensions) > 0 {
		opts = append(opts, xsynth.WithExtensions(cfg.Extensions))
	}
	return opts
}

func sourcesOrArgs(cfg *config.Config, args []string) []string {
	if len(args) > 0 {
		return args
	}
	return cfg.Sources
}
