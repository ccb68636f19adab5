package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/v0xg/screenpilot/internal/config"
	"github.com/v0xg/screenpilot/internal/executor"
	"github.com/v0xg/screenpilot/internal/logging"
	"github.com/v0xg/screenpilot/internal/server"
	"github.com/v0xg/screenpilot/internal/task"
)

// Version is set at build time with -ldflags "-X main.Version=..."
var Version = "dev"

type cli struct {
	v       *viper.Viper
	cfgFile string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	// Load .env file if present (silently ignore if not found)
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "screenpilot",
		Short: "Drive a browser from a natural language task",
		Long: `screenpilot looks at the page, asks a vision model for the next few
actions, runs them in a real browser and repeats until the task is done.

Example:
  screenpilot run "open https://news.ycombinator.com and open the top story"`,
		Version:           Version,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&c.cfgFile, "config", "c", "", "config file (default is ./screenpilot.yaml)")
	pf.BoolVarP(&c.verbose, "verbose", "v", false, "Show detailed progress")
	pf.String("provider", "", "AI provider: claude, openai, gemini, ollama")
	pf.String("model", "", "Specific model override")
	pf.String("profile", "", "Chrome/Chromium profile directory for authenticated sessions (close browser first)")
	pf.Bool("headless", true, "Run the browser without a window")
	pf.Int("width", 1280, "Viewport width")
	pf.Int("height", 720, "Viewport height")
	c.bind(pf.Lookup("provider"), "model.provider")
	c.bind(pf.Lookup("model"), "model.name")
	c.bind(pf.Lookup("profile"), "browser.profile_dir")
	c.bind(pf.Lookup("headless"), "browser.headless")
	c.bind(pf.Lookup("width"), "browser.width")
	c.bind(pf.Lookup("height"), "browser.height")

	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	root.AddCommand(c.newRunCmd(), c.newServeCmd(), newVersionCmd())
	return root
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.v, c.cfgFile)
	if err != nil {
		return err
	}
	if c.verbose {
		cfg.Logger.Level = "debug"
	}
	logger, err := logging.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	c.cfg, c.logger = cfg, logger
	logger.Debug("configuration loaded",
		zap.String("command", cmd.Name()),
		zap.String("provider", cfg.Model.Provider),
		zap.Bool("headless", cfg.Browser.Headless))
	return nil
}

func (c *cli) newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <query>",
		Short: "Run one task to completion in the foreground",
		Args:  cobra.MinimumNArgs(1),
		RunE:  c.run,
	}
	f := cmd.Flags()
	f.Int("max-phases", 20, "Give up after this many observe/plan/act rounds")
	f.Bool("record", false, "Save the session as an animated GIF")
	f.StringP("output", "o", "session.gif", "Recording filename")
	f.Int("fps", 2, "Recording frames per second")
	f.String("screenshots", "", "Also write every screenshot to this directory")
	c.bind(f.Lookup("max-phases"), "task.max_phases")
	c.bind(f.Lookup("record"), "recording.enabled")
	c.bind(f.Lookup("output"), "recording.output")
	c.bind(f.Lookup("fps"), "recording.fps")
	c.bind(f.Lookup("screenshots"), "recording.screenshot_dir")
	return cmd
}

func (c *cli) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the task and extension API over HTTP",
		Args:  cobra.NoArgs,
		RunE:  c.serve,
	}
	cmd.Flags().String("addr", ":3000", "Listen address")
	c.bind(cmd.Flags().Lookup("addr"), "server.addr")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// config is not needed to print a version
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}

// bind lets a flag override a config key when it is set
func (c *cli) bind(flag *pflag.Flag, key string) {
	if err := c.v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag.Name, err))
	}
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "→ Preparing %s planner... ", c.cfg.Model.Provider)
	a, err := newApp(ctx, c.cfg, c.logger)
	if err != nil {
		fmt.Fprintln(out, "failed")
		return err
	}
	fmt.Fprintln(out, "done")
	defer func() {
		if err := a.browser.Close(); err != nil {
			c.logger.Warn("browser close failed", zap.Error(err))
		}
	}()

	fmt.Fprintf(out, "→ Running %q (up to %d phases)...\n", query, c.cfg.Task.MaxPhases)
	s := task.NewSession(uuid.NewString(), query)
	res := a.ctrl.Run(ctx, s)
	logActions(out, s.Recent(s.Len()))

	if res.Completed() {
		fmt.Fprintf(out, "✓ Task completed in %d phases (%d actions)\n", res.Phases, res.Actions)
	} else {
		fmt.Fprintf(out, "⚠ Task aborted after %d phases: %s\n", res.Phases, res.Reason)
	}

	if a.recorder != nil {
		fmt.Fprintf(out, "→ Generating GIF (%d frames)... ", a.recorder.Len())
		size, err := a.recorder.Save(c.cfg.Recording.Output)
		if err != nil {
			fmt.Fprintln(out, "failed")
			return fmt.Errorf("GIF generation failed: %w", err)
		}
		fmt.Fprintln(out, "done")
		if size > 0 {
			fmt.Fprintf(out, "✓ Saved to %s (%.1f MB)\n", c.cfg.Recording.Output, float64(size)/(1024*1024))
		}
	}

	if !res.Completed() {
		return fmt.Errorf("task aborted: %s", res.Reason)
	}
	return nil
}

func (c *cli) serve(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.cfg.Logger.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	a, err := newApp(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}

	srv := server.New(c.cfg, server.Deps{
		Tasks:    a.manager,
		Planner:  a.planner,
		Observer: a.observer,
		Browser:  a.browser,
		Gatherer: a.registry,
	}, c.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		err := a.manager.CloseTask()
		if errors.Is(err, task.ErrNoTask) {
			return nil
		}
		return err
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("server stopped", zap.Error(err))
		return err
	}
	c.logger.Info("server stopped")
	return nil
}

func logActions(out io.Writer, actions []executor.Action) {
	for i, action := range actions {
		marker := ""
		switch {
		case action.Completes:
			marker = " [done]"
		case action.PhaseEnds:
			marker = " [phase]"
		}
		fmt.Fprintf(out, "  [%d] %s%s\n", i+1, action, marker)
	}
}
