package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/forPelevin/hlfeed/internal/config"
	"github.com/forPelevin/hlfeed/internal/logger"
)

// Version is stamped at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

func Main() {
	_ = godotenv.Load() // best-effort: load .env if present

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRoot()
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// state is filled by the root pre-run hook and shared by every subcommand.
type state struct {
	configPath string
	verbose    bool
	trace      bool

	cfg      config.Config
	log      *logger.Logger
	shutdown func(context.Context) error
}

func NewRoot() *cobra.Command {
	st := &state{}
	root := &cobra.Command{
		Use:           "hlfeed",
		Short:         "Cut highlight clips from a Plex library and serve personalized feeds",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return st.setup(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return st.teardown(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&st.configPath, "config", "", "Config file (default ~/.config/hlfeed/config.yaml, then ./config.yaml)")
	root.PersistentFlags().BoolVarP(&st.verbose, "verbose", "v", false, "Debug logging")
	root.PersistentFlags().BoolVar(&st.trace, "trace", false, "Print trace spans to stderr")

	root.AddCommand(
		initCmd(st),
		statusCmd(st),
		discoverCmd(st),
		scanCmd(st),
		processCmd(st),
		requeueCmd(st),
		reconcileCmd(st),
		workerCmd(st),
		libraryCmd(st),
		jobCmd(st),
		deactivateCmd(st),
		feedCmd(st),
		interactCmd(st),
		tasteCmd(st),
		profileCmd(st),
		versionCmd(),
	)
	return root
}

func (s *state) setup(ctx context.Context) error {
	path, err := config.ResolveConfigPath(s.configPath)
	if err != nil {
		return err
	}
	if s.cfg, err = config.Load(path); err != nil {
		return err
	}
	level := s.cfg.Logging.Level
	if s.verbose {
		level = "debug"
	}
	if s.log, err = logger.New(s.cfg.Logging.Mode, level); err != nil {
		return err
	}
	if path != "" {
		s.log.Debug("Config loaded", "path", path)
	}
	if s.trace {
		s.shutdown, err = startTracing()
		if err != nil {
			return fmt.Errorf("start tracing: %w", err)
		}
	}
	return nil
}

func (s *state) teardown(ctx context.Context) error {
	if s.log != nil {
		defer s.log.Sync()
	}
	if s.shutdown != nil {
		return s.shutdown(context.WithoutCancel(ctx))
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// Skip config loading.
		PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
		PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "hlfeed", Version)
		},
	}
}
