package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"codestream/internal/app"
	"codestream/internal/config"
	"codestream/internal/logging"
)

type options struct {
	configFile string
	envFile    string
	logLevel   string
}

// newRootCommand builds the codestream command. Flags override the
// environment, which overrides defaults.
func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "codestream",
		Short: "Real-time collaborative code workspace server",
		Long: `Codestream serves shared coding rooms over WebSocket:

- Room membership with a grace period before empty rooms are reclaimed
- Last-write-wins shared files, cursors and chat with history
- WebRTC signaling relay between room members
- Code execution through a Judge0-compatible service`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&opts.configFile, "config", os.Getenv("CODESTREAM_CONFIG_FILE"), "Configuration file (JSON)")
	cmd.Flags().StringVar(&opts.envFile, "env-file", ".env", "Dotenv file loaded before reading the environment")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	return cmd
}

// loadConfig resolves file > environment > defaults. A missing dotenv file
// is not an error.
func loadConfig(opts *options) (*config.Config, error) {
	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", opts.envFile, err)
		}
	}

	cfg, err := config.LoadConfigWithPrecedence(opts.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format, nil); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
// The application runs until ctx is cancelled, then shuts down with a bounded grace.
func run(ctx context.Context, cfg *config.Config) error {
	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("application error: %w", err)
	}

	<-ctx.Done()
	logrus.WithField("component", "main").Info("Shutdown requested")

	// FUNCTIONAL DISCOVERY: Timeout context prevents hanging shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logrus.WithError(err).Fatal("codestream exited")
	}
}
