package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quotaledger/quotaledger/internal/config"
	"github.com/quotaledger/quotaledger/internal/engine"
	"github.com/quotaledger/quotaledger/internal/errors"
	"github.com/quotaledger/quotaledger/internal/logging"
)

// loadConfig reads the configuration file. A missing file at the default
// location falls back to built-in defaults; an explicitly named one is an
// error. The loader is nil when defaults were used.
func loadConfig(cmd *cobra.Command) (*config.Config, *config.Loader, error) {
	loader := config.NewLoader(globalFlags.Config)
	cfg, err := loader.Load()
	if err != nil {
		var notFound *errors.ErrConfigNotFound
		explicit := cmd.Flags().Changed("config") || os.Getenv(config.EnvConfigPath) != ""
		if !errors.As(err, &notFound) || explicit {
			return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg, loader = config.Defaults(), nil
	}
	if globalFlags.DBPath != "" {
		cfg.Store.Path = globalFlags.DBPath
	}
	return cfg, loader, nil
}

// cliLogger writes to stderr so that --json output stays parseable.
func cliLogger() *logging.Logger {
	level := logging.LevelWarn
	if globalFlags.Verbose {
		level = logging.LevelDebug
	}
	return logging.NewLogger(logging.WithOutput(os.Stderr), logging.WithLevel(level))
}

// openEngine builds an engine for a one-shot command. Background
// reconciliation is never started; the caller must Close it.
func openEngine(ctx context.Context, cmd *cobra.Command) (*engine.Engine, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	e, err := engine.New(ctx, cfg, engine.WithLogger(cliLogger()))
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	return e, nil
}

// withEngine runs fn against a freshly opened engine and closes it afterwards.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *engine.Engine) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := openEngine(ctx, cmd)
	if err != nil {
		return err
	}
	runErr := fn(ctx, e)
	if err := e.Close(context.WithoutCancel(ctx)); err != nil && runErr == nil {
		return err
	}
	return runErr
}

// confirm asks a yes/no question on the command's streams.
func confirm(cmd *cobra.Command, prompt string) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N]: ", prompt)
	return readYes(cmd.InOrStdin())
}

func readYes(r io.Reader) bool {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// formatRemaining renders the unlimited sentinel readably.
func formatRemaining(v int64) string {
	if v < 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", v)
}
