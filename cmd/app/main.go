package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/mnemo/internal"
)

var version = "dev"

func serve(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithConfigPath(expandedPath(configPath)),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

// openCore loads the configuration and wires the components for a one-shot
// command. Log output is limited to warnings unless the config asks for
// more detail.
func openCore(ctx context.Context, cmd *cli.Command, extra ...internal.Option) (*internal.Core, error) {
	configPath := cmd.String("config")
	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	level := cfg.App.LogLevel
	if level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	opts := append([]internal.Option{
		internal.WithConfig(cfg),
		internal.WithConfigPath(expandedPath(configPath)),
		internal.WithLogger(internal.NewLogger(level)),
	}, extra...)
	return internal.NewCore(ctx, opts...)
}

func main() {
	cmd := &cli.Command{
		Name:    "mnemo",
		Usage:   "Local digital memory for your shell and clipboard with literal, semantic and LLM-assisted recall",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: internal.DefaultConfigPath,
				Value:       internal.DefaultConfigPath,
				Sources:     cli.EnvVars("MNEMO_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API, the indexer and the background watchers",
				Action: serve,
			},
			captureCommand(),
			searchCommand(),
			askCommand(),
			cleanCommand(),
			privacyCommand(),
			settingsCommand(),
			statsCommand(),
			reindexCommand(),
			mcpCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
