// Command citysim runs the tile city simulation: a real-time server with an
// HTTP API, a headless batch simulator, and a snapshot inspector.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/talgya/tilecity/internal/config"
)

func main() {
	// A missing .env is normal.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: loading .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		slog.Error("citysim failed", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "citysim",
		Usage: "grow a tile city of houses, offices and roads",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file",
				Sources: cli.EnvVars("CITYSIM_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error (overrides the config file)",
			},
			&cli.Int64Flag{
				Name:  "seed",
				Usage: "random seed for a new city (0 picks one)",
			},
			&cli.IntFlag{
				Name:  "size",
				Usage: "grid side length for a new city",
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			simulateCommand(),
			inspectCommand(),
		},
	}
}

// loadConfig reads the config file, applies global flag overrides and sets
// up the default logger.
func loadConfig(cmd *cli.Command) (config.File, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return cfg, err
	}
	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}
	if cmd.IsSet("seed") {
		cfg.City.Seed = cmd.Int64("seed")
	}
	if cmd.IsSet("size") {
		cfg.City.Size = cmd.Int("size")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	level, _ := cfg.Log.SlogLevel()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))
	return cfg, nil
}
