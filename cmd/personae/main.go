// Command personae serves persistent roleplay characters over HTTP, Discord
// and MCP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/MrWong99/personae/internal/app"
	"github.com/MrWong99/personae/internal/config"
	"github.com/MrWong99/personae/internal/observe"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:    "personae",
		Usage:   "Persistent roleplay characters with memory",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration file",
				Value:   "config.yaml",
				Sources: cli.EnvVars("PERSONAE_CONFIG"),
			},
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "dotenv files loaded before the config is expanded",
				Value: []string{".env"},
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			return ctx, config.LoadEnv(c.StringSlice("env-file")...)
		},
		Commands: []*cli.Command{
			cmdServe(),
			cmdIngest(),
			cmdPrune(),
			cmdMCP(),
		},
	}

	if err := cmd.Run(ctx, args); err != nil {
		fmt.Fprintf(os.Stderr, "personae: %v\n", err)
		return 1
	}
	return 0
}

// runtime is what every command needs: the loaded config, a logger whose
// level can change on reload, and a wired App.
type runtime struct {
	path  string
	cfg   *config.Config
	level *slog.LevelVar
	app   *app.App
	tel   *observe.Telemetry
}

// setup loads the config, installs the default logger and wires the App.
// Logs go to stderr so the mcp command keeps stdout for the protocol.
func setup(ctx context.Context, c *cli.Command) (*runtime, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", path)
		}
		return nil, err
	}

	rt := &runtime{path: path, cfg: cfg, level: new(slog.LevelVar)}
	rt.level.Set(cfg.Server.LogLevel.Slog())
	slog.SetDefault(newLogger(cfg.Server.LogFormat, rt.level, os.Stderr))

	rt.tel, err = observe.Init(ctx, observe.TelemetryConfig{
		ServiceName:    "personae",
		ServiceVersion: version,
	})
	if err != nil {
		return nil, err
	}
	metrics, err := rt.tel.Metrics()
	if err != nil {
		_ = rt.tel.Shutdown(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	rt.app, err = app.New(ctx, cfg,
		app.WithMetrics(metrics),
		app.WithMetricsHandler(rt.tel.Handler()),
		app.WithLogLevel(rt.level),
		app.WithVersion(version),
	)
	if err != nil {
		_ = rt.tel.Shutdown(context.WithoutCancel(ctx))
		return nil, err
	}
	return rt, nil
}

// close shuts the App down within the configured timeout and flushes
// telemetry.
func (rt *runtime) close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rt.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := rt.app.Shutdown(shutdownCtx); err != nil {
		slog.Warn("app shutdown", "err", err)
	}
	if err := rt.tel.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown", "err", err)
	}
}
