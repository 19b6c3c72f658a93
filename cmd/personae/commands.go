package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/MrWong99/personae/internal/config"
	"github.com/MrWong99/personae/internal/rag"
	"github.com/MrWong99/personae/pkg/memory"
)

func cmdServe() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API, the Discord bot and the MCP endpoint",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "watch-interval",
				Usage: "how often the config file is checked for changes; 0 disables reloading",
				Value: config.DefaultWatchInterval,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			rt, err := setup(ctx, c)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			slog.Info("personae starting",
				"version", version,
				"config", rt.path,
				"storage", rt.cfg.Storage.Backend,
				"listen_addr", rt.cfg.Server.ListenAddr,
			)

			if iv := c.Duration("watch-interval"); iv > 0 {
				w, err := config.NewWatcher(rt.path, func(old, new *config.Config) {
					rt.app.ApplyReload(config.Diff(old, new))
				}, config.WithInterval(iv))
				if err != nil {
					return err
				}
				defer w.Stop()
			}

			return rt.app.Run(ctx)
		},
	}
}

func cmdIngest() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Rebuild bio chunks and the core persona of characters",
		ArgsUsage: "[character-id...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "all",
				Aliases: []string{"a"},
				Usage:   "ingest every stored character",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			rt, err := setup(ctx, c)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			ids := c.Args().Slice()
			if c.Bool("all") {
				chars, err := rt.app.Characters().List(ctx, "")
				if err != nil {
					return err
				}
				for _, ch := range chars {
					ids = append(ids, ch.ID)
				}
			}
			if len(ids) == 0 {
				return fmt.Errorf("ingest: give at least one character ID or --all")
			}

			failed := 0
			for _, id := range ids {
				res, err := rt.app.Ingester().IngestCharacterBio(ctx, id)
				if err != nil {
					slog.Error("ingest failed", "character_id", id, "err", err)
					failed++
					continue
				}
				if !res.Success {
					failed++
				}
				if err := printJSON(map[string]any{"character_id": id, "result": res}); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("ingest: %d of %d characters failed", failed, len(ids))
			}
			return nil
		},
	}
}

func cmdPrune() *cli.Command {
	return &cli.Command{
		Name:      "prune",
		Usage:     "Remove old and low-importance memories of a character",
		ArgsUsage: "<character-id>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "max-memories",
				Usage: "per-character memory budget",
				Value: rag.DefaultMaxMemories,
			},
			&cli.IntFlag{
				Name:  "older-than-days",
				Usage: "age after which unimportant memories are removed",
				Value: rag.DefaultOlderThanDays,
			},
			&cli.StringFlag{
				Name:  "min-importance",
				Usage: "lowest importance tier protected from the budget (medium or high)",
				Value: string(memory.ImportanceMedium),
			},
			&cli.FloatFlag{
				Name:  "emotional-floor",
				Usage: "emotional weight that protects a memory from aging out",
				Value: rag.DefaultEmotionalFloor,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("prune: expected exactly one character ID")
			}
			rt, err := setup(ctx, c)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			res, err := rt.app.Retriever().PruneMemories(ctx, c.Args().First(), rag.PruneOptions{
				MaxMemories:    int(c.Int("max-memories")),
				OlderThanDays:  int(c.Int("older-than-days")),
				MinImportance:  memory.Importance(c.String("min-importance")),
				EmotionalFloor: c.Float("emotional-floor"),
			})
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

func cmdMCP() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the character tools over MCP on stdin/stdout",
		Action: func(ctx context.Context, c *cli.Command) error {
			rt, err := setup(ctx, c)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			slog.Info("mcp: serving on stdio", "version", version)
			return rt.app.MCP().ServeStdio(ctx)
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
