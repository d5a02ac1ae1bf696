package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/harmonia/internal"
	pkgconfig "github.com/starford/harmonia/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.RunMCP(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("mcp run error: %w", err)
	}
	return nil
}

func clusters(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	q := internal.ClustersQuery{
		Charts: cmd.Args().Slice(),
		Focal:  splitList(cmd.String("focal")),
		Quorum: int(cmd.Int("quorum")),
		MaxOrb: cmd.Float("max-orb"),
	}
	if len(q.Charts) == 0 {
		return fmt.Errorf("at least one chart path is required")
	}
	for _, s := range splitList(cmd.String("harmonics")) {
		h, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("harmonic %q is not a number", s)
		}
		q.Harmonics = append(q.Harmonics, h)
	}
	if at := cmd.String("at"); at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return fmt.Errorf("--at: %w", err)
		}
		q.At = &t
	}
	return internal.RunClusters(ctx, q, internal.WithConfig(cfg))
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	cmd := &cli.Command{
		Name:   "harmonia",
		Usage:  "Harmonic astrology engine: cluster detection, aspect search and a cached event store",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API, SSE stream and file watcher",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the MCP tools over stdio",
				Action: serveMCP,
			},
			{
				Name:      "clusters",
				Usage:     "Print the cluster table of one or more charts",
				ArgsUsage: "CHART...",
				Action:    clusters,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "at", Usage: "RFC 3339 instant (defaults to the first chart's time)"},
					&cli.StringFlag{Name: "harmonics", Usage: "Comma separated harmonics; empty runs the full ladder"},
					&cli.StringFlag{Name: "focal", Usage: "Bodies every group must contain, e.g. Sun,1:Moon"},
					&cli.IntFlag{Name: "quorum", Usage: "Minimum group size"},
					&cli.FloatFlag{Name: "max-orb", Usage: "Largest spread in harmonic degrees"},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
