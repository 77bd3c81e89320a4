package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/scivault/internal"
	"github.com/starford/scivault/internal/paperservice"
	pkgconfig "github.com/starford/scivault/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if _, err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg), internal.WithVersion(version))
}

// withStack runs fn against an engine whose logs go to stderr.
func withStack(cmd *cli.Command, fn func(*internal.Stack) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	stack, err := internal.NewStack(cfg, internal.NewLogger(cfg, os.Stderr), nil)
	if err != nil {
		return err
	}
	defer stack.Close()
	return fn(stack)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requireDOI(cmd *cli.Command) (string, error) {
	doi := cmd.Args().First()
	if doi == "" {
		return "", errors.New("a DOI argument is required")
	}
	return doi, nil
}

func versionsCmd(ctx context.Context, cmd *cli.Command) error {
	doi, err := requireDOI(cmd)
	if err != nil {
		return err
	}
	return withStack(cmd, func(st *internal.Stack) error {
		versions, err := st.Service.Versions(ctx, doi)
		if err != nil {
			return err
		}
		return printJSON(versions)
	})
}

func fetchCmd(ctx context.Context, cmd *cli.Command) error {
	doi, err := requireDOI(cmd)
	if err != nil {
		return err
	}
	return withStack(cmd, func(st *internal.Stack) error {
		a, err := st.Service.Download(ctx, doi, cmd.String("version"), cmd.String("title"))
		if err != nil {
			return err
		}
		out := cmd.String("output")
		if out == "" {
			out = a.Filename
		}
		if err := os.WriteFile(out, a.Data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
		return printJSON(map[string]any{
			"path":    out,
			"version": a.Version,
			"size":    len(a.Data),
			"sha256":  a.Checksum,
		})
	})
}

func latestCmd(ctx context.Context, cmd *cli.Command) error {
	return withStack(cmd, func(st *internal.Stack) error {
		papers, err := st.Service.Latest(ctx, int(cmd.Int("limit")))
		if err != nil {
			return err
		}
		return printJSON(papers)
	})
}

func main() {
	cmd := &cli.Command{
		Name:   "scivault",
		Usage:  "Discover, validate and reassemble PDFs published to a tag-queryable content store",
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
				Usage:  "Run the HTTP API",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools on stdio",
				Action: serveMCP,
			},
			{
				Name:      "versions",
				Usage:     "List the PDF versions stored for a DOI",
				ArgsUsage: "<doi>",
				Action:    versionsCmd,
			},
			{
				Name:      "fetch",
				Usage:     "Download and reassemble a paper's PDF",
				ArgsUsage: "<doi>",
				Action:    fetchCmd,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "version", Usage: "Storage format version (default newest)"},
					&cli.StringFlag{Name: "title", Usage: "Title used to derive the file name"},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output file"},
				},
			},
			{
				Name:   "latest",
				Usage:  "List the most recently published papers",
				Action: latestCmd,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: paperservice.DefaultLatestLimit, Usage: "Maximum number of papers"},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
