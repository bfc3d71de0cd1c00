package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/starford/othala/internal"
	"github.com/starford/othala/internal/index"
	"github.com/starford/othala/internal/mcpserver"
	"github.com/starford/othala/internal/storage"
	pkgconfig "github.com/starford/othala/pkg/config"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
)

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)

	cfg.Vault.Path, err = promptUntilValid(reader, cfg.Vault.Path,
		"Enter the path to the vault directory: ",
		"The provided path to the directory is not valid. Please try again.",
		isDir)
	if err != nil {
		return err
	}

	cfg.Rules.Path, err = promptUntilValid(reader, cfg.Rules.Path,
		"Enter the path to the rules file: ",
		"The provided path to the rules file is not valid. Please try again.",
		isFile)
	if err != nil {
		return err
	}

	return internal.Run(ctx, internal.WithConfig(cfg))
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Stdio carries the protocol here, so there is no interactive fallback.
	if cfg.Vault.Path == "" {
		return fmt.Errorf("vault path is required (--vault or OTHALA_VAULT)")
	}

	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	db, err := index.Open(cfg.Index.Path)
	if err != nil {
		return fmt.Errorf("init index: %w", err)
	}
	defer db.Close()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.App.LogLevel}))
	if err := index.Sync(db, store, logger); err != nil {
		return fmt.Errorf("sync index: %w", err)
	}

	return mcpserver.New(store, db).ServeStdio()
}

// loadConfig builds the configuration: defaults, then the optional config
// file, then flag overrides.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadIfPresent(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if v := cmd.String("vault"); v != "" {
		cfg.Vault.Path = v
	}
	if r := cmd.String("rules"); r != "" {
		cfg.Rules.Path = r
	}
	return cfg, nil
}

// promptUntilValid returns current when it already passes valid, otherwise
// re-prompts until the operator supplies a path that does.
func promptUntilValid(reader *bufio.Reader, current, prompt, complaint string, valid func(string) bool) (string, error) {
	if valid(current) {
		return current, nil
	}
	if current != "" {
		fmt.Println(complaint)
	}
	for {
		fmt.Print(prompt)
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("read input: %w", err)
		}
		line = strings.TrimSpace(line)
		if valid(line) {
			return line, nil
		}
		fmt.Println(complaint)
	}
}

func isDir(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isFile(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to config file",
		DefaultText: "config/config.yaml",
		Value:       "config/config.yaml",
		Sources:     cli.EnvVars("OTHALA_CONFIG_FILE"),
	}
}

func vaultFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "vault",
		Aliases: []string{"d"},
		Usage:   "Path to the Markdown vault directory",
		Sources: cli.EnvVars("OTHALA_VAULT"),
	}
}

func rulesFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "rules",
		Aliases: []string{"r"},
		Usage:   "Path to the rules YAML file",
		Sources: cli.EnvVars("OTHALA_RULES"),
	}
}

func main() {
	cmd := &cli.Command{
		Name:   "othala",
		Usage:  "Batch editor for frontmatter properties across a Markdown vault, with preview, confirmation, and backup",
		Action: run,
		Flags:  []cli.Flag{configFlag(), vaultFlag(), rulesFlag()},
		Commands: []*cli.Command{
			{
				Name:   "mcp",
				Usage:  "Serve read-only validation and preview tools over MCP stdio",
				Action: runMCP,
				Flags:  []cli.Flag{configFlag(), vaultFlag()},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
