package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/nbrefactor/internal"
	"github.com/starford/nbrefactor/internal/models"
	"github.com/starford/nbrefactor/internal/refactor"
	pkgconfig "github.com/starford/nbrefactor/pkg/config"
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to config file",
		DefaultText: "config/config.yaml",
		Value:       "config/config.yaml",
		Sources:     cli.EnvVars("APP_CONFIG_FILE"),
	}
}

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
		return fmt.Errorf("mcp server error: %w", err)
	}

	return nil
}

var stageLabels = map[string]string{
	models.StageExtract:  "Extracting notebook",
	models.StageRefactor: "Refactoring code",
	models.StageReview:   "Reviewing refactored code",
	models.StageUI:       "Generating UI",
	models.StageUIReview: "Reviewing UI",
}

func refactorNotebook(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("usage: nbrefactor refactor <notebook.ipynb>")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " Starting"
	s.Start()

	progress := func(ev models.ProgressEvent) {
		if ev.Status != models.StageStarted {
			return
		}
		s.Lock()
		s.Suffix = " " + stageLabels[ev.Stage] + "..."
		s.Unlock()
	}

	in := refactor.Input{
		Options: models.Options{
			Review:     cmd.Bool("review"),
			GenerateUI: cmd.Bool("ui"),
			ReviewUI:   cmd.Bool("ui-review"),
		},
	}

	res, err := internal.RefactorFile(ctx, path, in, cmd.String("out"), progress,
		internal.WithConfig(cfg),
		internal.WithLogOutput(os.Stderr),
	)
	s.Stop()

	if res != nil && res.RefactoredCode != "" && cmd.String("out") == "" {
		fmt.Println(res.RefactoredCode)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, refactor.Message(err))
		return err
	}

	if out := cmd.String("out"); out != "" {
		for _, a := range res.Run.Artifacts {
			fmt.Fprintf(os.Stderr, "wrote %s/%s\n", out, a.Filename)
		}
	}
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:   "nbrefactor",
		Usage:  "Refactor Jupyter notebooks into structured Python modules with an LLM",
		Action: serve,
		Flags:  []cli.Flag{configFlag()},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the HTTP server, web UI and inbox watcher",
				Action: serve,
				Flags:  []cli.Flag{configFlag()},
			},
			{
				Name:   "mcp",
				Usage:  "Serve the MCP tools over stdio",
				Action: serveMCP,
				Flags:  []cli.Flag{configFlag()},
			},
			{
				Name:      "refactor",
				Usage:     "Refactor a single notebook",
				ArgsUsage: "<notebook.ipynb>",
				Action:    refactorNotebook,
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{Name: "review", Usage: "Review the refactored code"},
					&cli.BoolFlag{Name: "ui", Usage: "Generate a Streamlit UI"},
					&cli.BoolFlag{Name: "ui-review", Usage: "Review the generated UI (requires --ui)"},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Directory to copy the artifacts into"},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
