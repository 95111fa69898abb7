package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"Urban-Render/server/internal/config"
	"Urban-Render/server/internal/engine"
	"Urban-Render/server/internal/generators"
	"Urban-Render/server/internal/logging"
	"Urban-Render/server/internal/models"
	"Urban-Render/server/internal/storage"
)

type renderOptions struct {
	input       string
	output      string
	style       string
	granularity int
	pattern     string
	apiKey      string
}

func newRenderCommand() *cobra.Command {
	opts := renderOptions{}

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a single fabric map",
		Long: `Render one urban fabric map and write the result to a file.

Examples:
  urbanrender render --input map.png
  urbanrender render --input map.png --style planning-aerial --granularity 80 --pattern geometric --output out.png`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "Source fabric map image")
	cmd.Flags().StringVarP(&opts.output, "output", "o", engine.DownloadFilename, "Where to write the rendering")
	cmd.Flags().StringVar(&opts.style, "style", models.DefaultStyleID, "Rendering style id")
	cmd.Flags().IntVar(&opts.granularity, "granularity", models.DefaultGranularity, "Detail level from 0 to 100")
	cmd.Flags().StringVar(&opts.pattern, "pattern", models.DefaultPatternMode, "Pattern mode: natural, geometric, chaotic or abstract")
	cmd.Flags().StringVar(&opts.apiKey, "api-key", "", "API key, overrides the configured key")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

// runRender drives the same render service the HTTP API uses, backed by an
// in-memory session and a throwaway image directory.
func runRender(ctx context.Context, opts renderOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	source, err := os.ReadFile(opts.input)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	imageDir, err := os.MkdirTemp("", "urbanrender-*")
	if err != nil {
		return fmt.Errorf("failed to create image directory: %w", err)
	}
	defer os.RemoveAll(imageDir)

	images := generators.NewImageStore(imageDir, 4, time.Hour)
	if err := images.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize image store: %w", err)
	}

	renderer, err := generators.NewRenderer(cfg.AI, logger)
	if err != nil {
		return err
	}

	service := engine.NewRenderService(engine.Options{
		Renderer:       renderer,
		Sessions:       storage.NewMemoryStore(time.Hour),
		Images:         images,
		Logger:         logger,
		MaxUploadBytes: cfg.Render.MaxUploadBytes,
		HasServerKey:   cfg.AI.APIKey() != "",
	})

	state, err := service.CreateSession(ctx)
	if err != nil {
		return err
	}
	sessionID := state.SessionID

	if _, err := service.SetSource(ctx, sessionID, source, ""); err != nil {
		return fmt.Errorf("invalid input image: %w", err)
	}
	if _, err := service.UpdateParams(ctx, sessionID, engine.ParamsUpdate{
		Style:       &opts.style,
		Granularity: &opts.granularity,
		PatternMode: &opts.pattern,
	}); err != nil {
		return err
	}
	if opts.apiKey != "" {
		if _, err := service.ConnectKey(ctx, sessionID, opts.apiKey); err != nil {
			return err
		}
	}

	logger.Info("rendering",
		zap.String("input", opts.input),
		zap.String("style", opts.style),
		zap.Int("granularity", opts.granularity),
		zap.String("pattern", opts.pattern),
		zap.String("provider", renderer.Provider()),
	)

	if _, err := service.Generate(ctx, sessionID); err != nil {
		return err
	}

	data, _, err := service.Download(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.output, data, 0644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	fmt.Fprintf(os.Stdout, "Rendering saved to %s\n", opts.output)
	return nil
}
