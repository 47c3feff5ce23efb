package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/manash/cardgen/internal/batch"
	"github.com/manash/cardgen/internal/display"
	"github.com/manash/cardgen/internal/image"
	"github.com/manash/cardgen/internal/server"
	"github.com/manash/cardgen/internal/storage"
)

var (
	flagPhoto  string
	flagStyle  string
	flagModel  string
	flagOutput string
	flagPrompt string
	flagShow   bool

	flagParallel    int
	flagOutputDir   string
	flagStopOnError bool
	flagDelayMs     int

	flagOlderThan time.Duration
)

const defaultStyle = "newyear"

func newServeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, app)
		},
	}
}

func runServe(_ *cobra.Command, app *App) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, log, err := app.setup(true)
	if err != nil {
		return err
	}
	styles, err := loadStyles(cfg)
	if err != nil {
		return err
	}
	p, err := app.NewPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}

	if p.Store != nil {
		go pruneLoop(ctx, p.Store, cfg.UploadTTL, log)
	}

	log.Info().
		Str("model", cfg.Model).
		Str("storage", cfg.StorageBackend).
		Str("references", cfg.ReferenceMode).
		Int("styles", styles.Len()).
		Msg("starting cardgen")

	return server.New(cfg, p.Cards, styles, p.Store, log).Run(ctx)
}

// pruneLoop removes expired uploads every ttl until ctx ends or the backend
// turns out not to support pruning.
func pruneLoop(ctx context.Context, store *storage.Client, ttl time.Duration, log zerolog.Logger) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Prune(ctx, ttl)
			if errors.Is(err, storage.ErrPruneUnsupported) {
				return
			}
			if err != nil {
				log.Warn().Err(err).Msg("prune uploads failed")
				continue
			}
			if n > 0 {
				log.Info().Int("removed", n).Msg("pruned expired uploads")
			}
		}
	}
}

func newGenerateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate one card from a photo",
		Example: `  cardgen generate --photo me.jpg
  cardgen generate --photo me.jpg --style travel -o paris.png`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGenerate(cmd, app)
		},
	}

	cmd.Flags().StringVarP(&flagPhoto, "photo", "p", "", "portrait photo to use (required)")
	cmd.Flags().StringVarP(&flagStyle, "style", "s", defaultStyle, "style preset ID (see 'cardgen styles')")
	cmd.Flags().StringVarP(&flagModel, "model", "m", "", "model ID, optionally owner/name:version (defaults to REPLICATE_MODEL)")
	cmd.Flags().StringVarP(&flagOutput, "output", "o", "", "output file (extension added from content when omitted)")
	cmd.Flags().StringVar(&flagPrompt, "prompt", "", "replace the style prompt")
	cmd.Flags().BoolVar(&flagShow, "show", false, "preview the card in the terminal (kitty graphics)")
	_ = cmd.MarkFlagRequired("photo")
	return cmd
}

func runGenerate(cmd *cobra.Command, app *App) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, log, err := app.setup(true)
	if err != nil {
		return err
	}
	if flagModel != "" {
		cfg.Model = flagModel
	}

	styles, err := loadStyles(cfg)
	if err != nil {
		return err
	}
	style, err := styles.Get(flagStyle)
	if err != nil {
		return fmt.Errorf("%w (available: %v)", err, styles.IDs())
	}
	if flagPrompt != "" {
		style.Prompt = flagPrompt
	}

	photo, err := image.LoadPhoto(flagPhoto, cfg.MaxUploadBytes)
	if err != nil {
		return err
	}

	p, err := app.NewPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}

	fmt.Fprintf(app.Out, "Generating %s card with %s...\n", style.Name, cfg.Model)
	start := time.Now()

	url, err := p.Cards.GenerateCard(ctx, photo, style)
	if err != nil {
		return err
	}

	output := flagOutput
	if output == "" {
		output = image.OutputPath("", style.ID, time.Now())
	}
	path, err := app.NewSaver().Save(ctx, url, output)
	if err != nil {
		return err
	}

	fmt.Fprintf(app.Out, "Result: %s\n", url)
	fmt.Fprintf(app.Out, "Saved: %s (%s)\n", path, time.Since(start).Round(time.Second))

	if flagShow {
		if !display.IsTerminalSupported() {
			log.Warn().Msg("terminal does not support inline images; skipping preview")
			return nil
		}
		if err := display.New(app.Out, display.DefaultColumns).ShowFile(path); err != nil {
			log.Warn().Err(err).Msg("preview failed")
		}
	}
	return nil
}

func newBatchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Generate cards for every photo listed in FILE",
		Long: `Generate cards for every photo listed in FILE.

FILE is either text with one "photo [style]" pair per line (# starts a
comment) or a JSON array of {"photo", "style", "output"} objects. Relative
photo paths are resolved against FILE's directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, args, app)
		},
	}

	cmd.Flags().IntVarP(&flagParallel, "parallel", "j", 1, "cards generated at once")
	cmd.Flags().StringVarP(&flagOutputDir, "output-dir", "d", ".", "directory for generated cards")
	cmd.Flags().StringVarP(&flagStyle, "style", "s", defaultStyle, "style for lines without one")
	cmd.Flags().BoolVar(&flagStopOnError, "stop-on-error", false, "stop at the first failed card")
	cmd.Flags().IntVar(&flagDelayMs, "delay", 0, "milliseconds between starting cards")
	return cmd
}

func runBatch(cmd *cobra.Command, args []string, app *App) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	items, err := batch.ParseFile(args[0])
	if err != nil {
		return err
	}
	if flagParallel < 1 {
		return fmt.Errorf("--parallel must be at least 1")
	}

	cfg, log, err := app.setup(true)
	if err != nil {
		return err
	}
	styles, err := loadStyles(cfg)
	if err != nil {
		return err
	}
	p, err := app.NewPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}

	fmt.Fprintf(app.Out, "Generating %d card(s) with %s...\n", len(items), cfg.Model)

	proc := batch.NewProcessor(p.Cards, app.NewSaver(), styles, app.Out, app.Err)
	results, err := proc.Process(ctx, items, &batch.Options{
		OutputDir:     flagOutputDir,
		DefaultStyle:  flagStyle,
		Parallel:      flagParallel,
		StopOnError:   flagStopOnError,
		DelayMs:       flagDelayMs,
		MaxPhotoBytes: cfg.MaxUploadBytes,
	})
	proc.PrintSummary(results)
	if err != nil {
		return err
	}

	var failed int
	for _, r := range results {
		if r.Error != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d cards failed", failed, len(results))
	}
	return nil
}

func newStylesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "styles",
		Short: "List style presets",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, _, err := app.setup(false)
			if err != nil {
				return err
			}
			styles, err := loadStyles(cfg)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(app.Out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tREFERENCE")
			for _, s := range styles.List() {
				ref := "-"
				if s.HasReference() {
					ref = "yes"
				}
				fmt.Fprintf(w, "%s\t%s %s\t%s\n", s.ID, s.Emoji, s.Name, ref)
			}
			return w.Flush()
		},
	}
}

func newStorageCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Manage uploaded images",
	}

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete uploads older than a duration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := app.setup(false)
			if err != nil {
				return err
			}
			olderThan := flagOlderThan
			if olderThan <= 0 {
				olderThan = cfg.UploadTTL
			}

			store, err := app.NewStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			n, err := store.Prune(cmd.Context(), olderThan)
			if err != nil {
				return fmt.Errorf("prune %s storage: %w", store.Backend(), err)
			}
			fmt.Fprintf(app.Out, "Removed %d upload(s) older than %s\n", n, olderThan)
			return nil
		},
	}
	prune.Flags().DurationVar(&flagOlderThan, "older-than", 0, "age threshold (defaults to UPLOAD_TTL)")

	cmd.AddCommand(prune)
	return cmd
}
