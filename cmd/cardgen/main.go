package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/manash/cardgen/internal/batch"
	"github.com/manash/cardgen/internal/config"
	"github.com/manash/cardgen/internal/generator"
	"github.com/manash/cardgen/internal/image"
	"github.com/manash/cardgen/internal/keys"
	"github.com/manash/cardgen/internal/logging"
	"github.com/manash/cardgen/internal/metrics"
	"github.com/manash/cardgen/internal/poller"
	"github.com/manash/cardgen/internal/precheck"
	"github.com/manash/cardgen/internal/provider"
	"github.com/manash/cardgen/internal/provider/replicate"
	"github.com/manash/cardgen/internal/security"
	"github.com/manash/cardgen/internal/server"
	"github.com/manash/cardgen/internal/storage"
	"github.com/manash/cardgen/pkg/models"
)

var (
	version = "dev"
	commit  = "none"
)

const providerName = "replicate"

var apiKeyEnvVars = []string{"REPLICATE_API_KEY", "VITE_REPLICATE_API_KEY"}

var (
	flagAPIKey  string
	flagEnvFile string
)

// Pipeline is everything a command needs to produce cards.
type Pipeline struct {
	Cards server.CardGenerator
	Store *storage.Client
}

type App struct {
	Out         io.Writer
	Err         io.Writer
	In          io.Reader
	LoadConfig  func(envFile string) (*config.Config, error)
	NewKeyStore func() (*keys.Store, error)
	NewPipeline func(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Pipeline, error)
	NewStore    func(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*storage.Client, error)
	NewSaver    func() batch.Saver
	ReadSecret  func(in io.Reader, out io.Writer) (string, error)
}

func DefaultApp() *App {
	return &App{
		Out:         os.Stdout,
		Err:         os.Stderr,
		In:          os.Stdin,
		LoadConfig:  loadConfig,
		NewKeyStore: keys.NewStore,
		NewPipeline: buildPipeline,
		NewStore:    storage.New,
		NewSaver:    func() batch.Saver { return image.NewSaver() },
		ReadSecret:  readSecret,
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	app := DefaultApp()
	rootCmd := newRootCmd(app)
	return rootCmd.Execute()
}

func newRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cardgen",
		Short: "Turn photos into styled greeting cards",
		Long: `cardgen turns a portrait photo into a styled greeting card using an
image generation model hosted on Replicate.

Examples:
  cardgen generate --photo me.jpg --style newyear
  cardgen batch photos.txt --parallel 3 --output-dir cards
  cardgen serve`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flagAPIKey, "api-key", "", "Replicate API key (defaults to stored key, then REPLICATE_API_KEY)")
	cmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	cmd.SetOut(app.Out)
	cmd.SetErr(app.Err)

	cmd.AddCommand(
		newServeCmd(app),
		newGenerateCmd(app),
		newBatchCmd(app),
		newStylesCmd(app),
		newKeysCmd(app),
		newStorageCmd(app),
	)
	return cmd
}

// loadConfig reads envFile when it exists, then the environment.
func loadConfig(envFile string) (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return config.Load()
}

// setup loads configuration and the logger. With needKey the API key is
// resolved from the flag, the key store and the environment in that order.
func (app *App) setup(needKey bool) (*config.Config, zerolog.Logger, error) {
	cfg, err := app.LoadConfig(flagEnvFile)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log := logging.NewWithWriter(app.Err, cfg.Environment, cfg.LogLevel)

	if needKey {
		store, err := app.NewKeyStore()
		if err != nil {
			log.Warn().Err(err).Msg("key store unavailable")
			store = nil
		}
		key, source, err := store.Resolve(flagAPIKey, providerName, apiKeyEnvVars...)
		if err != nil {
			return nil, log, err
		}
		cfg.ReplicateAPIKey = key
		log.Debug().Str("source", source).Msg("using API key")
	}
	return cfg, log, nil
}

func loadStyles(cfg *config.Config) (*models.StyleCatalog, error) {
	if cfg.StylesFile == "" {
		return models.DefaultCatalog(), nil
	}
	f, err := os.Open(cfg.StylesFile)
	if err != nil {
		return nil, fmt.Errorf("open styles file: %w", err)
	}
	defer f.Close()

	catalog, err := models.LoadCatalog(f)
	if err != nil {
		return nil, fmt.Errorf("load styles from %s: %w", cfg.StylesFile, err)
	}
	return catalog, nil
}

// buildPipeline wires storage, references, precheck, the Replicate provider
// and the poller into a generator.
func buildPipeline(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Pipeline, error) {
	store, err := storage.New(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create image store: %w", err)
	}

	factory := provider.NewFactory()
	replicate.Register(factory)
	prov, err := factory.New(providerName, &provider.Config{
		APIKey:         cfg.ReplicateAPIKey,
		BaseURL:        cfg.ReplicateBaseURL,
		TimeoutSec:     int(cfg.ProviderTimeout / time.Second),
		Verbose:        cfg.Verbose,
		ResolveVersion: cfg.ResolveModelVersion,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	var refs generator.ReferenceResolver
	switch cfg.ReferenceMode {
	case config.ReferenceUpload:
		refs = generator.NewUploadResolver(os.DirFS(cfg.ReferenceDir), store.WithPrefix("references"))
	default:
		refs = generator.NewStaticResolver(cfg.ReferenceBaseURL, cfg.ReferenceURLs)
	}

	pollOpts := []poller.Option{
		poller.WithLogger(log),
		poller.WithObserver(func(attempts int, _ error) {
			metrics.RecordPoll(attempts)
		}),
	}
	if cfg.PollRetryTransient {
		pollOpts = append(pollOpts, poller.WithRetryTransient())
	}

	// PROMPT_TEMPLATE={prompt} sends style prompts unchanged
	template := cfg.PromptTemplate
	if template == "" {
		template = generator.DefaultPromptTemplate
	}

	gen, err := generator.New(generator.Deps{
		Store:      store,
		References: refs,
		Checker:    precheck.New(cfg.PrecheckTimeout, precheck.WithPolicy(security.NewPolicy(cfg)), precheck.WithLogger(log)),
		Submitter:  prov,
		Poller:     poller.New(prov, pollOpts...),
	}, generator.Options{
		ModelID:        cfg.Model,
		PollInterval:   cfg.PollInterval,
		MaxAttempts:    cfg.PollMaxAttempts,
		InlineFallback: cfg.InlineFallback,
		PromptTemplate: template,
	}, log)
	if err != nil {
		return nil, err
	}

	return &Pipeline{Cards: gen, Store: store}, nil
}

// readSecret prompts without echo on a terminal and reads one line otherwise.
func readSecret(in io.Reader, out io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(out, "API key: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read key: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read key: %w", err)
	}
	return strings.TrimSpace(line), nil
}
