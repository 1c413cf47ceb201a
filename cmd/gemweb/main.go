package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mzahmed/gemweb/internal/artifact"
	"github.com/mzahmed/gemweb/internal/config"
	"github.com/mzahmed/gemweb/internal/cookies"
	"github.com/mzahmed/gemweb/internal/display"
	"github.com/mzahmed/gemweb/internal/gemini"
	"github.com/mzahmed/gemweb/internal/history"
	"github.com/mzahmed/gemweb/internal/logging"
	"github.com/mzahmed/gemweb/internal/security"
	"github.com/mzahmed/gemweb/pkg/models"
)

var (
	version = "dev"
	commit  = "none"
)

var (
	flagFiles        []string
	flagYoutube      string
	flagGenerateImg  string
	flagEdit         string
	flagOutput       string
	flagAspect       string
	flagShowThoughts bool
	flagModel        string
	flagJSON         bool
	flagTimeout      int
	flagProxy        string
	flagConfig       string
	flagVerbose      bool
	flagPreview      bool
)

// App carries the seams the commands run through, so tests can swap the
// network edge out.
type App struct {
	Out    io.Writer
	Err    io.Writer
	GetEnv func(string) string
	Log    zerolog.Logger

	Bootstrap func(ctx context.Context, log zerolog.Logger, opts gemini.Options) (*gemini.Session, error)
}

func DefaultApp() *App {
	return &App{
		Out:    os.Stdout,
		Err:    os.Stderr,
		GetEnv: os.Getenv,
		Bootstrap: func(ctx context.Context, log zerolog.Logger, opts gemini.Options) (*gemini.Session, error) {
			return gemini.NewBootstrapper(log).Bootstrap(ctx, opts)
		},
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	app := DefaultApp()
	return newRootCmd(app).Execute()
}

func newRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gemweb [prompt]",
		Short: "Query the Gemini web endpoint using browser cookies",
		Long: `gemweb talks to the Gemini web frontend the way a logged-in browser tab
does: no API key, just session cookies.

Examples:
  gemweb "Explain quantum computing"
  gemweb "Summarize this video" --file video.mp4
  gemweb "What are the key points?" --youtube "https://youtube.com/watch?v=..."
  gemweb "A sunset over mountains" --generate-image sunset.png
  gemweb "Make the sky purple" --edit photo.jpg --output edited.png
  gemweb "Solve step by step: what is 15% of 240?" --show-thoughts

Cookies come from (highest to lowest precedence) GEMWEB_COOKIES_JSON,
GEMWEB_1PSID/GEMWEB_1PSIDTS, the config file, and 'gemweb cookies set'.`,
		Args:    cobra.MinimumNArgs(1),
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args, app)
		},
	}

	cmd.Flags().StringArrayVarP(&flagFiles, "file", "f", nil, "input file (repeatable; mp4, pdf, png, jpg, ...)")
	cmd.Flags().StringVar(&flagYoutube, "youtube", "", "YouTube video URL to analyze")
	cmd.Flags().StringVar(&flagGenerateImg, "generate-image", "", "generate an image and save to FILE")
	cmd.Flags().StringVar(&flagEdit, "edit", "", "edit an existing image (use with --output)")
	cmd.Flags().StringVarP(&flagOutput, "output", "o", "", "output file path for image editing")
	cmd.Flags().StringVar(&flagAspect, "aspect", "", "aspect ratio for image generation (16:9, 1:1, 4:3, 3:4)")
	cmd.Flags().BoolVar(&flagShowThoughts, "show-thoughts", false, "display the model's thinking process")
	cmd.Flags().StringVarP(&flagModel, "model", "m", models.DefaultModel,
		fmt.Sprintf("model to use (known: %s)", strings.Join(models.ModelNames(), ", ")))
	cmd.Flags().BoolVar(&flagJSON, "json", false, "output response as JSON")
	cmd.Flags().IntVar(&flagTimeout, "timeout", 0, "request timeout in seconds (default 120)")
	cmd.Flags().StringVar(&flagProxy, "proxy", "", "proxy URL for all requests")
	cmd.Flags().StringVar(&flagConfig, "config", "", "config file path")
	cmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	cmd.Flags().BoolVar(&flagPreview, "preview", false, "preview the saved image inline (kitty terminals)")

	cmd.AddCommand(newCookiesCmd(app))
	cmd.AddCommand(newHistoryCmd(app))

	return cmd
}

func runQuery(_ *cobra.Command, args []string, app *App) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app.Log = logging.New(app.Err, flagVerbose)

	req, outputPath, err := buildRequest(args)
	if err != nil {
		return err
	}

	opts, err := sessionOptions(app)
	if err != nil {
		return err
	}

	app.Log.Info().Str("model", req.Model).Msg("initializing session")
	sess, err := app.Bootstrap(ctx, app.Log, opts)
	if err != nil {
		return err
	}
	defer sess.Close()

	dispatcher := gemini.NewDispatcher(sess, app.Log)

	app.Log.Info().Str("model", req.Model).Msg("querying")
	env, err := dispatcher.Dispatch(ctx, req)
	if err != nil {
		return gemini.Classify(err, dispatcher.LastRawBody())
	}

	if req.WantImage {
		return finishImage(ctx, app, sess, dispatcher, req, env, outputPath)
	}
	return finishText(ctx, app, req, env)
}

// buildRequest folds the flag surface into one immutable request plus the
// image output path, applying the prompt-shaping rules.
func buildRequest(args []string) (*models.Request, string, error) {
	prompt := strings.Join(args, " ")

	wantImage := flagGenerateImg != "" || flagEdit != ""
	if flagAspect != "" && wantImage {
		prompt = fmt.Sprintf("%s (aspect ratio: %s)", prompt, flagAspect)
	}
	if flagYoutube != "" {
		prompt = fmt.Sprintf("%s\n\nYouTube video: %s", prompt, flagYoutube)
	}
	if flagGenerateImg != "" && flagEdit == "" {
		prompt = "Generate an image: " + prompt
	}

	for _, f := range flagFiles {
		if _, err := os.Stat(f); err != nil {
			return nil, "", fmt.Errorf("file not found: %s", f)
		}
	}
	if flagEdit != "" {
		if _, err := os.Stat(flagEdit); err != nil {
			return nil, "", fmt.Errorf("image not found: %s", flagEdit)
		}
	}

	req := models.NewRequest(prompt)
	req.Model = flagModel
	req.Files = flagFiles
	req.EditImage = flagEdit
	req.WantImage = wantImage
	if err := req.Validate(); err != nil {
		return nil, "", err
	}

	outputPath := ""
	if wantImage {
		outputPath = flagGenerateImg
		if outputPath == "" {
			outputPath = flagOutput
		}
		if outputPath == "" {
			outputPath = "generated.png"
		}
		if err := security.ValidateOutputPath(outputPath); err != nil {
			return nil, "", fmt.Errorf("invalid output path %q: %w", outputPath, err)
		}
	}
	return req, outputPath, nil
}

// sessionOptions assembles bootstrap options from config file, stored
// cookies, env, and flags.
func sessionOptions(app *App) (gemini.Options, error) {
	path := flagConfig
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return gemini.Options{}, err
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return gemini.Options{}, err
	}

	// Stored cookies fill keys the config file did not set.
	if store, err := cookies.NewStore(); err == nil {
		if stored, err := store.All(); err == nil {
			if cfg.Cookies == nil {
				cfg.Cookies = make(map[string]string, len(stored))
			}
			for k, v := range stored {
				if _, ok := cfg.Cookies[k]; !ok {
					cfg.Cookies[k] = v
				}
			}
		}
	}

	if err := cfg.ApplyEnv(app.GetEnv); err != nil {
		return gemini.Options{}, err
	}

	if flagTimeout > 0 {
		cfg.TimeoutSec = flagTimeout
	}
	if flagProxy != "" {
		cfg.Proxy = flagProxy
	}
	return cfg.Options(), nil
}

func finishText(ctx context.Context, app *App, req *models.Request, env *models.Envelope) error {
	if flagJSON {
		thoughts := ""
		if flagShowThoughts {
			thoughts = env.Thoughts
		}
		if err := renderJSON(app.Out, env.Text, thoughts, len(env.Images)); err != nil {
			return err
		}
	} else {
		if flagShowThoughts && env.Thoughts != "" {
			fmt.Fprintln(app.Out, "=== Thinking ===")
			fmt.Fprintln(app.Out, env.Thoughts)
			fmt.Fprintln(app.Out)
			fmt.Fprintln(app.Out, "=== Response ===")
		}
		if env.Text != "" {
			fmt.Fprintln(app.Out, env.Text)
		} else {
			fmt.Fprintln(app.Out, artifact.EmptyResponseMarker)
		}
	}

	recordHistory(ctx, app, req, env.Model, "", len(env.Images))
	return nil
}

func finishImage(ctx context.Context, app *App, sess *gemini.Session, dispatcher *gemini.Dispatcher, req *models.Request, env *models.Envelope, outputPath string) error {
	saver := artifact.NewSaver(sess.Timeout(), sess.CookieHeader(), sess.Proxy())
	resolver := artifact.NewResolver(saver, dispatcher.Dispatch, app.Log)

	res, err := resolver.Resolve(ctx, env, req, outputPath)
	if err != nil {
		if errors.Is(err, artifact.ErrNoArtifactResolved) {
			fmt.Fprintln(app.Err, "No images generated. Response text:")
			fmt.Fprintln(app.Out, res.Text)
		}
		return err
	}

	if res.ImageCount > 1 {
		app.Log.Info().Msgf("%d images generated, saved first one", res.ImageCount)
	}
	if res.FallbackModel != "" {
		app.Log.Info().Str("model", res.FallbackModel).Msg("used fallback image model")
	}

	if flagJSON {
		if err := renderJSON(app.Out, "Saved: "+outputPath, "", res.ImageCount); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(app.Out, "Saved: %s%s\n", outputPath, savedSizeSuffix(outputPath))
		if res.Text != "" {
			fmt.Fprintf(app.Out, "\nResponse: %s\n", res.Text)
		}
	}

	if flagPreview && display.Supported(app.Out) {
		if err := display.New(app.Out).Preview(outputPath); err != nil {
			app.Log.Warn().Err(err).Msg("preview failed")
		}
	}

	model := res.FallbackModel
	if model == "" {
		model = env.Model
	}
	recordHistory(ctx, app, req, model, outputPath, res.ImageCount)
	return nil
}

func savedSizeSuffix(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return fmt.Sprintf(" (%s)", humanize.Bytes(uint64(info.Size())))
}

// renderJSON writes the machine-readable result shape.
func renderJSON(w io.Writer, text, thoughts string, imageCount int) error {
	out := struct {
		Text       string  `json:"text"`
		Thoughts   *string `json:"thoughts"`
		HasImages  bool    `json:"has_images"`
		ImageCount int     `json:"image_count"`
	}{
		Text:       text,
		HasImages:  imageCount > 0,
		ImageCount: imageCount,
	}
	if thoughts != "" {
		out.Thoughts = &thoughts
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// recordHistory is best-effort; a broken local database never fails the
// invocation.
func recordHistory(ctx context.Context, app *App, req *models.Request, model, outputPath string, imageCount int) {
	store, err := history.NewStore()
	if err != nil {
		app.Log.Debug().Err(err).Msg("history store unavailable")
		return
	}
	defer store.Close()

	rec := &history.Record{
		Prompt:     req.Prompt,
		Model:      model,
		Operation:  string(req.Operation()),
		OutputPath: outputPath,
		ImageCount: imageCount,
	}
	if err := store.Add(ctx, rec); err != nil {
		app.Log.Debug().Err(err).Msg("failed to record history")
	}
}
