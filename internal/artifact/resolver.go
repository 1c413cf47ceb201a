package artifact

import (
	"context"
	"errors"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/mzahmed/gemweb/pkg/models"
)

// ErrNoArtifactResolved reports that every resolution tier came up empty.
// It is a failed outcome, not a crash: the result still carries the best
// available response text.
var ErrNoArtifactResolved = errors.New("no image could be resolved")

// EmptyResponseMarker stands in for response text when the service sent
// none at all.
const EmptyResponseMarker = "(empty response)"

// The backend sometimes announces an image in prose without attaching a
// structured payload. Both patterns are service-owned formats; keep them
// next to each other so drift is a one-file fix.
var (
	placeholderPattern = regexp.MustCompile(`http://googleusercontent\.com/image_generation_content/\d+`)
	cdnURLPattern      = regexp.MustCompile(`https://lh3\.googleusercontent\.com/gg-dl/[^\s"']+`)
)

// DispatchFunc re-issues a generation request; the resolver uses it for
// the placeholder-retry tier.
type DispatchFunc func(ctx context.Context, req *models.Request) (*models.Envelope, error)

// Tier names which resolution path produced the artifact.
type Tier int

const (
	TierNone Tier = iota
	TierStructured
	TierRawScan
	TierPlaceholderRetry
)

// Result is the outcome of one resolution run.
type Result struct {
	SavedPath     string
	ImageCount    int
	Tier          Tier
	FallbackModel string
	Text          string
	Thoughts      string
}

// Resolver turns a response envelope into a saved artifact, trying
// progressively more desperate sources.
type Resolver struct {
	saver    *Saver
	dispatch DispatchFunc
	plan     models.FallbackPlan
	log      zerolog.Logger

	// scan extracts candidate image URLs from a raw body. Tests swap it
	// to point at local servers; production code never changes it.
	scan func(string) []string
}

func NewResolver(saver *Saver, dispatch DispatchFunc, log zerolog.Logger) *Resolver {
	return &Resolver{
		saver:    saver,
		dispatch: dispatch,
		plan:     models.PlaceholderFallbacks(),
		log:      log,
		scan:     ExtractCDNURLs,
	}
}

// Resolve runs the tiered search. Tiers are strictly ordered and strictly
// sequential: a tier that saves an artifact ends the run, and a later tier
// only executes when every earlier one yielded nothing.
func (r *Resolver) Resolve(ctx context.Context, env *models.Envelope, req *models.Request, outPath string) (*Result, error) {
	// Tier 1: structured image references on the envelope.
	if len(env.Images) > 0 {
		err := r.saver.Save(ctx, &env.Images[0], outPath)
		if err == nil {
			return &Result{
				SavedPath:  outPath,
				ImageCount: len(env.Images),
				Tier:       TierStructured,
				Text:       env.Text,
				Thoughts:   env.Thoughts,
			}, nil
		}
		r.log.Warn().Err(err).Msg("saving structured image failed, trying raw scan")
	}

	// Tier 2: scan the captured wire body for CDN URLs the parser missed.
	if urls := r.scan(env.RawBody); len(urls) > 0 {
		img := models.GeneratedImage{URL: urls[0]}
		err := r.saver.Save(ctx, &img, outPath)
		if err == nil {
			return &Result{
				SavedPath:  outPath,
				ImageCount: len(urls),
				Tier:       TierRawScan,
				Text:       env.Text,
				Thoughts:   env.Thoughts,
			}, nil
		}
		r.log.Warn().Err(err).Msg("downloading raw-scanned image failed, trying fallback models")
	}

	// Tier 3: the text promised an image; re-dispatch on known-good models.
	last := env
	if HasImagePlaceholder(env.Text) {
		for _, model := range r.plan.Skip(env.Model) {
			r.log.Info().Str("model", model).Msg("retrying image generation")
			retryEnv, err := r.dispatch(ctx, req.WithModel(model))
			if err != nil {
				return nil, err
			}
			last = retryEnv
			if len(retryEnv.Images) == 0 {
				continue
			}
			if err := r.saver.Save(ctx, &retryEnv.Images[0], outPath); err != nil {
				return nil, err
			}
			return &Result{
				SavedPath:     outPath,
				ImageCount:    len(retryEnv.Images),
				Tier:          TierPlaceholderRetry,
				FallbackModel: model,
				Text:          retryEnv.Text,
				Thoughts:      retryEnv.Thoughts,
			}, nil
		}
	}

	text := last.Text
	if text == "" {
		text = EmptyResponseMarker
	}
	return &Result{Text: text, Thoughts: last.Thoughts, Tier: TierNone}, ErrNoArtifactResolved
}

// ExtractCDNURLs collects gg-dl image URLs from a raw response body in
// first-seen order, deduplicated.
func ExtractCDNURLs(raw string) []string {
	if raw == "" {
		return nil
	}
	matches := cdnURLPattern.FindAllString(raw, -1)
	seen := make(map[string]bool, len(matches))
	urls := make([]string, 0, len(matches))
	for _, m := range matches {
		if seen[m] {
			continue
		}
		seen[m] = true
		urls = append(urls, m)
	}
	return urls
}

// HasImagePlaceholder reports whether response text contains the
// "image is coming" placeholder the backend emits before the payload
// exists.
func HasImagePlaceholder(text string) bool {
	return text != "" && placeholderPattern.MatchString(text)
}
