// Package outfit orchestrates the two user-facing workflows: rate an
// outfit photo, and generate a new outfit photo for an occasion. It owns
// the ordering of provider calls; the providers own wire formats and
// retry behavior.
package outfit

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stylist/internal/arena"
	"stylist/internal/fault"
	"stylist/internal/imaging"
	"stylist/internal/infra"
	"stylist/internal/providers/generation"
	"stylist/internal/providers/rating"
)

// Rater scores outfits and writes generation briefs.
type Rater interface {
	Rate(ctx context.Context, imageRef, occasion, budget string) (*rating.StructuredRating, error)
	Describe(ctx context.Context, req rating.DescribeRequest) (*rating.OutfitDescription, error)
}

// Uploader pushes a validated asset to a public CDN.
type Uploader interface {
	Upload(ctx context.Context, asset *imaging.Asset) (string, error)
}

// Generator runs an image-to-image job to a terminal state.
type Generator interface {
	Run(ctx context.Context, req generation.SubmitRequest) (*generation.Job, error)
}

// RateRequest carries one rate-my-outfit submission.
type RateRequest struct {
	ImageDataURL string
	Occasion     string
	Budget       string
}

// RateResult is the scored outcome. ArenaEntryID is empty when the
// leaderboard write was skipped or failed; the rating itself is still
// valid.
type RateResult struct {
	Rating       *rating.StructuredRating
	Occasion     string
	ArenaEntryID string
}

// GenerateRequest carries one outfit-generation submission.
type GenerateRequest struct {
	ImageDataURL string
	Occasion     string
	WowFactor    int
	Brands       []string
	Budget       string
	Conditions   string
}

// GenerateResult is the finished artifact plus the brief it was built
// from and the job bookkeeping for diagnostics.
type GenerateResult struct {
	ImageDataURL string
	Description  *rating.OutfitDescription
	Occasion     string
	JobID        string
	Attempts     int
}

// ServiceOptions wires the orchestrator's collaborators. Rater, Uploader
// and Generator are required; Arena is optional and best-effort.
type ServiceOptions struct {
	Rater     Rater
	Uploader  Uploader
	Generator Generator
	Arena     arena.Store
	Logger    *infra.Logger
	Now       func() time.Time
}

// Service runs the rate and generate workflows.
type Service struct {
	rater     Rater
	uploader  Uploader
	generator Generator
	arena     arena.Store
	logger    *infra.Logger
	now       func() time.Time
}

// NewService validates the wiring and returns an orchestrator.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Rater == nil {
		return nil, fmt.Errorf("outfit: rater is required")
	}
	if opts.Uploader == nil {
		return nil, fmt.Errorf("outfit: uploader is required")
	}
	if opts.Generator == nil {
		return nil, fmt.Errorf("outfit: generator is required")
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		rater:     opts.Rater,
		uploader:  opts.Uploader,
		generator: opts.Generator,
		arena:     opts.Arena,
		logger:    logger,
		now:       now,
	}, nil
}

// Rate validates the submitted photo, scores it, and appends the result
// to the arena leaderboard. The leaderboard write never fails the
// request; a rating the user paid a provider call for is always
// returned.
func (s *Service) Rate(ctx context.Context, req RateRequest) (*RateResult, error) {
	asset, err := imaging.Decode(req.ImageDataURL)
	if err != nil {
		return nil, err
	}
	occasion := normalizeOccasion(req.Occasion)
	if occasion == "" {
		return nil, fault.New(fault.KindInvalidInput, "occasion is required")
	}

	result, err := s.rater.Rate(ctx, req.ImageDataURL, occasion, req.Budget)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("occasion", occasion).Float64("overall", result.OverallRating).
		Int("bytes", asset.SizeBytes()).Msg("outfit: rated")

	out := &RateResult{Rating: result, Occasion: occasion}
	if s.arena != nil {
		entry := arena.Entry{
			ID:            uuid.NewString(),
			Occasion:      occasion,
			Budget:        req.Budget,
			OverallRating: result.OverallRating,
			Summary:       result.Summary,
			CreatedAt:     s.now().UTC(),
		}
		if err := s.arena.Append(ctx, entry); err != nil {
			s.logger.Warn().Err(err).Msg("outfit: arena append failed")
		} else {
			out.ArenaEntryID = entry.ID
		}
	}
	return out, nil
}

// Generate runs the full pipeline: validate and shrink the person photo,
// publish it, write an outfit brief, render the brief onto the person,
// and shrink the rendered result. Failures surface with the kind of the
// step that failed; an upload that succeeded before a later failure is
// an accepted orphan on the CDN.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	asset, err := imaging.Decode(req.ImageDataURL)
	if err != nil {
		return nil, err
	}
	occasion := normalizeOccasion(req.Occasion)
	if occasion == "" {
		return nil, fault.New(fault.KindInvalidInput, "occasion is required")
	}
	if req.WowFactor < 1 || req.WowFactor > 10 {
		return nil, fault.New(fault.KindInvalidInput, "wow factor must be between 1 and 10")
	}

	optimized, err := imaging.Optimize(asset, imaging.DefaultMaxDimension)
	if err != nil {
		return nil, err
	}
	sourceURL, err := s.uploader.Upload(ctx, optimized)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("occasion", occasion).Str("source_url", sourceURL).Msg("outfit: person photo published")

	brief, err := s.rater.Describe(ctx, rating.DescribeRequest{
		Occasion:   occasion,
		WowFactor:  req.WowFactor,
		Brands:     req.Brands,
		Budget:     req.Budget,
		Conditions: req.Conditions,
		ImageRef:   imaging.EncodeDataURL(optimized),
	})
	if err != nil {
		return nil, err
	}

	job, err := s.generator.Run(ctx, generation.SubmitRequest{
		Prompt:         buildGenerationPrompt(brief.DetailLine(), occasion),
		SourceImageURL: sourceURL,
	})
	if err != nil {
		return nil, err
	}
	if job.Result == nil || len(job.Result.Data) == 0 {
		return nil, fault.New(fault.KindUpstreamRejected, "generation finished without an image")
	}

	rendered, err := imaging.FromBytes(job.Result.Data)
	if err != nil {
		return nil, fault.Wrap(fault.KindUpstreamRejected, "outfit: rendered image unreadable", err)
	}
	final, err := imaging.Optimize(rendered, imaging.DefaultMaxDimension)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("job_id", job.ID).Int("attempts", job.Attempts).
		Int("bytes", final.SizeBytes()).Msg("outfit: generated")

	return &GenerateResult{
		ImageDataURL: imaging.EncodeDataURL(final),
		Description:  brief,
		Occasion:     occasion,
		JobID:        job.ID,
		Attempts:     job.Attempts,
	}, nil
}

// Leaderboard exposes the arena's top entries.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]arena.Entry, error) {
	if s.arena == nil {
		return []arena.Entry{}, nil
	}
	return s.arena.Leaderboard(ctx, limit)
}

// buildGenerationPrompt stages the described outfit on the pictured
// person. Face preservation wording matters: without it the render
// replaces the person instead of redressing them.
func buildGenerationPrompt(outfit, occasion string) string {
	background := backgroundFor(occasion)
	return fmt.Sprintf(`Transform this person wearing %s.
Setting: %s.
Occasion: %s.
Keep the same person's face and features exactly as in the original image. Natural pose appropriate for %s, facial expression matching the formality.
Photorealistic, professional fashion photography, magazine quality, 3/4 body shot with professional studio lighting.`,
		outfit, background, occasion, occasion)
}
