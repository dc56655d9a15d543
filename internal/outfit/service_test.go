package outfit

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"stylist/internal/arena"
	"stylist/internal/fault"
	"stylist/internal/imaging"
	"stylist/internal/providers/generation"
	"stylist/internal/providers/rating"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func pngDataURL(t *testing.T, w, h int) string {
	t.Helper()
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(encodePNG(t, w, h))
}

type fakeRater struct {
	rating      *rating.StructuredRating
	rateErr     error
	describe    *rating.OutfitDescription
	describeErr error

	ratedOccasion string
	describeReq   rating.DescribeRequest
	rateCalls     int
}

func (f *fakeRater) Rate(ctx context.Context, imageRef, occasion, budget string) (*rating.StructuredRating, error) {
	f.rateCalls++
	f.ratedOccasion = occasion
	if f.rateErr != nil {
		return nil, f.rateErr
	}
	return f.rating, nil
}

func (f *fakeRater) Describe(ctx context.Context, req rating.DescribeRequest) (*rating.OutfitDescription, error) {
	f.describeReq = req
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	return f.describe, nil
}

type fakeUploader struct {
	url   string
	err   error
	calls int
}

func (f *fakeUploader) Upload(ctx context.Context, asset *imaging.Asset) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

type fakeGenerator struct {
	job *generation.Job
	err error
	req generation.SubmitRequest
}

func (f *fakeGenerator) Run(ctx context.Context, req generation.SubmitRequest) (*generation.Job, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return f.job, nil
}

type fakeArena struct {
	entries []arena.Entry
	err     error
}

func (f *fakeArena) Append(ctx context.Context, entry arena.Entry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeArena) Leaderboard(ctx context.Context, limit int) ([]arena.Entry, error) {
	return f.entries, nil
}

func newTestService(t *testing.T, rater *fakeRater, uploader *fakeUploader, generator *fakeGenerator, store arena.Store) *Service {
	t.Helper()
	svc, err := NewService(ServiceOptions{
		Rater:     rater,
		Uploader:  uploader,
		Generator: generator,
		Arena:     store,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestRateScoresAndRecordsSubmission(t *testing.T) {
	rater := &fakeRater{rating: &rating.StructuredRating{OverallRating: 8, Summary: "sharp look"}}
	store := &fakeArena{}
	svc := newTestService(t, rater, &fakeUploader{}, &fakeGenerator{}, store)

	result, err := svc.Rate(context.Background(), RateRequest{
		ImageDataURL: pngDataURL(t, 4, 4),
		Occasion:     "job interview",
		Budget:       "$200",
	})
	if err != nil {
		t.Fatalf("Rate: %v", err)
	}
	if result.Rating.OverallRating != 8 {
		t.Fatalf("OverallRating = %v", result.Rating.OverallRating)
	}
	if rater.ratedOccasion != "Job Interview" {
		t.Fatalf("occasion passed to rater = %q, want normalized", rater.ratedOccasion)
	}
	if result.ArenaEntryID == "" {
		t.Fatalf("expected an arena entry id")
	}
	if len(store.entries) != 1 {
		t.Fatalf("%d arena entries, want 1", len(store.entries))
	}
	entry := store.entries[0]
	if entry.Occasion != "Job Interview" || entry.OverallRating != 8 || entry.Summary != "sharp look" {
		t.Fatalf("entry = %+v", entry)
	}
}

func TestRateRejectsSuspiciousImageRef(t *testing.T) {
	rater := &fakeRater{}
	svc := newTestService(t, rater, &fakeUploader{}, &fakeGenerator{}, nil)

	_, err := svc.Rate(context.Background(), RateRequest{
		ImageDataURL: "file://../../etc/passwd",
		Occasion:     "Casual Outing",
	})
	if fault.KindOf(err) != fault.KindInvalidInput {
		t.Fatalf("kind = %q, want invalid_input", fault.KindOf(err))
	}
	if rater.rateCalls != 0 {
		t.Fatalf("rater called %d times, want 0", rater.rateCalls)
	}
}

func TestRateSurvivesArenaFailure(t *testing.T) {
	rater := &fakeRater{rating: &rating.StructuredRating{OverallRating: 6}}
	store := &fakeArena{err: context.DeadlineExceeded}
	svc := newTestService(t, rater, &fakeUploader{}, &fakeGenerator{}, store)

	result, err := svc.Rate(context.Background(), RateRequest{
		ImageDataURL: pngDataURL(t, 4, 4),
		Occasion:     "Casual Outing",
	})
	if err != nil {
		t.Fatalf("Rate: %v", err)
	}
	if result.ArenaEntryID != "" {
		t.Fatalf("entry id should be empty after failed append")
	}
}

func TestGenerateRunsFullPipeline(t *testing.T) {
	rater := &fakeRater{describe: &rating.OutfitDescription{
		Items: []rating.OutfitItem{
			{Category: "top", Description: "unstructured linen blazer", Color: "beige"},
		},
	}}
	uploader := &fakeUploader{url: "https://cdn.fal.ai/files/person.png"}
	generator := &fakeGenerator{job: &generation.Job{
		ID:       "job-1",
		State:    generation.StateSucceeded,
		Attempts: 2,
		Result:   &generation.Result{URL: "https://cdn.nb/out.png", Data: encodePNG(t, 8, 8)},
	}}
	svc := newTestService(t, rater, uploader, generator, nil)

	result, err := svc.Generate(context.Background(), GenerateRequest{
		ImageDataURL: pngDataURL(t, 4, 4),
		Occasion:     "date night",
		WowFactor:    6,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.HasPrefix(result.ImageDataURL, "data:image/png;base64,") {
		t.Fatalf("result is not a png data url: %.40q", result.ImageDataURL)
	}
	if result.JobID != "job-1" || result.Attempts != 2 {
		t.Fatalf("job bookkeeping = %+v", result)
	}
	if generator.req.SourceImageURL != "https://cdn.fal.ai/files/person.png" {
		t.Fatalf("source url = %q", generator.req.SourceImageURL)
	}
	if !strings.Contains(generator.req.Prompt, "unstructured linen blazer in beige") {
		t.Fatalf("prompt missing outfit detail: %q", generator.req.Prompt)
	}
	if !strings.Contains(generator.req.Prompt, "upscale restaurant interior with romantic lighting") {
		t.Fatalf("prompt missing occasion scene: %q", generator.req.Prompt)
	}
	if rater.describeReq.Occasion != "Date Night" {
		t.Fatalf("describe occasion = %q", rater.describeReq.Occasion)
	}
}

func TestGenerateUsesNeutralSceneForUnknownOccasion(t *testing.T) {
	rater := &fakeRater{describe: &rating.OutfitDescription{Summary: "minimal look"}}
	generator := &fakeGenerator{job: &generation.Job{
		ID:     "job-2",
		State:  generation.StateSucceeded,
		Result: &generation.Result{Data: encodePNG(t, 8, 8)},
	}}
	svc := newTestService(t, rater, &fakeUploader{url: "https://cdn/x.png"}, generator, nil)

	_, err := svc.Generate(context.Background(), GenerateRequest{
		ImageDataURL: pngDataURL(t, 4, 4),
		Occasion:     "space walk",
		WowFactor:    5,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(generator.req.Prompt, "elegant neutral backdrop with natural lighting") {
		t.Fatalf("prompt missing neutral scene: %q", generator.req.Prompt)
	}
}

func TestGenerateValidatesWowFactorBeforeUpload(t *testing.T) {
	uploader := &fakeUploader{url: "https://cdn/x.png"}
	svc := newTestService(t, &fakeRater{}, uploader, &fakeGenerator{}, nil)

	_, err := svc.Generate(context.Background(), GenerateRequest{
		ImageDataURL: pngDataURL(t, 4, 4),
		Occasion:     "Casual Outing",
		WowFactor:    11,
	})
	if fault.KindOf(err) != fault.KindInvalidInput {
		t.Fatalf("kind = %q, want invalid_input", fault.KindOf(err))
	}
	if uploader.calls != 0 {
		t.Fatalf("uploader called %d times, want 0", uploader.calls)
	}
}

func TestGenerateSurfacesJobTimeout(t *testing.T) {
	rater := &fakeRater{describe: &rating.OutfitDescription{Summary: "look"}}
	generator := &fakeGenerator{err: fault.New(fault.KindTimeout, "generation did not finish within the time budget")}
	svc := newTestService(t, rater, &fakeUploader{url: "https://cdn/x.png"}, generator, nil)

	_, err := svc.Generate(context.Background(), GenerateRequest{
		ImageDataURL: pngDataURL(t, 4, 4),
		Occasion:     "Travel",
		WowFactor:    5,
	})
	if fault.KindOf(err) != fault.KindTimeout {
		t.Fatalf("kind = %q, want timeout", fault.KindOf(err))
	}
}

func TestNormalizeOccasion(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"job interview", "Job Interview"},
		{"  DATE   NIGHT ", "Date Night"},
		{"beach/resort", "Beach/Resort"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := normalizeOccasion(tc.in); got != tc.want {
			t.Fatalf("normalizeOccasion(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
