package upload

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
	"time"

	"stylist/internal/fault"
	"stylist/internal/imaging"
	"stylist/internal/ratelimit"
	"stylist/internal/retry"
)

type scriptedTransport struct {
	responses []*http.Response
	requests  []*http.Request
	bodies    [][]byte
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		body, _ := io.ReadAll(req.Body)
		req.Body.Close()
		s.bodies = append(s.bodies, body)
	}
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return &http.Response{StatusCode: http.StatusServiceUnavailable, Body: io.NopCloser(strings.NewReader("over"))}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func textResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func fastExecutor() *retry.Executor {
	return retry.NewExecutor(nil,
		retry.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
		retry.WithJitter(func(time.Duration) time.Duration { return 0 }),
	)
}

func newTestClient(t *testing.T, transport *scriptedTransport, limiter *ratelimit.Limiter) *Client {
	t.Helper()
	client, err := NewClient(Options{
		APIKey:     "fal-test",
		HTTPClient: &http.Client{Transport: transport},
		Limiter:    limiter,
		Executor:   fastExecutor(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func testAsset() *imaging.Asset {
	return &imaging.Asset{Data: []byte{0x89, 'P', 'N', 'G'}, MIME: "image/png", Width: 1, Height: 1}
}

func TestUploadReturnsPublicURL(t *testing.T) {
	transport := &scriptedTransport{responses: []*http.Response{
		textResponse(http.StatusOK, `{"file_url":"https://cdn.fal.ai/files/outfit.png"}`),
	}}
	client := newTestClient(t, transport, nil)

	url, err := client.Upload(context.Background(), testAsset())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if url != "https://cdn.fal.ai/files/outfit.png" {
		t.Fatalf("url = %q", url)
	}

	req := transport.requests[0]
	if auth := req.Header.Get("Authorization"); auth != "Key fal-test" {
		t.Fatalf("Authorization = %q", auth)
	}
	mediaType, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		t.Fatalf("Content-Type = %q (%v)", req.Header.Get("Content-Type"), err)
	}
	reader := multipart.NewReader(strings.NewReader(string(transport.bodies[0])), params["boundary"])
	part, err := reader.NextPart()
	if err != nil {
		t.Fatalf("read multipart: %v", err)
	}
	if part.FormName() != "file" {
		t.Fatalf("form name = %q, want file", part.FormName())
	}
	data, _ := io.ReadAll(part)
	if string(data) != string(testAsset().Data) {
		t.Fatalf("uploaded bytes mismatch")
	}
}

func TestUploadRetriesTransientThenSucceeds(t *testing.T) {
	transport := &scriptedTransport{responses: []*http.Response{
		textResponse(http.StatusBadGateway, `{"detail":"upstream hiccup"}`),
		textResponse(http.StatusOK, `{"url":"https://cdn.fal.ai/files/retry.png"}`),
	}}
	client := newTestClient(t, transport, nil)

	url, err := client.Upload(context.Background(), testAsset())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if url != "https://cdn.fal.ai/files/retry.png" {
		t.Fatalf("url = %q", url)
	}
	if len(transport.requests) != 2 {
		t.Fatalf("%d requests, want 2", len(transport.requests))
	}
}

func TestUploadDeniedByLocalBucket(t *testing.T) {
	limiter := ratelimit.NewLimiter(map[ratelimit.Category]ratelimit.BucketConfig{
		ratelimit.CategoryUpload: {Capacity: 1, RefillRate: 0.001},
	})
	transport := &scriptedTransport{responses: []*http.Response{
		textResponse(http.StatusOK, `{"file_url":"https://cdn.fal.ai/files/first.png"}`),
	}}
	client := newTestClient(t, transport, limiter)

	if _, err := client.Upload(context.Background(), testAsset()); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	_, err := client.Upload(context.Background(), testAsset())
	if fault.KindOf(err) != fault.KindRateLimited {
		t.Fatalf("kind = %q, want rate_limited", fault.KindOf(err))
	}
	if len(transport.requests) != 1 {
		t.Fatalf("%d upstream calls, want 1", len(transport.requests))
	}
}

func TestUploadRejectionDoesNotRetry(t *testing.T) {
	transport := &scriptedTransport{responses: []*http.Response{
		textResponse(http.StatusBadRequest, `{"detail":"unsupported file"}`),
	}}
	client := newTestClient(t, transport, nil)

	_, err := client.Upload(context.Background(), testAsset())
	if fault.KindOf(err) != fault.KindUpstreamRejected {
		t.Fatalf("kind = %q, want upstream_rejected", fault.KindOf(err))
	}
	if len(transport.requests) != 1 {
		t.Fatalf("%d requests, want 1", len(transport.requests))
	}
}

func TestUploadEmptyAsset(t *testing.T) {
	client := newTestClient(t, &scriptedTransport{}, nil)
	_, err := client.Upload(context.Background(), &imaging.Asset{})
	if fault.KindOf(err) != fault.KindInvalidInput {
		t.Fatalf("kind = %q, want invalid_input", fault.KindOf(err))
	}
}
