package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"stylist/internal/fault"
	"stylist/internal/imaging"
	"stylist/internal/infra"
	"stylist/internal/ratelimit"
	"stylist/internal/retry"
)

// Options configures the CDN upload client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	Limiter        *ratelimit.Limiter
	Executor       *retry.Executor
	RequestTimeout time.Duration
}

// Client pushes validated image assets to a FAL-style CDN and returns the
// public URL. Uploads are admission-checked against the upload bucket and
// retried only on network-class failures.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
	limiter    *ratelimit.Limiter
	executor   *retry.Executor
	timeout    time.Duration
}

type uploadResponse struct {
	FileURL string `json:"file_url"`
	URL     string `json:"url"`
}

type uploadErrorResponse struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

// NewClient constructs an upload client with sane defaults.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("upload: api key is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://rest.fal.ai"
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	executor := opts.Executor
	if executor == nil {
		executor = retry.NewExecutor(logger)
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		limiter:    opts.Limiter,
		executor:   executor,
		timeout:    timeout,
	}, nil
}

// Upload pushes the asset and returns its publicly fetchable URL. The only
// side effect is the upload itself; the asset bytes are read transiently
// and never written to disk here.
func (c *Client) Upload(ctx context.Context, asset *imaging.Asset) (string, error) {
	if asset == nil || len(asset.Data) == 0 {
		return "", fault.New(fault.KindInvalidInput, "no image data to upload")
	}
	if c.limiter != nil && !c.limiter.TryAcquire(ratelimit.CategoryUpload) {
		return "", fault.New(fault.KindRateLimited, "upload quota exhausted, try again later").
			WithRetryAfter(c.limiter.RetryAfter(ratelimit.CategoryUpload))
	}

	policy := retry.TransientOnly(3, c.timeout)
	var uploadedURL string
	outcome := c.executor.Do(ctx, policy, func(ctx context.Context) error {
		url, err := c.doUpload(ctx, asset)
		if err != nil {
			return err
		}
		uploadedURL = url
		return nil
	})
	if outcome.Err != nil {
		return "", outcome.Err
	}
	c.logger.Debug().Str("url", uploadedURL).Int("bytes", len(asset.Data)).Msg("upload: asset uploaded")
	return uploadedURL, nil
}

func (c *Client) doUpload(ctx context.Context, asset *imaging.Asset) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="outfit"`)
	header.Set("Content-Type", asset.MIME)
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("upload: build multipart body: %w", err)
	}
	if _, err := part.Write(asset.Data); err != nil {
		return "", fmt.Errorf("upload: write multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("upload: close multipart body: %w", err)
	}

	endpoint := c.baseURL + "/storage/upload"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("upload: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Key "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fault.Wrap(fault.KindUpstreamUnavailable, "upload provider unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fault.Wrap(fault.KindUpstreamUnavailable, "upload: read response", err)
	}
	if resp.StatusCode >= 300 {
		return "", c.classifyStatus(resp.StatusCode, raw)
	}

	var decoded uploadResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fault.Wrap(fault.KindUpstreamRejected, "upload: decode response", err)
	}
	url := strings.TrimSpace(decoded.FileURL)
	if url == "" {
		url = strings.TrimSpace(decoded.URL)
	}
	if url == "" {
		return "", fault.New(fault.KindUpstreamRejected, "upload: response carried no file url")
	}
	return url, nil
}

func (c *Client) classifyStatus(status int, raw []byte) error {
	var detail uploadErrorResponse
	message := ""
	if err := json.Unmarshal(raw, &detail); err == nil {
		if detail.Detail != "" {
			message = detail.Detail
		} else {
			message = detail.Message
		}
	}
	c.logger.Warn().Int("status", status).Str("detail", message).Msg("upload: upstream error")
	kind := fault.FromStatus(status)
	switch kind {
	case fault.KindRateLimited:
		return fault.New(kind, "upload provider quota exceeded")
	case fault.KindUpstreamUnavailable:
		return fault.New(kind, "upload provider unavailable")
	case fault.KindTimeout:
		return fault.New(kind, "upload provider timed out")
	default:
		return fault.New(fault.KindUpstreamRejected, "upload provider rejected the file")
	}
}
