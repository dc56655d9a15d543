package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"stylist/internal/fault"
	"stylist/internal/infra"
	"stylist/internal/ratelimit"
	"stylist/internal/retry"
)

// Options configures the generation provider client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	Limiter        *ratelimit.Limiter
	Executor       *retry.Executor
	RequestTimeout time.Duration
}

// Client talks to a NanoBanana-style task API: submit an image-to-image
// task, check its record until it settles, then fetch the produced file.
// Submission is admission-checked against the generation bucket; status
// checks are left to the caller's polling loop.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
	limiter    *ratelimit.Limiter
	executor   *retry.Executor
	timeout    time.Duration
}

// SubmitRequest is one image-to-image generation task.
type SubmitRequest struct {
	Prompt         string
	SourceImageURL string
}

// PollStatus is the settled-or-not view of a submitted task.
type PollStatus struct {
	Pending      bool
	Succeeded    bool
	ResultURL    string
	ErrorMessage string
}

type submitPayload struct {
	Prompt      string   `json:"prompt"`
	Type        string   `json:"type"`
	ImageURLs   []string `json:"imageUrls"`
	NumImages   int      `json:"numImages"`
	ImageSize   string   `json:"image_size"`
	CallBackURL string   `json:"callBackUrl"`
}

type apiEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type submitData struct {
	TaskID string `json:"taskId"`
}

type recordData struct {
	SuccessFlag  *int   `json:"successFlag"`
	ErrorMessage string `json:"errorMessage"`
	Response     struct {
		ResultImageURL string `json:"resultImageUrl"`
	} `json:"response"`
}

// NewClient constructs a generation client with sane defaults.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("generation: api key is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.nanobananaapi.ai/api/v1/nanobanana"
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

// Submit registers a task with the provider and returns its task id.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", fault.New(fault.KindInvalidInput, "generation prompt is required")
	}
	if strings.TrimSpace(req.SourceImageURL) == "" {
		return "", fault.New(fault.KindInvalidInput, "source image url is required")
	}
	if c.limiter != nil && !c.limiter.TryAcquire(ratelimit.CategoryGeneration) {
		return "", fault.New(fault.KindRateLimited, "generation quota exhausted, try again later").
			WithRetryAfter(c.limiter.RetryAfter(ratelimit.CategoryGeneration))
	}

	policy := retry.TransientOnly(3, c.timeout)
	var taskID string
	outcome := c.executor.Do(ctx, policy, func(ctx context.Context) error {
		id, err := c.doSubmit(ctx, req)
		if err != nil {
			return err
		}
		taskID = id
		return nil
	})
	if outcome.Err != nil {
		return "", outcome.Err
	}
	c.logger.Info().Str("task_id", taskID).Msg("generation: task submitted")
	return taskID, nil
}

func (c *Client) doSubmit(ctx context.Context, req SubmitRequest) (string, error) {
	payload := submitPayload{
		Prompt:    req.Prompt,
		Type:      "IMAGETOIAMGE",
		ImageURLs: []string{req.SourceImageURL},
		NumImages: 1,
		ImageSize: "3:4",
		// The provider insists on a callback even when the caller polls.
		CallBackURL: "https://webhook.site/dummy",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("generation: encode submit payload: %w", err)
	}

	envelope, err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	if envelope.Code != 200 {
		return "", fault.New(fault.KindUpstreamRejected,
			fmt.Sprintf("generation submit refused: %s", orUnknown(envelope.Msg)))
	}
	var data submitData
	if err := json.Unmarshal(envelope.Data, &data); err != nil || strings.TrimSpace(data.TaskID) == "" {
		return "", fault.New(fault.KindUpstreamRejected, "generation submit returned no task id")
	}
	return data.TaskID, nil
}

// Poll fetches the task record once. A pending task is a normal outcome,
// not an error; only transport and rejection problems surface as errors.
func (c *Client) Poll(ctx context.Context, taskID string) (*PollStatus, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, fault.New(fault.KindInvalidInput, "task id is required")
	}
	endpoint := c.baseURL + "/record-info?taskId=" + url.QueryEscape(taskID)
	envelope, err := c.doJSON(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if envelope.Code != 200 {
		return nil, fault.New(fault.KindUpstreamUnavailable,
			fmt.Sprintf("generation status unavailable: %s", orUnknown(envelope.Msg)))
	}

	var record recordData
	if err := json.Unmarshal(envelope.Data, &record); err != nil {
		return nil, fault.Wrap(fault.KindUpstreamRejected, "generation: decode task record", err)
	}
	status := &PollStatus{}
	switch {
	case record.SuccessFlag == nil || *record.SuccessFlag == 0:
		status.Pending = true
	case *record.SuccessFlag == 1:
		status.Succeeded = true
		status.ResultURL = strings.TrimSpace(record.Response.ResultImageURL)
		if status.ResultURL == "" {
			// The provider occasionally reports success before the file
			// record is filled in. Treat it as still pending.
			status.Succeeded = false
			status.Pending = true
		}
	default:
		status.ErrorMessage = orUnknown(record.ErrorMessage)
	}
	return status, nil
}

// Download fetches the produced file from the provider's result URL.
func (c *Client) Download(ctx context.Context, resultURL string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return nil, fmt.Errorf("generation: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fault.Wrap(fault.KindUpstreamUnavailable, "generation result unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fault.New(fault.FromStatus(resp.StatusCode),
			fmt.Sprintf("generation result download failed with status %d", resp.StatusCode))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrap(fault.KindUpstreamUnavailable, "generation: read result body", err)
	}
	if len(data) == 0 {
		return nil, fault.New(fault.KindUpstreamRejected, "generation result body was empty")
	}
	return data, nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body io.Reader) (*apiEnvelope, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("generation: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fault.Wrap(fault.KindUpstreamUnavailable, "generation provider unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrap(fault.KindUpstreamUnavailable, "generation: read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().Int("status", resp.StatusCode).Str("body", truncate(string(raw), 300)).
			Msg("generation: upstream error")
		return nil, fault.New(fault.FromStatus(resp.StatusCode),
			fmt.Sprintf("generation provider returned status %d", resp.StatusCode))
	}
	var envelope apiEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fault.Wrap(fault.KindUpstreamRejected, "generation: decode response", err)
	}
	return &envelope, nil
}

func orUnknown(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "unknown error"
	}
	return msg
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
