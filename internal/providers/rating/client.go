package rating

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"stylist/internal/fault"
	"stylist/internal/infra"
	"stylist/internal/ratelimit"
	"stylist/internal/retry"
)

// Options configures the vision/text rating client. The wire format follows
// the OpenAI chat-completions surface; any provider speaking it can be
// substituted via BaseURL.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	MaxTokens      int
	HTTPClient     *http.Client
	Logger         *infra.Logger
	Limiter        *ratelimit.Limiter
	Executor       *retry.Executor
	RequestTimeout time.Duration
}

// Client rates outfits and produces generation briefs through a vision
// model. All failures leave as classified fault kinds; raw provider
// payloads are logged, never returned.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
	logger     *infra.Logger
	limiter    *ratelimit.Limiter
	executor   *retry.Executor
	timeout    time.Duration
}

// DescribeRequest carries the inputs for a generation brief.
type DescribeRequest struct {
	Occasion   string
	WowFactor  int
	Brands     []string
	Budget     string
	Conditions string
	ImageRef   string
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat *chatFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string     `json:"role"`
	Content []chatPart `json:"content"`
}

type chatPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewClient constructs a rating client with sane defaults.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("rating: api key is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gpt-4o"
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1500
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
		model:      model,
		maxTokens:  maxTokens,
		httpClient: httpClient,
		logger:     logger,
		limiter:    opts.Limiter,
		executor:   executor,
		timeout:    timeout,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Rate scores an outfit image for the given occasion. The image reference
// may be a data URL or a fetchable https URL.
func (c *Client) Rate(ctx context.Context, imageRef, occasion, budget string) (*StructuredRating, error) {
	imageRef = strings.TrimSpace(imageRef)
	if imageRef == "" {
		return nil, fault.New(fault.KindInvalidInput, "no image provided")
	}
	occasion = strings.TrimSpace(occasion)
	if occasion == "" {
		return nil, fault.New(fault.KindInvalidInput, "occasion is required")
	}
	if err := c.acquire(ratelimit.CategoryRating); err != nil {
		return nil, err
	}

	prompt := buildRatePrompt(occasion, budget)
	content, err := c.complete(ctx, []chatMessage{{
		Role: "user",
		Content: []chatPart{
			{Type: "text", Text: prompt},
			{Type: "image_url", ImageURL: &chatImageURL{URL: imageRef}},
		},
	}})
	if err != nil {
		return nil, err
	}
	result, err := parseStructuredRating(content)
	if err != nil {
		c.logger.Error().Str("model", c.model).Str("raw", truncate(content, 500)).Msg("rating: malformed rating payload")
		return nil, err
	}
	c.logger.Debug().Str("model", c.model).Float64("overall", result.OverallRating).Msg("rating: outfit rated")
	return result, nil
}

// Describe produces a structured outfit brief used as the generation
// prompt source. The image reference is optional; when present the brief
// is personalized to the pictured person.
func (c *Client) Describe(ctx context.Context, req DescribeRequest) (*OutfitDescription, error) {
	occasion := strings.TrimSpace(req.Occasion)
	if occasion == "" {
		return nil, fault.New(fault.KindInvalidInput, "occasion is required")
	}
	if req.WowFactor < 1 || req.WowFactor > 10 {
		return nil, fault.New(fault.KindInvalidInput, "wow factor must be between 1 and 10")
	}
	if err := c.acquire(ratelimit.CategoryRating); err != nil {
		return nil, err
	}

	parts := []chatPart{{Type: "text", Text: buildDescribePrompt(req)}}
	if ref := strings.TrimSpace(req.ImageRef); ref != "" {
		parts = append(parts, chatPart{Type: "image_url", ImageURL: &chatImageURL{URL: ref}})
	}
	content, err := c.complete(ctx, []chatMessage{{Role: "user", Content: parts}})
	if err != nil {
		return nil, err
	}
	result, err := parseOutfitDescription(content)
	if err != nil {
		c.logger.Error().Str("model", c.model).Str("raw", truncate(content, 500)).Msg("rating: malformed description payload")
		return nil, err
	}
	return result, nil
}

func (c *Client) acquire(category ratelimit.Category) error {
	if c.limiter == nil {
		return nil
	}
	if c.limiter.TryAcquire(category) {
		return nil
	}
	return fault.New(fault.KindRateLimited, "rating quota exhausted, try again later").
		WithRetryAfter(c.limiter.RetryAfter(category))
}

// complete runs one chat completion through the retry executor. Only
// transient kinds are retried; a validation or rejection failure
// short-circuits on the first attempt.
func (c *Client) complete(ctx context.Context, messages []chatMessage) (string, error) {
	policy := retry.TransientOnly(3, c.timeout)
	var content string
	outcome := c.executor.Do(ctx, policy, func(ctx context.Context) error {
		text, err := c.doChat(ctx, messages)
		if err != nil {
			return err
		}
		content = text
		return nil
	})
	if outcome.Err != nil {
		return "", outcome.Err
	}
	return content, nil
}

func (c *Client) doChat(ctx context.Context, messages []chatMessage) (string, error) {
	payload := chatRequest{
		Model:          c.model,
		Messages:       messages,
		MaxTokens:      c.maxTokens,
		ResponseFormat: &chatFormat{Type: "json_object"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("rating: encode request: %w", err)
	}
	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("rating: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fault.Wrap(fault.KindUpstreamUnavailable, "rating provider unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fault.Wrap(fault.KindUpstreamUnavailable, "rating: read response", err)
	}
	if resp.StatusCode >= 300 {
		return "", c.classifyStatus(resp, raw)
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fault.Wrap(fault.KindUpstreamRejected, "rating: decode response", err)
	}
	if len(decoded.Choices) == 0 || strings.TrimSpace(decoded.Choices[0].Message.Content) == "" {
		return "", fault.Wrap(fault.KindUpstreamRejected, "rating: empty completion", errEmptyChoice)
	}
	return decoded.Choices[0].Message.Content, nil
}

func (c *Client) classifyStatus(resp *http.Response, raw []byte) error {
	kind := fault.FromStatus(resp.StatusCode)
	message := "rating provider error"
	var detail chatErrorResponse
	if err := json.Unmarshal(raw, &detail); err == nil && detail.Error.Message != "" {
		c.logger.Warn().Int("status", resp.StatusCode).Str("type", detail.Error.Type).Str("detail", truncate(detail.Error.Message, 200)).Msg("rating: upstream error")
	} else {
		c.logger.Warn().Int("status", resp.StatusCode).Str("body", truncate(string(raw), 200)).Msg("rating: upstream error")
	}
	switch kind {
	case fault.KindRateLimited:
		message = "rating provider rate limit hit"
	case fault.KindTimeout:
		message = "rating provider timed out"
	case fault.KindUpstreamUnavailable:
		message = "rating provider unavailable"
	case fault.KindUpstreamRejected:
		message = "rating provider rejected the request"
	case fault.KindInvalidInput:
		message = "rating provider rejected the input"
	}
	ferr := fault.New(kind, message)
	if kind == fault.KindRateLimited {
		if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds > 0 {
			ferr = ferr.WithRetryAfter(time.Duration(seconds) * time.Second)
		}
	}
	return ferr
}

func buildRatePrompt(occasion, budget string) string {
	budgetText := ""
	if budget = strings.TrimSpace(budget); budget != "" {
		budgetText = " with a budget of " + budget
	}
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "Analyze this outfit for a %s%s.\n\n", occasion, budgetText)
	sb.WriteString("Score the wow factor, occasion fitness and overall rating from 1 to 10, ")
	sb.WriteString("list strengths, improvements and concrete suggestions, add a short witty roast ")
	sb.WriteString("(playful, never mean-spirited) and 3-5 shopping recommendations.\n")
	sb.WriteString("Respond strictly as JSON matching this schema: ")
	sb.WriteString(`{"wow_factor":number,"occasion_fitness":number,"overall_rating":number,` +
		`"wow_factor_explanation":string,"occasion_fitness_explanation":string,"overall_explanation":string,` +
		`"strengths":[string],"improvements":[string],"suggestions":[string],"roast":string,` +
		`"shopping_recommendations":[{"item":string,"description":string,"price":string,"reason":string}]}`)
	return sb.String()
}

func buildDescribePrompt(req DescribeRequest) string {
	style := "balanced, stylish, and modern"
	switch {
	case req.WowFactor <= 3:
		style = "classic, safe, and timeless"
	case req.WowFactor > 6:
		style = "bold, creative, and fashion-forward"
	}
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "Create a detailed outfit recommendation for %s.\nStyle level: %d/10 (%s).", req.Occasion, req.WowFactor, style)
	if len(req.Brands) > 0 {
		fmt.Fprintf(sb, " Preferred brands: %s.", strings.Join(req.Brands, ", "))
	}
	if budget := strings.TrimSpace(req.Budget); budget != "" {
		fmt.Fprintf(sb, " Budget: %s.", budget)
	}
	if conditions := strings.TrimSpace(req.Conditions); conditions != "" {
		fmt.Fprintf(sb, " Additional requirements: %s.", conditions)
	}
	sb.WriteString("\nDescribe the complete outfit (top, bottom, shoes, accessories), the color palette ")
	sb.WriteString("and why it works, style notes, and 5-8 shopping list entries.\n")
	sb.WriteString("Respond strictly as JSON matching this schema: ")
	sb.WriteString(`{"outfit_summary":string,"items":[{"category":string,"name":string,"description":string,` +
		`"color":string,"material":string,"why":string}],"color_palette":{"primary":string,"secondary":string,` +
		`"accent":string,"reasoning":string},"style_notes":string,` +
		`"shopping_list":[{"item":string,"description":string,"price_range":string,"priority":string}]}`)
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
