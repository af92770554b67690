package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/wb-go/wbf/zlog"
)

// maxResponseBytes bounds a provider response; generated images are inlined as base64.
const maxResponseBytes = 64 << 20

// ErrNoImage is returned when the model answered without image data.
var ErrNoImage = errors.New("provider returned no image")

// APIError is a non-2xx answer from the provider.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini: %s (status %d)", e.Message, e.StatusCode)
}

// clientFault reports whether the request itself was rejected, as opposed to
// the provider being unavailable.
func (e *APIError) clientFault() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// BreakerSettings configures the circuit breaker around provider calls.
type BreakerSettings struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// Options controls how the client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	ImageModel string
	TextModel  string
	Timeout    time.Duration
	Breaker    BreakerSettings
	HTTPClient *http.Client
	Images     imageFetcher // resolves conversation image URLs; plain HTTP GET when nil
}

// imageFetcher downloads images referenced by URL.
type imageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// Client calls the Gemini generateContent API for images and copy.
type Client struct {
	apiKey     string
	baseURL    string
	imageModel string
	textModel  string
	http       *http.Client
	images     imageFetcher
	breaker    *gobreaker.CircuitBreaker
	log        zerolog.Logger
}

// NewClient constructs a client. A nil HTTP client is replaced with one using opts.Timeout.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 90 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	c := &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		imageModel: orDefault(opts.ImageModel, "gemini-2.5-flash-image"),
		textModel:  orDefault(opts.TextModel, "gemini-2.5-flash"),
		http:       httpClient,
		log:        zlog.Logger.With().Str("component", "gemini").Logger(),
	}

	c.images = opts.Images
	if c.images == nil {
		c.images = httpFetcher{client: httpClient}
	}

	failures := opts.Breaker.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gemini",
		MaxRequests: opts.Breaker.MaxRequests,
		Interval:    opts.Breaker.Interval,
		Timeout:     opts.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.clientFault()
			}
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrNoImage)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	return c, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// generate sends req to model through the circuit breaker.
func (c *Client) generate(ctx context.Context, model string, req generateRequest) (generateResponse, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, model, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return generateResponse{}, fmt.Errorf("gemini unavailable: %w", err)
		}
		return generateResponse{}, err
	}

	return out.(generateResponse), nil
}

func (c *Client) post(ctx context.Context, model string, req generateRequest) (generateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return generateResponse{}, fmt.Errorf("gemini: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return generateResponse{}, fmt.Errorf("gemini: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return generateResponse{}, fmt.Errorf("gemini: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return generateResponse{}, fmt.Errorf("gemini: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return generateResponse{}, apiError(resp.StatusCode, raw)
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return generateResponse{}, fmt.Errorf("gemini: decode response: %w", err)
	}

	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		return generateResponse{}, &APIError{
			StatusCode: http.StatusBadRequest,
			Message:    "prompt blocked: " + out.PromptFeedback.BlockReason,
		}
	}

	return out, nil
}

func apiError(status int, raw []byte) *APIError {
	var body errorResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		return &APIError{StatusCode: status, Message: body.Error.Message}
	}

	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = http.StatusText(status)
	}
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return &APIError{StatusCode: status, Message: msg}
}

type httpFetcher struct {
	client *http.Client
}

// Fetch downloads url with a size limit.
func (f httpFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch image %s: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	return data, contentType, nil
}
