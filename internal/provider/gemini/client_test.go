package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/generation-pipeline/internal/model"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

type staticFetcher map[string][]byte

func (f staticFetcher) Fetch(_ context.Context, url string) ([]byte, string, error) {
	data, ok := f[url]
	if !ok {
		return nil, "", errors.New("not found")
	}
	return data, "image/png", nil
}

func newTestClient(t *testing.T, h http.HandlerFunc, opts Options) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	opts.APIKey = "test-key"
	opts.BaseURL = srv.URL
	c, err := NewClient(opts)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func imageResponse(data []byte) generateResponse {
	return generateResponse{
		Candidates: []candidate{{Content: content{Role: "model", Parts: []part{
			{Text: "here you go"},
			{InlineData: &inlineData{MimeType: "image/png", Data: base64.StdEncoding.EncodeToString(data)}},
		}}}},
		ModelVersion: "v-test",
	}
}

func decodeRequest(t *testing.T, r *http.Request) generateRequest {
	t.Helper()
	body, _ := io.ReadAll(r.Body)
	var req generateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		t.Errorf("decode request: %v", err)
	}
	return req
}

func TestGenerate(t *testing.T) {
	var got generateRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("api key header = %q", r.Header.Get("x-goog-api-key"))
		}
		if !strings.HasSuffix(r.URL.Path, "/models/gemini-2.5-flash-image:generateContent") {
			t.Errorf("path = %s", r.URL.Path)
		}
		got = decodeRequest(t, r)
		_ = json.NewEncoder(w).Encode(imageResponse([]byte("png-bytes")))
	}, Options{})

	out, err := c.Generate(context.Background(), "a teapot", model.ImageOptions{
		AspectRatio:    model.AspectWide,
		Style:          "watercolor",
		NegativePrompt: "text",
	}, "u1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if string(out.Data) != "png-bytes" || out.MIMEType != "image/png" || out.Text != "here you go" {
		t.Fatalf("output = %+v", out)
	}
	if out.Metadata["model_version"] != "v-test" {
		t.Fatalf("metadata = %v", out.Metadata)
	}

	prompt := got.Contents[0].Parts[0].Text
	if !strings.Contains(prompt, "a teapot") || !strings.Contains(prompt, "Style: watercolor.") || !strings.Contains(prompt, "Avoid: text.") {
		t.Fatalf("prompt = %q", prompt)
	}
	if got.GenerationConfig.ImageConfig.AspectRatio != "16:9" {
		t.Fatalf("aspect = %q", got.GenerationConfig.ImageConfig.AspectRatio)
	}
}

func TestContinueInlinesImages(t *testing.T) {
	var got generateRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = decodeRequest(t, r)
		_ = json.NewEncoder(w).Encode(imageResponse([]byte("edited")))
	}, Options{Images: staticFetcher{"https://cdn.test/a.png": []byte("original")}})

	history := []model.Turn{
		{Role: "user", Text: "a cat"},
		{Role: "model", ImageURLs: []string{"https://cdn.test/a.png"}},
	}
	out, err := c.Continue(context.Background(), history, model.Turn{Role: "user", Text: "add a hat"}, "u1")
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if string(out.Data) != "edited" {
		t.Fatalf("data = %q", out.Data)
	}

	if len(got.Contents) != 3 || got.Contents[1].Role != "model" {
		t.Fatalf("contents = %+v", got.Contents)
	}
	inline := got.Contents[1].Parts[0].InlineData
	if inline == nil || inline.Data != base64.StdEncoding.EncodeToString([]byte("original")) {
		t.Fatalf("inline image = %+v", inline)
	}
	if len(history) != 2 {
		t.Fatal("history slice modified")
	}
}

func TestContinueFetchError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}, Options{Images: staticFetcher{}})

	_, err := c.Continue(context.Background(), nil, model.Turn{Text: "edit", ImageURLs: []string{"https://cdn.test/missing.png"}}, "u1")
	if err == nil || !strings.Contains(err.Error(), "load reference image") {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != 0 {
		t.Fatal("request sent without reference image")
	}
}

func TestNoImageInResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"I cannot draw that"}]}}]}`))
	}, Options{})

	_, err := c.Generate(context.Background(), "p", model.ImageOptions{}, "u1")
	if !errors.Is(err, ErrNoImage) || !strings.Contains(err.Error(), "I cannot draw that") {
		t.Fatalf("err = %v", err)
	}
}

func TestAPIErrorMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`))
	}, Options{})

	_, err := c.Generate(context.Background(), "p", model.ImageOptions{}, "u1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 429 || apiErr.Message != "Resource has been exhausted" {
		t.Fatalf("err = %v", err)
	}
}

func TestPromptBlocked(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"promptFeedback":{"blockReason":"SAFETY"}}`))
	}, Options{})

	_, err := c.Generate(context.Background(), "p", model.ImageOptions{}, "u1")
	if err == nil || !strings.Contains(err.Error(), "prompt blocked: SAFETY") {
		t.Fatalf("err = %v", err)
	}
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, Options{Breaker: BreakerSettings{ConsecutiveFailures: 2}})

	for i := 0; i < 2; i++ {
		if _, err := c.Generate(context.Background(), "p", model.ImageOptions{}, "u1"); err == nil {
			t.Fatal("expected error")
		}
	}

	_, err := c.Generate(context.Background(), "p", model.ImageOptions{}, "u1")
	if err == nil || !strings.Contains(err.Error(), "gemini unavailable") {
		t.Fatalf("err = %v, want open breaker", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("server called %d times, want 2", calls.Load())
	}
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}, Options{Breaker: BreakerSettings{ConsecutiveFailures: 1}})

	for i := 0; i < 3; i++ {
		_, err := c.Generate(context.Background(), "p", model.ImageOptions{}, "u1")
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("attempt %d: err = %v", i, err)
		}
	}
	if calls.Load() != 3 {
		t.Fatalf("server called %d times, want 3", calls.Load())
	}
}

func TestWriteCopy(t *testing.T) {
	var got generateRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-2.5-flash:generateContent") {
			t.Errorf("path = %s", r.URL.Path)
		}
		got = decodeRequest(t, r)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"[\"One\",\"Two\",\"Three\"]"}]}}]}`))
	}, Options{})

	variants, err := c.WriteCopy(context.Background(), model.CopyBrief{
		ProductDescription: "organic honey",
		Platform:           model.PlatformInstagram,
		Variations:         2,
	}, "u1")
	if err != nil {
		t.Fatalf("WriteCopy: %v", err)
	}
	if len(variants) != 2 || variants[0] != "One" {
		t.Fatalf("variants = %v", variants)
	}
	prompt := got.Contents[0].Parts[0].Text
	if !strings.Contains(prompt, "organic honey") || !strings.Contains(prompt, "Instagram") {
		t.Fatalf("prompt = %q", prompt)
	}
	if got.GenerationConfig.ResponseMimeType != "application/json" {
		t.Fatalf("generation config = %+v", got.GenerationConfig)
	}
}

func TestParseVariants(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{`["a","b"]`, []string{"a", "b"}},
		{"```json\n[\"a\"]\n```", []string{"a"}},
		{"plain text answer", []string{"plain text answer"}},
	}
	for _, tt := range tests {
		got := parseVariants(tt.in, 5)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Fatalf("parseVariants(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(Options{APIKey: "  "}); err == nil {
		t.Fatal("empty key accepted")
	}
}
