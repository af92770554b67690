package processor

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/aliskhannn/generation-pipeline/internal/model"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 40, B: 40, A: 255})
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func decodeSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return cfg.Width, cfg.Height
}

func TestPostProcessorFitsAspect(t *testing.T) {
	pp, err := NewPostProcessor(PostProcessConfig{})
	if err != nil {
		t.Fatalf("NewPostProcessor: %v", err)
	}

	tests := []struct {
		aspect model.AspectRatio
		w, h   int
		wantW  int
		wantH  int
	}{
		{model.AspectSquare, 200, 100, 100, 100},
		{model.AspectWide, 160, 160, 160, 90},
		{model.AspectTall, 180, 100, 56, 100},
		{model.AspectSquare, 100, 100, 100, 100},
		{"", 120, 80, 120, 80},
	}

	for _, tt := range tests {
		out, ct, err := pp.Process(encodePNG(t, tt.w, tt.h), "image/png", tt.aspect)
		if err != nil {
			t.Fatalf("%s: Process: %v", tt.aspect, err)
		}
		if ct != "image/png" {
			t.Fatalf("content type = %q", ct)
		}
		if w, h := decodeSize(t, out); w != tt.wantW || h != tt.wantH {
			t.Fatalf("%s %dx%d: got %dx%d, want %dx%d", tt.aspect, tt.w, tt.h, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestPostProcessorWatermarkAndJPEG(t *testing.T) {
	pp, err := NewPostProcessor(PostProcessConfig{WatermarkText: "shop", Format: "jpg"})
	if err != nil {
		t.Fatalf("NewPostProcessor: %v", err)
	}

	src := encodePNG(t, 120, 120)
	out, ct, err := pp.Process(src, "image/png", model.AspectSquare)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if ct != "image/jpeg" {
		t.Fatalf("content type = %q, want image/jpeg", ct)
	}
	if _, format, err := image.Decode(bytes.NewReader(out)); err != nil || format != "jpeg" {
		t.Fatalf("decoded format = %q, err %v", format, err)
	}
}

func TestPostProcessorRejects(t *testing.T) {
	if _, err := NewPostProcessor(PostProcessConfig{Format: "gif"}); err == nil {
		t.Fatal("gif accepted")
	}

	pp, err := NewPostProcessor(PostProcessConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := pp.Process([]byte("not an image"), "image/png", model.AspectSquare); err == nil {
		t.Fatal("garbage decoded")
	}
}
