package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/aliskhannn/generation-pipeline/internal/model"
)

// aspectTolerance is the relative ratio difference accepted without cropping.
const aspectTolerance = 0.01

// PostProcessConfig configures the image post-processor.
type PostProcessConfig struct {
	WatermarkText string  // empty disables the watermark
	FontPath      string  // TrueType font; the built-in bitmap face is used when empty
	FontScale     float64 // font size relative to image width
	Format        string  // "png" or "jpeg"
}

// PostProcessor fits images to the requested aspect ratio and stamps an optional watermark.
type PostProcessor struct {
	cfg    PostProcessConfig
	format imaging.Format
}

// NewPostProcessor validates cfg and creates a PostProcessor.
func NewPostProcessor(cfg PostProcessConfig) (*PostProcessor, error) {
	if cfg.Format == "" {
		cfg.Format = "png"
	}
	format, err := imaging.FormatFromExtension(cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("post-process format %q: %w", cfg.Format, err)
	}
	if format != imaging.PNG && format != imaging.JPEG {
		return nil, fmt.Errorf("post-process format %q is not supported", cfg.Format)
	}
	if cfg.FontScale <= 0 {
		cfg.FontScale = 0.04
	}

	return &PostProcessor{cfg: cfg, format: format}, nil
}

// Process decodes data, applies the adjustments and re-encodes it.
func (pp *PostProcessor) Process(data []byte, _ string, aspect model.AspectRatio) ([]byte, string, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}

	img = fitAspect(img, aspect)

	if pp.cfg.WatermarkText != "" {
		img, err = pp.watermark(img)
		if err != nil {
			return nil, "", err
		}
	}

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, img, pp.format); err != nil {
		return nil, "", fmt.Errorf("failed to encode image: %w", err)
	}

	return buf.Bytes(), pp.contentType(), nil
}

func (pp *PostProcessor) contentType() string {
	if pp.format == imaging.JPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// fitAspect center-crops img to the ratio, keeping the full width when possible.
func fitAspect(img image.Image, aspect model.AspectRatio) image.Image {
	rw, rh, ok := aspect.Dimensions()
	if !ok {
		return img
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return img
	}

	want := float64(rw) / float64(rh)
	have := float64(w) / float64(h)
	if math.Abs(have-want)/want <= aspectTolerance {
		return img
	}

	targetW, targetH := w, int(math.Round(float64(w)/want))
	if targetH > h {
		targetW, targetH = int(math.Round(float64(h)*want)), h
	}

	return imaging.Fill(img, targetW, targetH, imaging.Center, imaging.Lanczos)
}

// watermark draws the text in the bottom-right corner.
func (pp *PostProcessor) watermark(img image.Image) (image.Image, error) {
	dc := gg.NewContextForImage(img)

	if pp.cfg.FontPath != "" {
		size := float64(dc.Width()) * pp.cfg.FontScale
		if err := dc.LoadFontFace(pp.cfg.FontPath, size); err != nil {
			return nil, fmt.Errorf("failed to load font: %w", err)
		}
	} else {
		dc.SetFontFace(basicfont.Face7x13)
	}

	margin := 10.0
	x := float64(dc.Width()) - margin
	y := float64(dc.Height()) - margin

	// Drop shadow.
	dc.SetColor(color.RGBA{A: 160})
	dc.DrawStringAnchored(pp.cfg.WatermarkText, x+1, y+1, 1, 0)
	dc.SetColor(color.White)
	dc.DrawStringAnchored(pp.cfg.WatermarkText, x, y, 1, 0)

	return dc.Image(), nil
}
