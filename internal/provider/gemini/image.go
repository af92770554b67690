package gemini

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/aliskhannn/generation-pipeline/internal/model"
)

var imageModalities = []string{"TEXT", "IMAGE"}

// Generate creates an image from a text prompt.
func (c *Client) Generate(ctx context.Context, prompt string, opts model.ImageOptions, userID string) (model.ImageOutput, error) {
	text := prompt
	if opts.Style != "" {
		text += "\nStyle: " + opts.Style + "."
	}
	if opts.NegativePrompt != "" {
		text += "\nAvoid: " + opts.NegativePrompt + "."
	}

	req := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: text}}}},
		GenerationConfig: &generationConfig{
			ResponseModalities: imageModalities,
			ImageConfig:        &imageConfig{AspectRatio: string(opts.AspectRatio)},
		},
	}

	c.log.Debug().Str("user_id", userID).Str("model", c.imageModel).Msg("generating image")

	return c.image(ctx, req)
}

// Continue asks the model for a new image given the prior conversation and an instruction.
// Images referenced by URL are downloaded and sent inline.
func (c *Client) Continue(ctx context.Context, history []model.Turn, instruction model.Turn, userID string) (model.ImageOutput, error) {
	contents := make([]content, 0, len(history)+1)
	for _, turn := range append(history[:len(history):len(history)], instruction) {
		ct, err := c.turnContent(ctx, turn)
		if err != nil {
			return model.ImageOutput{}, err
		}
		if len(ct.Parts) > 0 {
			contents = append(contents, ct)
		}
	}

	req := generateRequest{
		Contents:         contents,
		GenerationConfig: &generationConfig{ResponseModalities: imageModalities},
	}

	c.log.Debug().Str("user_id", userID).Int("turns", len(contents)).Msg("continuing image conversation")

	return c.image(ctx, req)
}

func (c *Client) turnContent(ctx context.Context, turn model.Turn) (content, error) {
	role := "user"
	if turn.Role == "model" {
		role = "model"
	}

	ct := content{Role: role}
	if turn.Text != "" {
		ct.Parts = append(ct.Parts, part{Text: turn.Text})
	}
	for _, url := range turn.ImageURLs {
		data, mimeType, err := c.images.Fetch(ctx, url)
		if err != nil {
			return content{}, fmt.Errorf("load reference image: %w", err)
		}
		ct.Parts = append(ct.Parts, part{InlineData: &inlineData{
			MimeType: mimeType,
			Data:     base64.StdEncoding.EncodeToString(data),
		}})
	}

	return ct, nil
}

func (c *Client) image(ctx context.Context, req generateRequest) (model.ImageOutput, error) {
	resp, err := c.generate(ctx, c.imageModel, req)
	if err != nil {
		return model.ImageOutput{}, err
	}

	var texts []string
	for _, cand := range resp.Candidates {
		for _, p := range cand.Content.Parts {
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}

			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return model.ImageOutput{}, fmt.Errorf("gemini: decode image: %w", err)
			}

			return model.ImageOutput{
				Data:     data,
				MIMEType: p.InlineData.MimeType,
				Text:     strings.Join(texts, "\n"),
				Metadata: map[string]string{"model": c.imageModel, "model_version": resp.ModelVersion},
			}, nil
		}
	}

	if len(texts) > 0 {
		return model.ImageOutput{}, fmt.Errorf("%w: %s", ErrNoImage, strings.Join(texts, " "))
	}
	return model.ImageOutput{}, ErrNoImage
}
