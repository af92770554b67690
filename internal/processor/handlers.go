package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aliskhannn/generation-pipeline/internal/model"
)

// copySeparator joins copy variants into the stored text.
const copySeparator = "\n\n---\n\n"

// generate creates a fresh image and restarts the conversation from its prompt.
func (p *Processor) generate(job model.Job, payload model.GeneratePayload) plan {
	aspect := payload.AspectRatio
	if aspect == "" {
		aspect = model.DefaultAspectRatio
	}

	return plan{
		processingPercent: 30,
		processingMessage: "Generating image",
		execute: func(ctx context.Context, _ model.Generation) (outcome, error) {
			out, err := p.images.Generate(ctx, payload.Prompt, model.ImageOptions{
				AspectRatio:    aspect,
				Style:          payload.Style,
				NegativePrompt: payload.NegativePrompt,
			}, job.UserID)
			if err != nil {
				return outcome{}, err
			}

			return outcome{
				image:             &out,
				aspect:            aspect,
				userTurns:         []model.Turn{{Role: "user", Text: payload.Prompt}},
				resetConversation: true,
			}, nil
		},
	}
}

// edit continues the conversation with a new instruction on the referenced image.
func (p *Processor) edit(job model.Job, payload model.EditPayload) plan {
	return plan{
		processingPercent: 40,
		processingMessage: "Editing image",
		execute: func(ctx context.Context, gen model.Generation) (outcome, error) {
			images := []string{payload.OriginalImageURL}
			if payload.MaskURL != "" {
				images = append(images, payload.MaskURL)
			}
			instruction := model.Turn{Role: "user", Text: payload.EditPrompt, ImageURLs: images}

			history, seeded := conversation(gen)
			out, err := p.images.Continue(ctx, history, instruction, job.UserID)
			if err != nil {
				return outcome{}, err
			}

			return outcome{
				image:         &out,
				userTurns:     append(seeded, instruction),
				incrementEdit: true,
			}, nil
		},
	}
}

// variation derives a new image from a reference with the requested strength.
func (p *Processor) variation(job model.Job, payload model.VariationPayload) plan {
	return plan{
		processingPercent: 40,
		processingMessage: "Creating variation",
		execute: func(ctx context.Context, gen model.Generation) (outcome, error) {
			instruction := model.Turn{
				Role:      "user",
				Text:      variationInstruction(payload),
				ImageURLs: []string{payload.OriginalImageURL},
			}

			history, seeded := conversation(gen)
			out, err := p.images.Continue(ctx, history, instruction, job.UserID)
			if err != nil {
				return outcome{}, err
			}

			return outcome{
				image:     &out,
				userTurns: append(seeded, instruction),
			}, nil
		},
	}
}

// copywriting writes marketing text; there is no artifact to upload.
func (p *Processor) copywriting(job model.Job, payload model.CopyPayload) plan {
	return plan{
		processingPercent: 50,
		processingMessage: "Writing copy",
		execute: func(ctx context.Context, _ model.Generation) (outcome, error) {
			variants, err := p.copy.WriteCopy(ctx, model.CopyBrief{
				ProductDescription: payload.ProductDescription,
				Platform:           payload.Platform,
				Tone:               payload.Tone,
				Variations:         payload.VariationCount(),
			}, job.UserID)
			if err != nil {
				return outcome{}, err
			}

			text := strings.TrimSpace(strings.Join(nonEmpty(variants), copySeparator))
			if text == "" {
				return outcome{}, errors.New("copy writer returned no text")
			}

			return outcome{copy: text}, nil
		},
	}
}

// conversation returns the history to continue from. A generation without
// recorded turns is seeded from its prompt and current image; the seeded
// turns are returned separately so they get persisted.
func conversation(gen model.Generation) (history, seeded []model.Turn) {
	if len(gen.Conversation) > 0 {
		return gen.Conversation, nil
	}
	if gen.Prompt != "" {
		seeded = append(seeded, model.Turn{Role: "user", Text: gen.Prompt})
	}
	if gen.ImageURL != "" {
		seeded = append(seeded, model.Turn{Role: "model", ImageURLs: []string{gen.ImageURL}})
	}
	return seeded, seeded
}

func variationInstruction(payload model.VariationPayload) string {
	strength := payload.Strength()

	var degree string
	switch {
	case strength < 0.34:
		degree = "subtle"
	case strength < 0.67:
		degree = "moderate"
	default:
		degree = "bold"
	}

	text := fmt.Sprintf("Create a %s variation of this image (variation strength %.2f). Keep the main subject recognizable.", degree, strength)
	if payload.Prompt != "" {
		text += " " + payload.Prompt
	}
	return text
}

func nonEmpty(list []string) []string {
	out := list[:0:0]
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
