package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aliskhannn/generation-pipeline/internal/model"
)

var platformHints = map[model.Platform]string{
	model.PlatformInstagram:   "an Instagram caption with a hook, short paragraphs and up to five hashtags",
	model.PlatformFacebook:    "a Facebook post that reads conversationally and ends with a call to action",
	model.PlatformTikTok:      "a TikTok caption, punchy and under 150 characters, with trending-style hashtags",
	model.PlatformTwitter:     "a post under 280 characters",
	model.PlatformLinkedIn:    "a LinkedIn post in a professional voice focused on value",
	model.PlatformWhatsApp:    "a WhatsApp broadcast message, friendly and direct, no hashtags",
	model.PlatformMarketplace: "a marketplace listing description with key features and benefits",
}

// WriteCopy produces brief.Variations marketing texts.
func (c *Client) WriteCopy(ctx context.Context, brief model.CopyBrief, userID string) ([]string, error) {
	n := brief.Variations
	if n <= 0 {
		n = 1
	}

	hint, ok := platformHints[brief.Platform]
	if !ok {
		hint = "a social media post"
	}
	tone := brief.Tone
	if tone == "" {
		tone = "friendly"
	}

	prompt := fmt.Sprintf(
		"Write %d distinct variants of %s in a %s tone for this product:\n%s\n"+
			"Answer with a JSON array of %d strings and nothing else.",
		n, hint, tone, brief.ProductDescription, n,
	)

	req := generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: "You are an experienced marketing copywriter for small businesses."}}},
		Contents:          []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig:  &generationConfig{ResponseMimeType: "application/json"},
	}

	c.log.Debug().Str("user_id", userID).Str("platform", string(brief.Platform)).Msg("writing copy")

	resp, err := c.generate(ctx, c.textModel, req)
	if err != nil {
		return nil, err
	}

	text := responseText(resp)
	if text == "" {
		return nil, errors.New("gemini: empty copy response")
	}

	return parseVariants(text, n), nil
}

func responseText(resp generateResponse) string {
	var b strings.Builder
	for _, cand := range resp.Candidates {
		for _, p := range cand.Content.Parts {
			b.WriteString(p.Text)
		}
		if b.Len() > 0 {
			break
		}
	}
	return strings.TrimSpace(b.String())
}

// parseVariants reads a JSON array of strings; any other answer is one variant.
func parseVariants(text string, limit int) []string {
	text = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(text, "```json"), "```"))

	var variants []string
	if err := json.Unmarshal([]byte(text), &variants); err != nil {
		return []string{text}
	}

	if len(variants) > limit {
		variants = variants[:limit]
	}
	return variants
}
