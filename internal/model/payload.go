package model

import (
	"encoding/json"
	"fmt"
)

// JobType discriminates the payload shape of a job.
type JobType string

const (
	JobGenerate  JobType = "generate"
	JobEdit      JobType = "edit"
	JobVariation JobType = "variation"
	JobCopy      JobType = "copy"
)

// AspectRatio is the requested output proportion of an image.
type AspectRatio string

const (
	AspectSquare    AspectRatio = "1:1"
	AspectWide      AspectRatio = "16:9"
	AspectTall      AspectRatio = "9:16"
	AspectLandscape AspectRatio = "4:3"
	AspectPortrait  AspectRatio = "3:4"
)

// DefaultAspectRatio is applied by the generate handler when none is requested.
const DefaultAspectRatio = AspectSquare

// Valid reports whether the ratio is one of the supported values.
func (a AspectRatio) Valid() bool {
	_, _, ok := a.Dimensions()
	return ok
}

// Dimensions returns the width and height units of the ratio.
func (a AspectRatio) Dimensions() (w, h int, ok bool) {
	switch a {
	case AspectSquare:
		return 1, 1, true
	case AspectWide:
		return 16, 9, true
	case AspectTall:
		return 9, 16, true
	case AspectLandscape:
		return 4, 3, true
	case AspectPortrait:
		return 3, 4, true
	}
	return 0, 0, false
}

// Platform is the publishing target of generated copy.
type Platform string

const (
	PlatformInstagram   Platform = "instagram"
	PlatformFacebook    Platform = "facebook"
	PlatformTikTok      Platform = "tiktok"
	PlatformTwitter     Platform = "twitter"
	PlatformLinkedIn    Platform = "linkedin"
	PlatformWhatsApp    Platform = "whatsapp"
	PlatformMarketplace Platform = "marketplace"
)

// DefaultVariationStrength is used when a variation job omits the strength.
const DefaultVariationStrength = 0.5

// Payload is the type-specific body of a job.
// The set of implementations is closed: GeneratePayload, EditPayload,
// VariationPayload, CopyPayload and UnknownPayload.
type Payload interface {
	Type() JobType
	isPayload()
}

// GeneratePayload creates a new image from a prompt.
type GeneratePayload struct {
	Prompt         string      `json:"prompt" validate:"required"`
	AspectRatio    AspectRatio `json:"aspect_ratio,omitempty" validate:"omitempty,aspect_ratio"`
	Style          string      `json:"style,omitempty"`
	NegativePrompt string      `json:"negative_prompt,omitempty"`
}

// EditPayload changes an existing image following an instruction.
type EditPayload struct {
	EditPrompt       string `json:"edit_prompt" validate:"required"`
	OriginalImageURL string `json:"original_image_url" validate:"required,url"`
	MaskURL          string `json:"mask_url,omitempty" validate:"omitempty,url"`
}

// VariationPayload derives a new image from an existing one.
type VariationPayload struct {
	OriginalImageURL  string   `json:"original_image_url" validate:"required,url"`
	VariationStrength *float64 `json:"variation_strength,omitempty" validate:"omitempty,gte=0,lte=1"`
	Prompt            string   `json:"prompt,omitempty"`
}

// Strength returns the requested strength or the default.
func (p VariationPayload) Strength() float64 {
	if p.VariationStrength == nil {
		return DefaultVariationStrength
	}
	return *p.VariationStrength
}

// CopyPayload asks for marketing text for a product.
type CopyPayload struct {
	ProductDescription string   `json:"product_description" validate:"required"`
	Platform           Platform `json:"platform" validate:"required,oneof=instagram facebook tiktok twitter linkedin whatsapp marketplace"`
	Tone               string   `json:"tone,omitempty"`
	Variations         int      `json:"variations,omitempty" validate:"omitempty,min=1,max=5"`
}

// VariationCount returns the number of copy variants to produce.
func (p CopyPayload) VariationCount() int {
	if p.Variations <= 0 {
		return 1
	}
	return p.Variations
}

// UnknownPayload holds a job whose type tag is not recognized.
type UnknownPayload struct {
	Tag string
	Raw json.RawMessage
}

func (GeneratePayload) Type() JobType  { return JobGenerate }
func (EditPayload) Type() JobType      { return JobEdit }
func (VariationPayload) Type() JobType { return JobVariation }
func (CopyPayload) Type() JobType      { return JobCopy }
func (p UnknownPayload) Type() JobType { return JobType(p.Tag) }

func (GeneratePayload) isPayload()  {}
func (EditPayload) isPayload()      {}
func (VariationPayload) isPayload() {}
func (CopyPayload) isPayload()      {}
func (UnknownPayload) isPayload()   {}

// EncodePayload returns the type tag and JSON body of p.
func EncodePayload(p Payload) (JobType, json.RawMessage, error) {
	switch v := p.(type) {
	case nil:
		return "", nil, fmt.Errorf("encode payload: nil payload")
	case UnknownPayload:
		raw := v.Raw
		if len(raw) == 0 {
			raw = json.RawMessage("null")
		}
		return v.Type(), raw, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return "", nil, fmt.Errorf("encode %s payload: %w", v.Type(), err)
		}
		return v.Type(), raw, nil
	}
}

// DecodePayload decodes raw into the payload variant selected by t.
func DecodePayload(t JobType, raw json.RawMessage) (Payload, error) {
	var (
		p   Payload
		err error
	)

	switch t {
	case JobGenerate:
		var v GeneratePayload
		err = unmarshalPayload(raw, &v)
		p = v
	case JobEdit:
		var v EditPayload
		err = unmarshalPayload(raw, &v)
		p = v
	case JobVariation:
		var v VariationPayload
		err = unmarshalPayload(raw, &v)
		p = v
	case JobCopy:
		var v CopyPayload
		err = unmarshalPayload(raw, &v)
		p = v
	default:
		return UnknownPayload{Tag: string(t), Raw: append(json.RawMessage(nil), raw...)}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}

func unmarshalPayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
