package model

// ImageOptions tunes a text-to-image request.
type ImageOptions struct {
	AspectRatio    AspectRatio
	Style          string
	NegativePrompt string
}

// ImageOutput is raw image data returned by a provider.
type ImageOutput struct {
	Data     []byte
	MIMEType string
	Text     string            // accompanying model text, if any
	Metadata map[string]string // provider specific, e.g. model name
}

// CopyBrief describes the marketing text to write.
type CopyBrief struct {
	ProductDescription string
	Platform           Platform
	Tone               string
	Variations         int
}
