package interfaces

import "context"

// RenderRequest represents one image-to-image rendering call
type RenderRequest struct {
	Image    []byte
	MimeType string // defaults to image/png
	Prompt   string
	APIKey   string // overrides the configured key when set
}

// RenderResult represents the image returned by the provider
type RenderResult struct {
	ImageData []byte
	MimeType  string
	Provider  string
	Model     string
	Duration  int64 // milliseconds
}

// Renderer turns a fabric map and a prompt into a rendering
type Renderer interface {
	// Render submits the image and prompt and returns the first image in the response
	Render(ctx context.Context, req *RenderRequest) (*RenderResult, error)

	// Provider returns the provider name, e.g. "gemini"
	Provider() string

	// Model returns the model used for rendering
	Model() string
}
