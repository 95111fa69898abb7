package models

// RenderStyle is a named preset whose prompt steers the look of the output
type RenderStyle struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
	PreviewURL  string `json:"preview_url"`
}

// PatternMode controls how textures and landscaping are distributed
type PatternMode struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}
