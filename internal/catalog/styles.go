// Package catalog holds the fixed lists of rendering styles and pattern modes
// offered to the user.
package catalog

import (
	"Urban-Render/server/internal/models"
)

// FallbackPrompt is used when a session references a style that no longer exists.
const FallbackPrompt = "Professional urban render"

var renderStyles = []models.RenderStyle{
	{
		ID:          "planning-aerial",
		Name:        "Planning Aerial View",
		Description: "Professional urban design look with clean masses, clear hierarchy, and bird-eye perspective.",
		Prompt:      "Generate a professional urban planning aerial rendering from a bird-eye perspective. Use a clean architectural aesthetic with stylized building volumes in off-white or light gray. Clearly define road hierarchies, pedestrian zones, and lush integrated green spaces. The lighting should be soft and even, highlighting the urban structure and masterplan organization in a high-end presentation style.",
		PreviewURL:  "https://images.unsplash.com/photo-1541888941259-79273ceb0c2a?auto=format&fit=crop&q=80&w=400&h=300",
	},
	{
		ID:          "modern-photoreal",
		Name:        "Modern Photorealistic",
		Description: "Crisp glass towers, asphalt roads, and realistic daylight.",
		Prompt:      "Transform this city fabric into a high-end photorealistic 3D architectural rendering. Use modern materials like glass, steel, and concrete. High-quality daylight lighting, realistic shadows, and lush urban greenery.",
		PreviewURL:  "https://images.unsplash.com/photo-1449824913935-59a10b8d2000?auto=format&fit=crop&q=80&w=400&h=300",
	},
}

var patternModes = []models.PatternMode{
	{ID: "natural", Name: "Natural / Organic", Description: "Fluid, varied textures that avoid obvious tiling."},
	{ID: "geometric", Name: "Geometric / Grid", Description: "Structured, repeating patterns aligned to urban grids."},
	{ID: "chaotic", Name: "Complex / Dense", Description: "Intricate, high-frequency details with overlapping layers."},
	{ID: "abstract", Name: "Minimalist / Abstract", Description: "Large, clean surfaces with minimal repeating motifs."},
}

// Styles returns a copy of the style list in display order.
func Styles() []models.RenderStyle {
	out := make([]models.RenderStyle, len(renderStyles))
	copy(out, renderStyles)
	return out
}

// PatternModes returns a copy of the pattern mode list in display order.
func PatternModes() []models.PatternMode {
	out := make([]models.PatternMode, len(patternModes))
	copy(out, patternModes)
	return out
}

// FindStyle looks up a style by id.
func FindStyle(id string) (models.RenderStyle, bool) {
	for _, s := range renderStyles {
		if s.ID == id {
			return s, true
		}
	}
	return models.RenderStyle{}, false
}

// FindPatternMode looks up a pattern mode by id.
func FindPatternMode(id string) (models.PatternMode, bool) {
	for _, p := range patternModes {
		if p.ID == id {
			return p, true
		}
	}
	return models.PatternMode{}, false
}

// StylePrompt returns the prompt fragment for a style id, or FallbackPrompt.
func StylePrompt(id string) string {
	if s, ok := FindStyle(id); ok && s.Prompt != "" {
		return s.Prompt
	}
	return FallbackPrompt
}
