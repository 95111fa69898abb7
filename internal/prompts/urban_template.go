package prompts

import (
	"fmt"
	"regexp"
	"sync"
)

const (
	// UrbanRenderTemplate is the name of the built-in rendering template
	UrbanRenderTemplate = "urban_render"

	// detailThreshold is the granularity above which high detail is requested
	detailThreshold = 70

	highDetail  = "extremely high detail and complex textures"
	cleanDetail = "clean and clear architectural volumes"
)

var placeholderRegex = regexp.MustCompile(`\{\{(\w+)\}\}`)

// TemplateEngine manages prompt templates
type TemplateEngine struct {
	templates map[string]*Template
	mu        sync.RWMutex
}

// Template represents a prompt template with {{variable}} placeholders
type Template struct {
	Name        string   `json:"name"`
	Content     string   `json:"content"`
	Variables   []string `json:"variables"`
	Description string   `json:"description"`
}

// UrbanPromptContext holds the inputs of one rendering prompt
type UrbanPromptContext struct {
	StylePrompt string `json:"style_prompt"`
	Granularity int    `json:"granularity"`
	PatternMode string `json:"pattern_mode"`
}

// NewTemplateEngine creates a template engine with the built-in templates registered
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.RegisterTemplate(&Template{
		Name:        UrbanRenderTemplate,
		Description: "Turns a flat city fabric map into an architectural rendering",
		Content:     urbanRenderContent,
		Variables:   []string{"style_theme", "detail_description", "pattern_mode"},
	})
	return e
}

// RegisterTemplate registers or replaces a template
func (e *TemplateEngine) RegisterTemplate(tmpl *Template) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.templates[tmpl.Name] = tmpl
}

// GetTemplate retrieves a template by name
func (e *TemplateEngine) GetTemplate(name string) (*Template, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tmpl, ok := e.templates[name]
	if !ok {
		return nil, fmt.Errorf("template not found: %s", name)
	}
	return tmpl, nil
}

// Render fills a template's placeholders. Unknown placeholders are left as is.
func (e *TemplateEngine) Render(name string, vars map[string]string) (string, error) {
	tmpl, err := e.GetTemplate(name)
	if err != nil {
		return "", err
	}

	return placeholderRegex.ReplaceAllStringFunc(tmpl.Content, func(match string) string {
		key := placeholderRegex.FindStringSubmatch(match)[1]
		if v, ok := vars[key]; ok {
			return v
		}
		return match
	}), nil
}

// RenderUrbanPrompt renders the urban rendering template for ctx
func (e *TemplateEngine) RenderUrbanPrompt(ctx UrbanPromptContext) (string, error) {
	return e.Render(UrbanRenderTemplate, map[string]string{
		"style_theme":        ctx.StylePrompt,
		"detail_description": DetailDescription(ctx.Granularity),
		"pattern_mode":       ctx.PatternMode,
	})
}

// DetailDescription maps granularity to the detail wording of the prompt
func DetailDescription(granularity int) string {
	if granularity > detailThreshold {
		return highDetail
	}
	return cleanDetail
}

var defaultEngine = NewTemplateEngine()

// BuildUrbanPrompt renders the built-in urban template
func BuildUrbanPrompt(stylePrompt string, granularity int, patternMode string) string {
	// The built-in template is always registered.
	out, _ := defaultEngine.RenderUrbanPrompt(UrbanPromptContext{
		StylePrompt: stylePrompt,
		Granularity: granularity,
		PatternMode: patternMode,
	})
	return out
}

const urbanRenderContent = `URBAN ARCHITECTURAL RENDERING TASK.

SOURCE LAYOUT: Use the provided image as the ABSOLUTE structural master.
- You MUST maintain every building footprint, street alignment, and plot boundary exactly as drawn.
- Do not alter the camera angle or the scale of the urban fabric.

TASK:
- Transform this flat or basic city fabric into a full architectural rendering.
- Style Theme: {{style_theme}}
- Detail Density: {{detail_description}}.
- Material Mapping: Apply {{pattern_mode}} distribution for textures and landscaping.

QUALITY SPECS:
- High-end architectural visualization (ArchViz) standard.
- Realistic shadows, ambient occlusion, and cinematic lighting.
- 8K resolution feel with sharp edges and professional post-processing.`
