package generators

import (
	"errors"
	"strings"
)

const (
	accessDeniedMessage  = "Access Denied: Please check if your API Key is from a paid project and has Image generation enabled."
	genericFailedMessage = "Rendering failed. Please try a clearer source map."
	noImageMessage       = "Generation completed but no image was found in the response."
)

var (
	ErrAccessDenied = errors.New("access denied")
	ErrNoImage      = errors.New(noImageMessage)
)

// RenderError carries the user-facing message of a failed render
type RenderError struct {
	Kind    error
	Message string
	Cause   error
}

func (e *RenderError) Error() string {
	return e.Message
}

func (e *RenderError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// ClassifyError turns a provider failure into the message shown to the user.
// Messages mentioning 403 or API_KEY become an access-denied error.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	var re *RenderError
	if errors.As(err, &re) {
		return re
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "403") || strings.Contains(msg, "API_KEY"):
		return &RenderError{Kind: ErrAccessDenied, Message: accessDeniedMessage, Cause: err}
	case strings.TrimSpace(msg) == "":
		return &RenderError{Message: genericFailedMessage, Cause: err}
	default:
		return &RenderError{Message: msg, Cause: err}
	}
}

// IsCredentialError reports whether a render failure suggests the session's
// credentials are no longer usable.
func IsCredentialError(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "not found") ||
		strings.Contains(msg, "403") ||
		strings.Contains(msg, "entity")
}
