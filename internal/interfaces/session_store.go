package interfaces

import (
	"context"

	"Urban-Render/server/internal/models"
)

// SessionStore persists per-session rendering state
type SessionStore interface {
	// Load returns the state of a session, or storage.ErrSessionNotFound
	Load(ctx context.Context, sessionID string) (*models.RenderingState, error)

	// Save writes the state and refreshes its expiry
	Save(ctx context.Context, state *models.RenderingState) error

	// Delete removes the session and its key
	Delete(ctx context.Context, sessionID string) error

	// SetAPIKey stores the credentials a session connected with
	SetAPIKey(ctx context.Context, sessionID, apiKey string) error

	// APIKey returns the stored credentials, or "" when none were connected
	APIKey(ctx context.Context, sessionID string) (string, error)
}
