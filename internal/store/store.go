// Package store holds conversation histories and user profiles. Two backends
// implement the same interface: an in-process map for single-node deployments
// and Redis for deployments that want state to survive restarts of a single
// replica or be shared across replicas.
package store

import (
	"context"
	"time"
)

// Turn is one entry in a session's conversation history.
type Turn struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	HasImages bool   `json:"has_images,omitempty"`
	Intent    string `json:"intent,omitempty"`
}

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Profile is a user's saved personalization data. Saves replace the whole
// record; there is no partial-update merge.
type Profile struct {
	UserID             string    `json:"user_id"`
	Name               string    `json:"name,omitempty"`
	Age                int       `json:"age,omitempty"`
	Weight             float64   `json:"weight,omitempty"`
	Height             float64   `json:"height,omitempty"`
	HealthCondition    string    `json:"health_condition"`
	DietaryPreferences []string  `json:"dietary_preferences"`
	Allergies          []string  `json:"allergies"`
	TargetCalories     int       `json:"target_calories"`
	ActivityLevel      string    `json:"activity_level"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// SessionStore manages conversation histories keyed by opaque session id.
// Histories are append-only and unbounded; reads are windowed by the caller.
type SessionStore interface {
	// AppendTurns atomically appends turns to a session, creating it on first use.
	AppendTurns(ctx context.Context, sessionID string, turns ...Turn) error

	// RecentTurns retrieves up to 'limit' most recent turns in chronological order.
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error)
}

// ProfileStore manages user profiles keyed by opaque user id.
type ProfileStore interface {
	// SaveProfile inserts or wholesale-replaces a profile.
	SaveProfile(ctx context.Context, profile *Profile) error

	// GetProfile retrieves a profile by user id. Returns nil, nil if not found.
	GetProfile(ctx context.Context, userID string) (*Profile, error)
}

// Store is the combined interface the rest of the application depends on.
type Store interface {
	SessionStore
	ProfileStore

	// Ping checks backend availability.
	Ping(ctx context.Context) error
}
