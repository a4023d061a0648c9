// Package cache keeps per-manager dedup state: entity expirations, gym
// team ownership, and gym descriptive info.
package cache

import (
	"fmt"
	"log/slog"
	"time"

	"pokealert/internal/domain"
)

// GymInfo holds the descriptive gym fields patched onto gym events.
// Params: name, description, and image URL, each possibly unknown.
// Returns: cache record merged without losing known values.
type GymInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
}

// UnknownGymInfo builds the default record for unseen gyms.
// Params: none.
// Returns: record with every field set to the unknown placeholder.
func UnknownGymInfo() GymInfo {
	return GymInfo{
		Name:        domain.Unknown,
		Description: domain.Unknown,
		ImageURL:    "",
	}
}

// merge overlays incoming known fields onto the stored record.
// Params: stored record and incoming update.
// Returns: merged record; unknown incoming fields never erase known ones.
func (g GymInfo) merge(update GymInfo) GymInfo {
	if update.Name != "" && update.Name != domain.Unknown {
		g.Name = update.Name
	}
	if update.Description != "" && update.Description != domain.Unknown {
		g.Description = update.Description
	}
	if update.ImageURL != "" {
		g.ImageURL = update.ImageURL
	}
	return g
}

// Cache stores dedup state for one manager.
// Params: per-kind expirations keyed by entity id, gym teams, gym info.
// Returns: lookups used by the manager's dedup and enrichment steps.
type Cache interface {
	// Expiration returns the stored lifecycle expiration for one entity.
	// Params: event kind and entity id.
	// Returns: expiration and presence flag.
	Expiration(kind domain.Kind, id string) (time.Time, bool)

	// SetExpiration stores the lifecycle expiration for one entity.
	// Params: event kind, entity id, and expiration timestamp.
	// Returns: none.
	SetExpiration(kind domain.Kind, id string, at time.Time)

	// Team returns the stored controlling team for one gym.
	// Params: gym id.
	// Returns: team id and presence flag.
	Team(gymID string) (int64, bool)

	// SetTeam stores the controlling team for one gym.
	// Params: gym id and team id.
	// Returns: none.
	SetTeam(gymID string, team int64)

	// GymInfo returns descriptive info for one gym.
	// Params: gym id.
	// Returns: stored record, or the unknown record for unseen gyms.
	GymInfo(gymID string) GymInfo

	// SetGymInfo merges descriptive info for one gym.
	// Params: gym id and incoming record.
	// Returns: none; unknown fields never overwrite known ones.
	SetGymInfo(gymID string, info GymInfo)

	// Sweep drops every expiration entry at or past its deadline.
	// Params: current time.
	// Returns: number of entries dropped.
	Sweep(now time.Time) int

	// Save persists the current state for backends that snapshot.
	// Params: none.
	// Returns: persistence error, nil for volatile backends.
	Save() error

	// Close releases backend resources after a final Save.
	// Params: none.
	// Returns: close error.
	Close() error
}

// New builds one cache backend by name.
// Params: backend selector (memory|file|sqlite), backing path, and logger.
// Returns: ready cache or construction error.
func New(backend, path string, logger *slog.Logger) (Cache, error) {
	switch backend {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		if path == "" {
			return nil, fmt.Errorf("file cache backend requires a path")
		}
		return NewFile(path, logger)
	case "sqlite":
		if path == "" {
			return nil, fmt.Errorf("sqlite cache backend requires a path")
		}
		return NewSQLite(path, logger)
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", backend)
	}
}
