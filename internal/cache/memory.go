package cache

import (
	"sync"
	"time"

	"pokealert/internal/domain"
)

// Memory is the volatile in-process cache backend.
// Params: mutex-guarded maps for expirations, teams, and gym info.
// Returns: dedup state lost on restart.
type Memory struct {
	mu          sync.RWMutex
	expirations map[domain.Kind]map[string]time.Time
	teams       map[string]int64
	gyms        map[string]GymInfo
}

// NewMemory builds an empty volatile cache.
// Params: none.
// Returns: ready cache.
func NewMemory() *Memory {
	return &Memory{
		expirations: make(map[domain.Kind]map[string]time.Time),
		teams:       make(map[string]int64),
		gyms:        make(map[string]GymInfo),
	}
}

// Expiration returns the stored lifecycle expiration for one entity.
// Params: event kind and entity id.
// Returns: expiration and presence flag.
func (m *Memory) Expiration(kind domain.Kind, id string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	at, ok := m.expirations[kind][id]
	return at, ok
}

// SetExpiration stores the lifecycle expiration for one entity.
// Params: event kind, entity id, and expiration timestamp.
// Returns: none.
func (m *Memory) SetExpiration(kind domain.Kind, id string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID, ok := m.expirations[kind]
	if !ok {
		byID = make(map[string]time.Time)
		m.expirations[kind] = byID
	}
	byID[id] = at
}

// Team returns the stored controlling team for one gym.
// Params: gym id.
// Returns: team id and presence flag.
func (m *Memory) Team(gymID string) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	team, ok := m.teams[gymID]
	return team, ok
}

// SetTeam stores the controlling team for one gym.
// Params: gym id and team id.
// Returns: none.
func (m *Memory) SetTeam(gymID string, team int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teams[gymID] = team
}

// GymInfo returns descriptive info for one gym.
// Params: gym id.
// Returns: stored record, or the unknown record for unseen gyms.
func (m *Memory) GymInfo(gymID string) GymInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.gyms[gymID]
	if !ok {
		return UnknownGymInfo()
	}
	return info
}

// SetGymInfo merges descriptive info for one gym.
// Params: gym id and incoming record.
// Returns: none; unknown fields never overwrite known ones.
func (m *Memory) SetGymInfo(gymID string, info GymInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.gyms[gymID]
	if !ok {
		stored = UnknownGymInfo()
	}
	m.gyms[gymID] = stored.merge(info)
}

// Sweep drops every expiration entry at or past its deadline.
// Params: current time.
// Returns: number of entries dropped.
func (m *Memory) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	dropped := 0
	for _, byID := range m.expirations {
		for id, at := range byID {
			if !at.After(now) {
				delete(byID, id)
				dropped++
			}
		}
	}
	return dropped
}

// Save is a no-op for the volatile backend.
// Params: none.
// Returns: nil.
func (m *Memory) Save() error {
	return nil
}

// Close is a no-op for the volatile backend.
// Params: none.
// Returns: nil.
func (m *Memory) Close() error {
	return nil
}

// snapshot copies the current state for file persistence.
// Params: none.
// Returns: deep-copied snapshot safe to serialize without the lock.
func (m *Memory) snapshot() fileSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := fileSnapshot{
		Expirations: make(map[string]map[string]time.Time, len(m.expirations)),
		Teams:       make(map[string]int64, len(m.teams)),
		Gyms:        make(map[string]GymInfo, len(m.gyms)),
	}
	for kind, byID := range m.expirations {
		copied := make(map[string]time.Time, len(byID))
		for id, at := range byID {
			copied[id] = at
		}
		snap.Expirations[string(kind)] = copied
	}
	for id, team := range m.teams {
		snap.Teams[id] = team
	}
	for id, info := range m.gyms {
		snap.Gyms[id] = info
	}
	return snap
}

// restore replaces the current state from a decoded snapshot.
// Params: decoded snapshot.
// Returns: none.
func (m *Memory) restore(snap fileSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expirations = make(map[domain.Kind]map[string]time.Time, len(snap.Expirations))
	for kind, byID := range snap.Expirations {
		copied := make(map[string]time.Time, len(byID))
		for id, at := range byID {
			copied[id] = at
		}
		m.expirations[domain.Kind(kind)] = copied
	}
	m.teams = make(map[string]int64, len(snap.Teams))
	for id, team := range snap.Teams {
		m.teams[id] = team
	}
	m.gyms = make(map[string]GymInfo, len(snap.Gyms))
	for id, info := range snap.Gyms {
		m.gyms[id] = info
	}
}
