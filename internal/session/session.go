// Package session accumulates the profiles produced during one interactive
// session, so a user can scrape companies one by one and export the whole
// batch at the end.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dataharvest/harvester/internal/model"
)

// ErrSessionNotFound reports an unknown or expired session ID.
var ErrSessionNotFound = eris.New("session not found")

type sessionData struct {
	profiles  []model.ExtractedProfile
	createdAt time.Time
	updatedAt time.Time
}

// Manager holds per-session profile logs, guarded by a single mutex. Profiles
// keep insertion order; Snapshot returns a copy so callers never see the live
// slice.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*sessionData
}

// NewManager creates an empty session Manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*sessionData)}
}

// Start creates a new session and returns its ID.
func (m *Manager) Start() string {
	id := uuid.NewString()
	now := time.Now().UTC()

	m.mu.Lock()
	m.sessions[id] = &sessionData{createdAt: now, updatedAt: now}
	m.mu.Unlock()

	zap.L().Info("session started", zap.String("session_id", id))
	return id
}

// Add appends a profile to the session's log.
func (m *Manager) Add(sessionID string, profile model.ExtractedProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return eris.Wrapf(ErrSessionNotFound, "%s", sessionID)
	}
	s.profiles = append(s.profiles, profile)
	s.updatedAt = time.Now().UTC()
	return nil
}

// Count returns the number of profiles logged in the session.
func (m *Manager) Count(sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return 0, eris.Wrapf(ErrSessionNotFound, "%s", sessionID)
	}
	return len(s.profiles), nil
}

// Snapshot returns a copy of the session's profiles in insertion order.
func (m *Manager) Snapshot(sessionID string) ([]model.ExtractedProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, eris.Wrapf(ErrSessionNotFound, "%s", sessionID)
	}
	out := make([]model.ExtractedProfile, len(s.profiles))
	copy(out, s.profiles)
	return out, nil
}

// End removes the session and returns its final profile log.
func (m *Manager) End(sessionID string) ([]model.ExtractedProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, eris.Wrapf(ErrSessionNotFound, "%s", sessionID)
	}
	delete(m.sessions, sessionID)

	zap.L().Info("session ended",
		zap.String("session_id", sessionID),
		zap.Int("profiles", len(s.profiles)),
	)
	return s.profiles, nil
}
