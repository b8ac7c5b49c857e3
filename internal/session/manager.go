package session

import (
	"sync"
	"time"

	"ledgerchat/internal/domain"
)

// maxHistory caps messages kept per session; the oldest are dropped first.
const maxHistory = 50

// Manager holds in-memory conversation state per session. All state lives in
// process memory only and vanishes on restart.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*domain.SessionContext
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*domain.SessionContext)}
}

// History returns a copy of the session's messages, oldest first. An unknown
// session yields an empty history.
func (m *Manager) History(sessionID string) []domain.ChatMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	return append([]domain.ChatMessage(nil), sess.Messages...)
}

// LastEntities returns the entities carried over from the previous turn.
func (m *Manager) LastEntities(sessionID string) domain.ExtractedEntities {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sess, ok := m.sessions[sessionID]; ok {
		return sess.LastEntities
	}
	return domain.ExtractedEntities{}
}

// Append records a message, evicting the oldest once the cap is reached.
func (m *Manager) Append(sessionID string, msg domain.ChatMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.getOrCreate(sessionID)
	sess.Messages = append(sess.Messages, msg)
	if len(sess.Messages) > maxHistory {
		sess.Messages = sess.Messages[len(sess.Messages)-maxHistory:]
	}
}

// RecordClassification stores the turn's classification and the merged
// entities used for follow-up inheritance.
func (m *Manager) RecordClassification(sessionID string, cls domain.QueryClassification, merged domain.ExtractedEntities) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.getOrCreate(sessionID)
	sess.LastClassification = &cls
	sess.LastEntities = merged
}

// Clear atomically drops all state for a session.
func (m *Manager) Clear(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

func (m *Manager) getOrCreate(sessionID string) *domain.SessionContext {
	sess, ok := m.sessions[sessionID]
	if !ok {
		sess = &domain.SessionContext{SessionID: sessionID}
		m.sessions[sessionID] = sess
	}
	return sess
}

// MergeEntities inherits entities from the previous turn: the current turn
// wins wherever it extracted something; empty fields fall back to what the
// conversation already established.
func MergeEntities(current, previous domain.ExtractedEntities) domain.ExtractedEntities {
	merged := current
	if merged.DateRange == nil {
		merged.DateRange = previous.DateRange
	}
	if len(merged.Categories) == 0 {
		merged.Categories = previous.Categories
	}
	if merged.AmountMin == nil && merged.AmountMax == nil {
		merged.AmountMin = previous.AmountMin
		merged.AmountMax = previous.AmountMax
	}
	if len(merged.Vendors) == 0 {
		merged.Vendors = previous.Vendors
	}
	if len(merged.Locations) == 0 {
		merged.Locations = previous.Locations
	}
	if merged.TimePeriod == "" {
		merged.TimePeriod = previous.TimePeriod
	}
	if merged.Direction == "" || merged.Direction == domain.DirectionAll {
		if previous.Direction != "" {
			merged.Direction = previous.Direction
		}
	}
	if merged.ComparisonType == "" {
		merged.ComparisonType = previous.ComparisonType
	}
	if len(merged.Keywords) == 0 {
		merged.Keywords = previous.Keywords
	}
	if merged.Superlative == "" {
		merged.Superlative = previous.Superlative
	}
	return merged
}
