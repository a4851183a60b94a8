package models

import "time"

// Session is the orchestrator's view of a user's active window. It is owned
// by the orchestrator for the lifetime of the session's cache entry and
// persisted externally by the ConversationStore.
type Session struct {
	ID               string
	UserID           string
	CreatedAt        time.Time
	LastActivityAt   time.Time
	PinnedContext    string
	Preferences      *Preferences
}

// Preferences holds a user's durable query preferences: source ordering
// overrides and exclusions consulted by the Source Selector (C3).
type Preferences struct {
	PreferredSources []string
	ExcludedSources  []string
	VoiceName        string
	VoiceLanguage    string
}

// NewSession creates a Session with both timestamps set to now.
func NewSession(id, userID string, now time.Time) *Session {
	return &Session{
		ID:             id,
		UserID:         userID,
		CreatedAt:      now,
		LastActivityAt: now,
		Preferences:    &Preferences{},
	}
}

// Touch advances LastActivityAt; called on every request that reads or
// writes through this session's ConversationContext.
func (s *Session) Touch(now time.Time) {
	s.LastActivityAt = now
}

// IdleFor reports how long the session has sat without activity, compared
// against the cache's idle-expiry window (default 30 min, spec §3).
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivityAt)
}
