package models

import "time"

// Session groups an ordered sequence of messages under a title.
type Session struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
	Messages    []Message `json:"messages"`
}

// Clone returns a copy that shares no message storage with s.
func (s *Session) Clone() Session {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return out
}

// SessionSummary is the list view of a session.
type SessionSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	LastUpdated  time.Time `json:"last_updated"`
	MessageCount int       `json:"message_count"`
	Current      bool      `json:"current"`
}

// Document is the persisted form of all sessions, keyed by session id.
type Document map[string]*Session
