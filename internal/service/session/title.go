package session

import (
	"context"
	"regexp"
	"strings"
	"time"
)

const (
	defaultTitlePrefix  = "New Session "
	defaultTitleLayout  = "2006-01-02 15:04:05"
	fallbackTitleLayout = "2006-01-02 15:04"
)

var defaultTitlePattern = regexp.MustCompile(`^New Session \d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`)

// Titler summarises the first user message of a session into a title.
type Titler interface {
	Title(ctx context.Context, firstMessage string) (string, error)
}

// DefaultTitle is the placeholder given to sessions created without one.
func DefaultTitle(t time.Time) string {
	return defaultTitlePrefix + t.Format(defaultTitleLayout)
}

// IsDefaultTitle reports whether title is still the creation placeholder.
func IsDefaultTitle(title string) bool {
	return defaultTitlePattern.MatchString(title)
}

// FallbackTitle is used when title generation fails. createdAt should be in
// the zone DefaultTitle was formatted in.
func FallbackTitle(createdAt time.Time) string {
	return "Chat " + createdAt.Format(fallbackTitleLayout)
}

// autoTitle runs outside the store lock. The result is only applied when
// the session still exists and still carries the placeholder.
func (s *Store) autoTitle(ctx context.Context, sessionID, firstMessage string) {
	var title string
	if s.titler != nil {
		generated, err := s.titler.Title(ctx, firstMessage)
		if err != nil {
			s.logger.Warn("title generation failed, using fallback", "session_id", sessionID, "error", err)
		}
		if err == nil {
			title = strings.TrimSpace(generated)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	se, ok := s.sessions[sessionID]
	if !ok || !IsDefaultTitle(se.Title) {
		return
	}
	if title == "" || IsDefaultTitle(title) {
		title = FallbackTitle(se.CreatedAt.In(s.now().Location()))
	}
	se.Title = title
	if err := s.persistLocked(ctx); err != nil {
		s.logger.Warn("persist generated title failed", "session_id", sessionID, "error", err)
	}
}
