// Package session owns the conversation sessions: the in-memory mapping,
// the current-session pointer, its persistence through a storage.Backend
// and the natural-language command dispatcher that drives it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"codesage/internal/models"
	"codesage/internal/storage"
)

// Store holds every session and keeps exactly one of them current once
// any exists. Mutations update memory first and then rewrite the whole
// mapping through the backend.
type Store struct {
	mu       sync.Mutex
	backend  storage.Backend
	sessions models.Document
	current  string
	// loadErr blocks backend writes after a failed LoadAll.
	loadErr  error

	titler Titler
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

type Option func(*Store)

// WithTitler sets the collaborator used to auto-title new sessions.
func WithTitler(t Titler) Option {
	return func(s *Store) { s.titler = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore returns an empty store; call LoadAll to read the backend.
func NewStore(backend storage.Backend, opts ...Option) *Store {
	s := &Store{
		backend:  backend,
		sessions: make(models.Document),
		logger:   slog.Default(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadAll replaces the in-memory state with the backend's document. A
// missing or corrupt document leaves the store empty without an error; a
// read failure leaves it empty, returns ErrPersistence and blocks writes
// to the backend until a later LoadAll succeeds. The most recently updated
// session becomes current.
func (s *Store) LoadAll(ctx context.Context) error {
	doc, err := s.backend.Load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil || doc == nil {
		doc = make(models.Document)
	}
	s.sessions = doc
	s.current = s.mostRecentLocked()
	s.loadErr = nil

	if err != nil {
		if errors.Is(err, storage.ErrCorrupt) {
			s.logger.Warn("session document is corrupt, starting empty", "error", err)
			return nil
		}
		s.loadErr = err
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	s.logger.Debug("sessions loaded", "count", len(doc), "current", s.current)
	return nil
}

// PersistAll writes the full mapping to the backend.
func (s *Store) PersistAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(ctx)
}

// Create adds an empty session and makes it current. A blank title gets the
// default placeholder. The id is valid even when persisting fails.
func (s *Store) Create(ctx context.Context, title string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.createLocked(title)
	return id, s.persistLocked(ctx)
}

// Load makes id current, refreshes its last_updated and returns a copy of
// its messages.
func (s *Store) Load(ctx context.Context, id string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	se, err := s.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	s.current = id
	se.LastUpdated = s.now().UTC()
	msgs := make([]models.Message, len(se.Messages))
	copy(msgs, se.Messages)
	return msgs, s.persistLocked(ctx)
}

// Rename overwrites the title of id.
func (s *Store) Rename(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	s.mu.Lock()
	defer s.mu.Unlock()
	se, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	if title == "" {
		return ErrEmptyTitle
	}
	se.Title = title
	se.LastUpdated = s.now().UTC()
	return s.persistLocked(ctx)
}

// Delete removes id. Deleting the current session creates a fresh default
// session and makes it current before the lock is released.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.lookupLocked(id); err != nil {
		return err
	}
	delete(s.sessions, id)
	if s.current == id {
		replacement := s.createLocked("")
		s.logger.Info("deleted current session", "session_id", id, "replacement", replacement)
	}
	return s.persistLocked(ctx)
}

// AppendMessage adds a message to sessionID and returns its id. The first
// user message of a session that still carries the default title triggers
// one auto-title step, which never fails the append.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, role models.Role, content string) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	s.mu.Lock()
	se, err := s.lookupLocked(sessionID)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	now := s.now()
	msg := models.Message{
		ID:        s.newID(),
		Role:      role,
		Timestamp: now.Format(models.TimestampLayout),
		Content:   content,
	}
	se.Messages = append(se.Messages, msg)
	se.LastUpdated = now.UTC()
	needsTitle := role == models.RoleUser && countRole(se.Messages, models.RoleUser) == 1 && IsDefaultTitle(se.Title)
	persistErr := s.persistLocked(ctx)
	s.mu.Unlock()

	if needsTitle {
		s.autoTitle(ctx, sessionID, content)
	}
	return msg.ID, persistErr
}

// DeleteMessage removes a single message from sessionID.
func (s *Store) DeleteMessage(ctx context.Context, sessionID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	se, err := s.lookupLocked(sessionID)
	if err != nil {
		return err
	}
	idx := -1
	for i, m := range se.Messages {
		if m.ID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
	se.Messages = append(se.Messages[:idx], se.Messages[idx+1:]...)
	se.LastUpdated = s.now().UTC()
	return s.persistLocked(ctx)
}

// Clear empties the message list of sessionID.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	se, err := s.lookupLocked(sessionID)
	if err != nil {
		return err
	}
	se.Messages = []models.Message{}
	se.LastUpdated = s.now().UTC()
	return s.persistLocked(ctx)
}

// List returns session summaries, most recently updated first.
func (s *Store) List() []models.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SessionSummary, 0, len(s.sessions))
	for _, se := range s.sessions {
		out = append(out, models.SessionSummary{
			ID:           se.ID,
			Title:        se.Title,
			CreatedAt:    se.CreatedAt,
			LastUpdated:  se.LastUpdated,
			MessageCount: len(se.Messages),
			Current:      se.ID == s.current,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.LastUpdated.Equal(b.LastUpdated) {
			return a.LastUpdated.After(b.LastUpdated)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

// Get returns a copy of the session.
func (s *Store) Get(id string) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	se, err := s.lookupLocked(id)
	if err != nil {
		return models.Session{}, err
	}
	return se.Clone(), nil
}

// Message returns a single stored message.
func (s *Store) Message(sessionID, messageID string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	se, err := s.lookupLocked(sessionID)
	if err != nil {
		return models.Message{}, err
	}
	for _, m := range se.Messages {
		if m.ID == messageID {
			return m, nil
		}
	}
	return models.Message{}, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
}

// Len returns the number of sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Current returns the current session id, if any.
func (s *Store) Current() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.current != ""
}

// EnsureCurrent returns the current session id, creating a default session
// when the store is empty.
func (s *Store) EnsureCurrent(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != "" {
		return s.current, nil
	}
	if id := s.mostRecentLocked(); id != "" {
		s.current = id
		return id, nil
	}
	id := s.createLocked("")
	return id, s.persistLocked(ctx)
}

func (s *Store) createLocked(title string) string {
	now := s.now()
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle(now)
	}
	id := s.newID()
	s.sessions[id] = &models.Session{
		ID:          id,
		Title:       title,
		CreatedAt:   now.UTC(),
		LastUpdated: now.UTC(),
		Messages:    []models.Message{},
	}
	s.current = id
	return id
}

func (s *Store) lookupLocked(id string) (*models.Session, error) {
	se, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return se, nil
}

func (s *Store) mostRecentLocked() string {
	var best *models.Session
	for _, se := range s.sessions {
		if best == nil || se.LastUpdated.After(best.LastUpdated) ||
			(se.LastUpdated.Equal(best.LastUpdated) && se.ID < best.ID) {
			best = se
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

func (s *Store) persistLocked(ctx context.Context) error {
	if s.loadErr != nil {
		return fmt.Errorf("%w: %w: %w", ErrPersistence, errLoadFailed, s.loadErr)
	}
	if err := s.backend.Save(ctx, s.sessions); err != nil {
		s.logger.Error("persist sessions failed", "error", err)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

func countRole(msgs []models.Message, role models.Role) int {
	n := 0
	for _, m := range msgs {
		if m.Role == role {
			n++
		}
	}
	return n
}
