package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codesage/internal/models"
	"codesage/internal/storage"
)

// memoryBackend keeps the last saved document and can be told to fail.
type memoryBackend struct {
	mu      sync.Mutex
	doc     models.Document
	loadErr error
	saveErr error
	saves   int
}

func (m *memoryBackend) Load(context.Context) (models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return make(models.Document), m.loadErr
	}
	out := make(models.Document, len(m.doc))
	for id, se := range m.doc {
		c := se.Clone()
		out[id] = &c
	}
	return out, nil
}

func (m *memoryBackend) Save(_ context.Context, doc models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.doc = make(models.Document, len(doc))
	for id, se := range doc {
		c := se.Clone()
		m.doc[id] = &c
	}
	return nil
}

func (m *memoryBackend) Close() error { return nil }

func (m *memoryBackend) failSaves(err error) {
	m.mu.Lock()
	m.saveErr = err
	m.mu.Unlock()
}

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2026, 10, 19, 14, 5, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type titlerFunc func(ctx context.Context, text string) (string, error)

func (f titlerFunc) Title(ctx context.Context, text string) (string, error) { return f(ctx, text) }

func newTestStore(t *testing.T, backend storage.Backend, opts ...Option) *Store {
	t.Helper()
	clock := newStepClock()
	seq := 0
	s := NewStore(backend, append([]Option{WithClock(clock.Now)}, opts...)...)
	s.newID = func() string {
		seq++
		return fmt.Sprintf("id-%03d", seq)
	}
	return s
}

func TestCreateMakesSessionCurrent(t *testing.T) {
	backend := &memoryBackend{}
	s := newTestStore(t, backend)
	ctx := context.Background()

	id, err := s.Create(ctx, "")
	require.NoError(t, err)

	cur, ok := s.Current()
	assert.True(t, ok)
	assert.Equal(t, id, cur)

	se, err := s.Get(id)
	require.NoError(t, err)
	assert.True(t, IsDefaultTitle(se.Title), "unexpected title %q", se.Title)
	assert.Empty(t, se.Messages)
	assert.Equal(t, se.CreatedAt, se.LastUpdated)
	assert.Contains(t, backend.doc, id)

	named, err := s.Create(ctx, "  Demo  ")
	require.NoError(t, err)
	se, err = s.Get(named)
	require.NoError(t, err)
	assert.Equal(t, "Demo", se.Title)
	cur, _ = s.Current()
	assert.Equal(t, named, cur)
}

func TestLoadSwitchesCurrentAndTouches(t *testing.T) {
	s := newTestStore(t, &memoryBackend{})
	ctx := context.Background()

	first, err := s.Create(ctx, "first")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, first, models.RoleAssistant, "hello")
	require.NoError(t, err)
	_, err = s.Create(ctx, "second")
	require.NoError(t, err)

	before, _ := s.Get(first)
	msgs, err := s.Load(ctx, first)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)

	cur, _ := s.Current()
	assert.Equal(t, first, cur)
	after, _ := s.Get(first)
	assert.True(t, after.LastUpdated.After(before.LastUpdated))

	_, err = s.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	cur, _ = s.Current()
	assert.Equal(t, first, cur)
}

func TestRename(t *testing.T) {
	s := newTestStore(t, &memoryBackend{})
	ctx := context.Background()
	id, err := s.Create(ctx, "")
	require.NoError(t, err)

	require.NoError(t, s.Rename(ctx, id, "Sorting"))
	se, _ := s.Get(id)
	assert.Equal(t, "Sorting", se.Title)

	assert.ErrorIs(t, s.Rename(ctx, id, "   "), ErrEmptyTitle)
	assert.ErrorIs(t, s.Rename(ctx, "missing", "x"), ErrSessionNotFound)
}

func TestDeleteOnlySessionLeavesFreshCurrent(t *testing.T) {
	s := newTestStore(t, &memoryBackend{})
	ctx := context.Background()
	id, err := s.Create(ctx, "only")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, id))

	list := s.List()
	require.Len(t, list, 1)
	assert.NotEqual(t, id, list[0].ID)
	assert.True(t, list[0].Current)
	assert.True(t, IsDefaultTitle(list[0].Title))
	assert.Zero(t, list[0].MessageCount)

	_, err = s.Get(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDeleteOtherSessionKeepsCurrent(t *testing.T) {
	s := newTestStore(t, &memoryBackend{})
	ctx := context.Background()
	other, _ := s.Create(ctx, "other")
	cur, _ := s.Create(ctx, "current")

	require.NoError(t, s.Delete(ctx, other))
	got, ok := s.Current()
	assert.True(t, ok)
	assert.Equal(t, cur, got)
	assert.Equal(t, 1, s.Len())
	assert.ErrorIs(t, s.Delete(ctx, other), ErrSessionNotFound)
}

func TestAppendAndDeleteMessage(t *testing.T) {
	s := newTestStore(t, &memoryBackend{})
	ctx := context.Background()
	id, _ := s.Create(ctx, "chat")

	first, err := s.AppendMessage(ctx, id, models.RoleUser, "one")
	require.NoError(t, err)
	second, err := s.AppendMessage(ctx, id, models.RoleAssistant, "two")
	require.NoError(t, err)
	third, err := s.AppendMessage(ctx, id, models.RoleUser, "three")
	require.NoError(t, err)

	se, _ := s.Get(id)
	require.Len(t, se.Messages, 3)
	_, err = time.Parse(models.TimestampLayout, se.Messages[0].Timestamp)
	assert.NoError(t, err, "timestamp %q", se.Messages[0].Timestamp)

	require.NoError(t, s.DeleteMessage(ctx, id, second))
	se, _ = s.Get(id)
	require.Len(t, se.Messages, 2)
	assert.Equal(t, first, se.Messages[0].ID)
	assert.Equal(t, third, se.Messages[1].ID)

	assert.ErrorIs(t, s.DeleteMessage(ctx, id, second), ErrMessageNotFound)
	assert.ErrorIs(t, s.DeleteMessage(ctx, "missing", first), ErrSessionNotFound)

	_, err = s.AppendMessage(ctx, id, models.Role("system"), "x")
	assert.ErrorIs(t, err, ErrInvalidRole)
	_, err = s.AppendMessage(ctx, "missing", models.RoleUser, "x")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestClearKeepsSession(t *testing.T) {
	s := newTestStore(t, &memoryBackend{})
	ctx := context.Background()
	id, _ := s.Create(ctx, "chat")
	_, _ = s.AppendMessage(ctx, id, models.RoleUser, "one")

	require.NoError(t, s.Clear(ctx, id))
	se, err := s.Get(id)
	require.NoError(t, err)
	assert.Empty(t, se.Messages)
	assert.Equal(t, "chat", se.Title)
	assert.ErrorIs(t, s.Clear(ctx, "missing"), ErrSessionNotFound)
}

func TestListOrdering(t *testing.T) {
	base := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	backend := &memoryBackend{doc: models.Document{
		"b": {ID: "b", Title: "b", CreatedAt: base, LastUpdated: base.Add(time.Hour), Messages: []models.Message{}},
		"a": {ID: "a", Title: "a", CreatedAt: base, LastUpdated: base.Add(time.Hour), Messages: []models.Message{}},
		"c": {ID: "c", Title: "c", CreatedAt: base.Add(time.Minute), LastUpdated: base.Add(time.Hour), Messages: []models.Message{}},
		"d": {ID: "d", Title: "d", CreatedAt: base, LastUpdated: base.Add(2 * time.Hour), Messages: []models.Message{}},
		"e": {ID: "e", Title: "e", CreatedAt: base, LastUpdated: base, Messages: []models.Message{}},
	}}
	s := newTestStore(t, backend)
	require.NoError(t, s.LoadAll(context.Background()))

	var ids []string
	for _, sum := range s.List() {
		ids = append(ids, sum.ID)
	}
	assert.Equal(t, []string{"d", "c", "a", "b", "e"}, ids)

	cur, ok := s.Current()
	assert.True(t, ok)
	assert.Equal(t, "d", cur, "most recently updated session becomes current")
}

func TestLoadAllCorruptDocumentStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s := newTestStore(t, storage.NewFileBackend(path))
	require.NoError(t, s.LoadAll(context.Background()))
	assert.Empty(t, s.List())
	_, ok := s.Current()
	assert.False(t, ok)
}

func TestLoadAllReadFailure(t *testing.T) {
	s := newTestStore(t, &memoryBackend{loadErr: errors.New("disk unplugged")})
	err := s.LoadAll(context.Background())
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Empty(t, s.List())
}

func TestLoadAllReadFailureKeepsStoredSessions(t *testing.T) {
	created := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	backend := &memoryBackend{
		doc: models.Document{
			"a": {ID: "a", Title: "first", CreatedAt: created, LastUpdated: created, Messages: []models.Message{}},
			"b": {ID: "b", Title: "second", CreatedAt: created, LastUpdated: created, Messages: []models.Message{}},
		},
		loadErr: errors.New("connection refused"),
	}
	s := newTestStore(t, backend)
	ctx := context.Background()
	require.ErrorIs(t, s.LoadAll(ctx), ErrPersistence)

	id, err := s.Create(ctx, "scratch")
	assert.ErrorIs(t, err, ErrPersistence)
	assert.NotEmpty(t, id)
	_, err = s.Get(id)
	assert.NoError(t, err)
	assert.Zero(t, backend.saves)
	assert.Len(t, backend.doc, 2)

	backend.mu.Lock()
	backend.loadErr = nil
	backend.mu.Unlock()
	require.NoError(t, s.LoadAll(ctx))
	assert.Len(t, s.List(), 2)
	_, err = s.Create(ctx, "after recovery")
	require.NoError(t, err)
	assert.Len(t, backend.doc, 3)
}

func TestPersistAllRoundTripThroughFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	ctx := context.Background()

	s := newTestStore(t, storage.NewFileBackend(path))
	id, err := s.Create(ctx, "kept")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, id, models.RoleAssistant, "```go\nfmt.Println(1)\n```")
	require.NoError(t, err)
	require.NoError(t, s.PersistAll(ctx))

	reloaded := newTestStore(t, storage.NewFileBackend(path))
	require.NoError(t, reloaded.LoadAll(ctx))
	se, err := reloaded.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "kept", se.Title)
	require.Len(t, se.Messages, 1)
	assert.Equal(t, models.RoleAssistant, se.Messages[0].Role)
}

func TestPersistenceFailureKeepsMemoryState(t *testing.T) {
	backend := &memoryBackend{}
	s := newTestStore(t, backend)
	ctx := context.Background()
	id, err := s.Create(ctx, "before")
	require.NoError(t, err)

	backend.failSaves(errors.New("read-only filesystem"))

	err = s.Rename(ctx, id, "after")
	assert.ErrorIs(t, err, ErrPersistence)
	se, _ := s.Get(id)
	assert.Equal(t, "after", se.Title)

	newID, err := s.Create(ctx, "unsaved")
	assert.ErrorIs(t, err, ErrPersistence)
	assert.NotEmpty(t, newID)
	cur, _ := s.Current()
	assert.Equal(t, newID, cur)

	msgID, err := s.AppendMessage(ctx, id, models.RoleAssistant, "still here")
	assert.ErrorIs(t, err, ErrPersistence)
	assert.NotEmpty(t, msgID)
	se, _ = s.Get(id)
	assert.Len(t, se.Messages, 1)

	assert.Equal(t, "before", backend.doc[id].Title)
}

func TestEnsureCurrent(t *testing.T) {
	s := newTestStore(t, &memoryBackend{})
	ctx := context.Background()

	id, err := s.EnsureCurrent(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, s.Len())

	again, err := s.EnsureCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, s.Len())
}

func TestAutoTitleRunsOnce(t *testing.T) {
	var calls int
	titler := titlerFunc(func(ctx context.Context, text string) (string, error) {
		calls++
		return "Reverse a string", nil
	})
	s := newTestStore(t, &memoryBackend{}, WithTitler(titler))
	ctx := context.Background()
	id, _ := s.Create(ctx, "")

	_, err := s.AppendMessage(ctx, id, models.RoleUser, "write a python function to reverse a string")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, id, models.RoleAssistant, "sure")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, id, models.RoleUser, "now in go")
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	se, _ := s.Get(id)
	assert.Equal(t, "Reverse a string", se.Title)
}

func TestAutoTitleSkipsNamedSessions(t *testing.T) {
	var calls int
	titler := titlerFunc(func(ctx context.Context, text string) (string, error) {
		calls++
		return "ignored", nil
	})
	s := newTestStore(t, &memoryBackend{}, WithTitler(titler))
	ctx := context.Background()
	id, _ := s.Create(ctx, "Demo")

	_, err := s.AppendMessage(ctx, id, models.RoleUser, "hello")
	require.NoError(t, err)
	assert.Zero(t, calls)
	se, _ := s.Get(id)
	assert.Equal(t, "Demo", se.Title)
}

func TestAutoTitleFallsBackOnFailure(t *testing.T) {
	titler := titlerFunc(func(ctx context.Context, text string) (string, error) {
		return "", errors.New("model unavailable")
	})
	s := newTestStore(t, &memoryBackend{}, WithTitler(titler))
	ctx := context.Background()
	id, _ := s.Create(ctx, "")

	_, err := s.AppendMessage(ctx, id, models.RoleUser, "hello")
	require.NoError(t, err)

	se, _ := s.Get(id)
	assert.Equal(t, FallbackTitle(se.CreatedAt), se.Title)
	assert.False(t, IsDefaultTitle(se.Title))
}

func TestFallbackTitleUsesClockZone(t *testing.T) {
	zone := time.FixedZone("UTC+5", 5*60*60)
	at := time.Date(2026, 10, 19, 10, 0, 0, 0, zone)
	s := newTestStore(t, &memoryBackend{}, WithClock(func() time.Time { return at }))
	ctx := context.Background()
	id, _ := s.Create(ctx, "")

	se, _ := s.Get(id)
	assert.Equal(t, "New Session 2026-10-19 10:00:00", se.Title)
	_, err := s.AppendMessage(ctx, id, models.RoleUser, "hello")
	require.NoError(t, err)
	se, _ = s.Get(id)
	assert.Equal(t, "Chat 2026-10-19 10:00", se.Title)
}

func TestAutoTitleWithoutTitlerUsesFallback(t *testing.T) {
	s := newTestStore(t, &memoryBackend{})
	ctx := context.Background()
	id, _ := s.Create(ctx, "")
	_, err := s.AppendMessage(ctx, id, models.RoleUser, "hello")
	require.NoError(t, err)
	se, _ := s.Get(id)
	assert.Equal(t, FallbackTitle(se.CreatedAt), se.Title)
}

func TestTitleHelpers(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, "New Session 2026-03-04 05:06:07", DefaultTitle(ts))
	assert.True(t, IsDefaultTitle(DefaultTitle(ts)))
	assert.False(t, IsDefaultTitle("New Session"))
	assert.False(t, IsDefaultTitle("New Session 2026-03-04 05:06:07 copy"))
	assert.Equal(t, "Chat 2026-03-04 05:06", FallbackTitle(ts))
}

func TestConcurrentAppends(t *testing.T) {
	s := newTestStore(t, &memoryBackend{})
	ctx := context.Background()
	id, _ := s.Create(ctx, "busy")

	var mu sync.Mutex
	ids := map[string]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msgID, err := s.AppendMessage(ctx, id, models.RoleAssistant, fmt.Sprintf("m%d", i))
			assert.NoError(t, err)
			mu.Lock()
			ids[msgID] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	se, _ := s.Get(id)
	assert.Len(t, se.Messages, 20)
	assert.Len(t, ids, 20)
}
