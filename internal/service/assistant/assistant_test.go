package assistant

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codesage/internal/classifier"
	"codesage/internal/models"
	"codesage/internal/service/ai"
	"codesage/internal/service/session"
	"codesage/internal/storage"
)

func newTestService(t *testing.T, gen ai.Generator) (*Service, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.json")
	store := session.NewStore(storage.NewFileBackend(path))
	if err := store.LoadAll(context.Background()); err != nil {
		t.Fatalf("load store: %v", err)
	}
	return NewService(store, gen, Options{GenerationTimeout: time.Second}), path
}

func TestSubmitCodeRequest(t *testing.T) {
	var got ai.Request
	gen := ai.GeneratorFunc(func(ctx context.Context, req ai.Request) (string, error) {
		got = req
		return "Here you go:\n```python\ndef rev(s):\n    return s[::-1]\n```\n", nil
	})
	svc, _ := newTestService(t, gen)

	var acked *models.Message
	reply, err := svc.Submit(context.Background(), "write a python function to reverse a string", func(m models.Message) {
		acked = &m
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if acked == nil || acked.Role != models.RoleUser {
		t.Fatalf("expected user ack, got %+v", acked)
	}
	if reply.User == nil || reply.User.ID != acked.ID {
		t.Fatalf("ack and reply disagree: %+v vs %+v", reply.User, acked)
	}
	if got.SystemPreamble != codeSystemPreamble || !strings.Contains(got.Prompt, "reverse a string") {
		t.Fatalf("unexpected generation request %+v", got)
	}
	if reply.Refused {
		t.Fatalf("code request should not be refused")
	}
	if len(reply.Segments) != 3 || !reply.Segments[1].IsCode || reply.Segments[1].Language != "python" {
		t.Fatalf("unexpected segments %+v", reply.Segments)
	}
	if len(reply.Warnings) != 0 {
		t.Fatalf("unexpected warnings %v", reply.Warnings)
	}

	se, err := svc.Store().Get(reply.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(se.Messages) != 2 || se.Messages[1].Role != models.RoleAssistant {
		t.Fatalf("expected both turns stored, got %+v", se.Messages)
	}
	if session.IsDefaultTitle(se.Title) {
		t.Fatalf("first user message should replace the placeholder title")
	}
}

func TestSubmitRefusesExplanations(t *testing.T) {
	called := false
	gen := ai.GeneratorFunc(func(ctx context.Context, req ai.Request) (string, error) {
		called = true
		return "", nil
	})
	svc, _ := newTestService(t, gen)

	reply, err := svc.Submit(context.Background(), "explain the difference between lists and tuples", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if called {
		t.Fatalf("generator must not run for explanatory questions")
	}
	if !reply.Refused || reply.Assistant == nil || reply.Assistant.Content != classifier.RefusalMessage {
		t.Fatalf("expected refusal, got %+v", reply)
	}
}

func TestSubmitKeepsTurnOnGenerationFailure(t *testing.T) {
	gen := ai.GeneratorFunc(func(ctx context.Context, req ai.Request) (string, error) {
		return "", &ai.GenerationError{Provider: "fake", Err: errors.New("quota exceeded")}
	})
	svc, _ := newTestService(t, gen)

	reply, err := svc.Submit(context.Background(), "write a go function that sums a slice", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if reply.Assistant == nil || !strings.HasPrefix(reply.Assistant.Content, generationErrorPrefix) {
		t.Fatalf("expected inline generation error, got %+v", reply.Assistant)
	}
	if !strings.Contains(reply.Assistant.Content, "quota exceeded") {
		t.Fatalf("cause missing from %q", reply.Assistant.Content)
	}
}

func TestSubmitWithoutGenerator(t *testing.T) {
	svc, _ := newTestService(t, nil)
	reply, err := svc.Submit(context.Background(), "write a python script to parse csv", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.HasPrefix(reply.Assistant.Content, generationErrorPrefix) {
		t.Fatalf("expected inline error, got %q", reply.Assistant.Content)
	}
}

func TestSubmitSessionCommand(t *testing.T) {
	gen := ai.GeneratorFunc(func(ctx context.Context, req ai.Request) (string, error) {
		t.Fatalf("generator must not run for commands")
		return "", nil
	})
	svc, _ := newTestService(t, gen)
	ctx := context.Background()

	reply, err := svc.Submit(ctx, "create a new session called Demo", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if reply.Command == nil || reply.Command.Action != session.ActionCreate || reply.User != nil {
		t.Fatalf("expected create command reply, got %+v", reply)
	}

	reply, err = svc.Submit(ctx, "show my sessions", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(reply.Sessions) != 1 || reply.Sessions[0].Title != "Demo" || !reply.Sessions[0].Current {
		t.Fatalf("unexpected sessions %+v", reply.Sessions)
	}
}

func TestSubmitRejectsBlankInput(t *testing.T) {
	svc, _ := newTestService(t, nil)
	if _, err := svc.Submit(context.Background(), "  \n ", nil); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	if len(svc.Sessions()) != 0 {
		t.Fatalf("blank input must not create a session")
	}
}

func TestSubmitCollectsPersistenceWarnings(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	// The parent of the document is a regular file, so every save fails.
	store := session.NewStore(storage.NewFileBackend(filepath.Join(blocker, "sessions.json")))
	svc := NewService(store, ai.GeneratorFunc(func(ctx context.Context, req ai.Request) (string, error) {
		return "```go\nfunc main() {}\n```", nil
	}), Options{})

	reply, err := svc.Submit(context.Background(), "write a go program", nil)
	if err != nil {
		t.Fatalf("persistence failures must not fail the turn: %v", err)
	}
	if len(reply.Warnings) == 0 {
		t.Fatalf("expected persistence warnings")
	}
	se, err := store.Get(reply.SessionID)
	if err != nil || len(se.Messages) != 2 {
		t.Fatalf("turn must stay in memory, got %+v %v", se, err)
	}
}
