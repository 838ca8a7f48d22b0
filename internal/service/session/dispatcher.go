package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Action names the session command a message was recognised as.
type Action string

const (
	ActionNone         Action = ""
	ActionShowSessions Action = "show_sessions"
	ActionCreate       Action = "create"
	ActionRename       Action = "rename"
	ActionDelete       Action = "delete"
	ActionClear        Action = "clear"
)

// Outcome describes what Dispatch did with a message. Handled stays true
// when the command ran but persisting its result failed; Err carries the
// failure in that case.
type Outcome struct {
	Handled   bool   `json:"handled"`
	Action    Action `json:"action,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Title     string `json:"title,omitempty"`
	Notice    string `json:"notice,omitempty"`
	Err       error  `json:"-"`
}

const titleQuotes = "\"'`“”‘’"

type rule struct {
	action  Action
	pattern *regexp.Regexp
	apply   func(d *Dispatcher, ctx context.Context, match []string) Outcome
}

// Rules are evaluated in order; the first match wins.
var rules = []rule{
	{
		action:  ActionShowSessions,
		pattern: regexp.MustCompile(`(?i)^(?:show|list)\s+(?:my\s+)?(?:(?:previous|all)\s+)?(?:sessions|chats)\s*[.!?]?$`),
		apply:   (*Dispatcher).showSessions,
	},
	{
		action:  ActionCreate,
		pattern: regexp.MustCompile(`(?i)^(?:create|start)\s+(?:a\s+)?(?:new\s+)?session(?:\s+(?:called|named|titled):?)?\s+(.+)$`),
		apply:   (*Dispatcher).createSession,
	},
	{
		action:  ActionCreate,
		pattern: regexp.MustCompile(`(?i)^(?:create|start)\s+(?:a\s+)?(?:new\s+)?session\s*[.!]?$`),
		apply:   (*Dispatcher).createSession,
	},
	{
		action:  ActionRename,
		pattern: regexp.MustCompile(`(?i)^rename\s+(?:this|current|the\s+current)\s+(?:session|chat)(?:\s+(?:to|as))?(?:\s+(.*))?$`),
		apply:   (*Dispatcher).renameCurrent,
	},
	{
		action:  ActionDelete,
		pattern: regexp.MustCompile(`(?i)^delete\s+(?:this|current|the\s+current)\s+(?:session|chat)\s*[.!]?$`),
		apply:   (*Dispatcher).deleteCurrent,
	},
	{
		action:  ActionClear,
		pattern: regexp.MustCompile(`(?i)^clear\s+(?:this|current|the)\s+(?:session|chat\s+history|chat|history)\s*[.!]?$`),
		apply:   (*Dispatcher).clearCurrent,
	},
}

// Dispatcher recognises session-management commands written in natural
// language and executes them against a Store.
type Dispatcher struct {
	store *Store
}

func NewDispatcher(store *Store) *Dispatcher {
	return &Dispatcher{store: store}
}

// Dispatch runs text as a command if it matches one. Unmatched text returns
// an unhandled Outcome and leaves the store untouched.
func (d *Dispatcher) Dispatch(ctx context.Context, text string) Outcome {
	text = strings.TrimSpace(text)
	if text == "" {
		return Outcome{}
	}
	for _, r := range rules {
		match := r.pattern.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		out := r.apply(d, ctx, match)
		out.Handled = true
		out.Action = r.action
		if out.Err != nil {
			d.store.logger.Warn("session command not persisted", "action", r.action, "error", out.Err)
		}
		return out
	}
	return Outcome{}
}

// TryDispatch reports whether text was consumed as a session command.
func (d *Dispatcher) TryDispatch(ctx context.Context, text string) bool {
	return d.Dispatch(ctx, text).Handled
}

func (d *Dispatcher) showSessions(_ context.Context, _ []string) Outcome {
	n := d.store.Len()
	out := Outcome{Notice: "You have no saved sessions."}
	if n > 0 {
		out.Notice = fmt.Sprintf("You have %d saved session(s).", n)
	}
	if id, ok := d.store.Current(); ok {
		out.SessionID = id
	}
	return out
}

func (d *Dispatcher) createSession(ctx context.Context, match []string) Outcome {
	var title string
	if len(match) > 1 {
		title = cleanCommandTitle(match[1])
	}
	switch strings.TrimSuffix(strings.ToLower(title), ":") {
	case "called", "named", "titled":
		title = ""
	}
	id, err := d.store.Create(ctx, title)
	out := Outcome{SessionID: id, Err: err}
	if se, getErr := d.store.Get(id); getErr == nil {
		out.Title = se.Title
	}
	out.Notice = withSaveWarning(fmt.Sprintf("Created session %q.", out.Title), err)
	return out
}

func (d *Dispatcher) renameCurrent(ctx context.Context, match []string) Outcome {
	id, ok := d.store.Current()
	if !ok {
		return Outcome{Notice: "There is no current session to rename."}
	}
	title := cleanCommandTitle(match[1])
	if title == "" {
		return Outcome{SessionID: id, Notice: "Please give the session a new title."}
	}
	err := d.store.Rename(ctx, id, title)
	if err != nil && !errors.Is(err, ErrPersistence) {
		return Outcome{SessionID: id, Notice: "The session could not be renamed.", Err: err}
	}
	return Outcome{
		SessionID: id,
		Title:     title,
		Notice:    withSaveWarning(fmt.Sprintf("Renamed session to %q.", title), err),
		Err:       err,
	}
}

func (d *Dispatcher) deleteCurrent(ctx context.Context, _ []string) Outcome {
	id, ok := d.store.Current()
	if !ok {
		return Outcome{Notice: "There is no current session to delete."}
	}
	var title string
	if se, err := d.store.Get(id); err == nil {
		title = se.Title
	}
	err := d.store.Delete(ctx, id)
	if err != nil && !errors.Is(err, ErrPersistence) {
		return Outcome{SessionID: id, Notice: "The session could not be deleted.", Err: err}
	}
	out := Outcome{Err: err}
	out.SessionID, _ = d.store.Current()
	if se, getErr := d.store.Get(out.SessionID); getErr == nil {
		out.Title = se.Title
	}
	out.Notice = withSaveWarning(fmt.Sprintf("Deleted session %q and started a new one.", title), err)
	return out
}

func (d *Dispatcher) clearCurrent(ctx context.Context, _ []string) Outcome {
	id, ok := d.store.Current()
	if !ok {
		return Outcome{Notice: "There is no current session to clear."}
	}
	err := d.store.Clear(ctx, id)
	if err != nil && !errors.Is(err, ErrPersistence) {
		return Outcome{SessionID: id, Notice: "The session could not be cleared.", Err: err}
	}
	return Outcome{
		SessionID: id,
		Notice:    withSaveWarning("Cleared the conversation history.", err),
		Err:       err,
	}
}

func cleanCommandTitle(raw string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), titleQuotes))
}

func withSaveWarning(notice string, err error) string {
	if err == nil {
		return notice
	}
	return notice + " Changes could not be saved."
}
