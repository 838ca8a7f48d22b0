// Package assistant runs one conversational turn: session commands first,
// then classification, generation and persistence of both sides of the
// exchange.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"codesage/internal/blocks"
	"codesage/internal/classifier"
	"codesage/internal/models"
	"codesage/internal/service/ai"
	"codesage/internal/service/session"
)

var (
	ErrEmptyInput = errors.New("message cannot be empty")

	errNoGenerator = errors.New("no generation provider configured")
)

const (
	codeSystemPreamble = "You are an expert programmer."
	codePromptTemplate = "Generate clean, optimized, and working code for the following request:\n\n%s\n\n" +
		"Think step by step, then provide the complete and correct implementation. " +
		"Put all code in proper markdown code blocks with appropriate language tags. " +
		"Include helpful comments to explain complex parts."
	generationErrorPrefix = "Error generating code: "
)

// Reply is the result of one Submit call. Command is set when the input
// was a session command; otherwise User and Assistant hold the stored turn.
type Reply struct {
	SessionID string                  `json:"session_id"`
	Command   *session.Outcome        `json:"command,omitempty"`
	Sessions  []models.SessionSummary `json:"sessions,omitempty"`
	User      *models.Message         `json:"user,omitempty"`
	Assistant *models.Message         `json:"assistant,omitempty"`
	Segments  []blocks.Segment        `json:"segments,omitempty"`
	Refused   bool                    `json:"refused,omitempty"`
	Warnings  []string                `json:"warnings,omitempty"`
}

type Options struct {
	Classifier        *classifier.Classifier
	Logger            *slog.Logger
	GenerationTimeout time.Duration
	GenerationParams  ai.Params
}

type Service struct {
	store      *session.Store
	dispatcher *session.Dispatcher
	classifier *classifier.Classifier
	generator  ai.Generator
	params     ai.Params
	timeout    time.Duration
	logger     *slog.Logger
}

// NewService wires the store and generator. A nil generator makes every
// code request end in an inline generation error.
func NewService(store *session.Store, generator ai.Generator, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      store,
		dispatcher: session.NewDispatcher(store),
		classifier: opts.Classifier,
		generator:  generator,
		params:     opts.GenerationParams,
		timeout:    opts.GenerationTimeout,
		logger:     logger,
	}
}

func (s *Service) Store() *session.Store {
	return s.store
}

// Submit handles one line of user input. ack, when non-nil, receives the
// stored user message before generation starts.
func (s *Service) Submit(ctx context.Context, text string, ack func(models.Message)) (*Reply, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	if out := s.dispatcher.Dispatch(ctx, text); out.Handled {
		reply := &Reply{SessionID: out.SessionID, Command: &out}
		if out.Err != nil {
			reply.Warnings = append(reply.Warnings, out.Err.Error())
		}
		if out.Action == session.ActionShowSessions {
			reply.Sessions = s.Sessions()
		}
		return reply, nil
	}

	reply := &Reply{}
	sessionID, err := s.store.EnsureCurrent(ctx)
	if err = s.collect(reply, err); err != nil {
		return nil, err
	}
	reply.SessionID = sessionID

	userID, err := s.store.AppendMessage(ctx, sessionID, models.RoleUser, text)
	if err = s.collect(reply, err); err != nil {
		return nil, err
	}
	userMsg, err := s.store.Message(sessionID, userID)
	if err != nil {
		return nil, err
	}
	reply.User = &userMsg
	if ack != nil {
		ack(userMsg)
	}

	content := s.respond(ctx, text, reply)

	assistantID, err := s.store.AppendMessage(ctx, sessionID, models.RoleAssistant, content)
	if err = s.collect(reply, err); err != nil {
		return nil, err
	}
	assistantMsg, err := s.store.Message(sessionID, assistantID)
	if err != nil {
		return nil, err
	}
	reply.Assistant = &assistantMsg
	reply.Segments = blocks.Split(assistantMsg.Content)
	return reply, nil
}

// Sessions exposes the current session listing.
func (s *Service) Sessions() []models.SessionSummary {
	return s.store.List()
}

func (s *Service) respond(ctx context.Context, text string, reply *Reply) string {
	if !s.isCodeRequest(text) {
		reply.Refused = true
		return classifier.RefusalMessage
	}
	out, err := s.generate(ctx, text)
	if err != nil {
		s.logger.Warn("code generation failed", "session_id", reply.SessionID, "error", err)
		return generationErrorPrefix + err.Error()
	}
	return out
}

func (s *Service) generate(ctx context.Context, text string) (string, error) {
	if s.generator == nil {
		return "", errNoGenerator
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	out, err := s.generator.Generate(ctx, ai.Request{
		Prompt:         fmt.Sprintf(codePromptTemplate, text),
		SystemPreamble: codeSystemPreamble,
		Params:         s.params,
	})
	if err != nil {
		return "", err
	}
	s.logger.Debug("code generated", "elapsed", time.Since(start), "bytes", len(out))
	return out, nil
}

func (s *Service) isCodeRequest(text string) bool {
	if s.classifier != nil {
		return s.classifier.LooksLikeCodeRequest(text)
	}
	return classifier.LooksLikeCodeRequest(text)
}

// collect records persistence failures as warnings and passes every other
// error through.
func (s *Service) collect(reply *Reply, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, session.ErrPersistence) {
		reply.Warnings = append(reply.Warnings, err.Error())
		return nil
	}
	return err
}
