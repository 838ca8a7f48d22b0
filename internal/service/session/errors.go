package session

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrEmptyTitle      = errors.New("title cannot be empty")
	ErrInvalidRole     = errors.New("invalid message role")
	// ErrPersistence wraps backend failures. The in-memory change that
	// preceded the failed write is kept.
	ErrPersistence = errors.New("persist sessions")

	errLoadFailed = errors.New("backend was not read, refusing to overwrite")
)
