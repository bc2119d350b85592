// Package remote is the capability the sync engine uses to push queued
// mutations to the backend.
package remote

import (
	"context"
	"errors"
	"fmt"
)

var ErrUnsupportedMethod = errors.New("unsupported method")

// Client performs mutations against the remote backend. Every call returns a
// non-nil error for any non-success outcome.
type Client interface {
	Create(ctx context.Context, path string, payload any) error
	Replace(ctx context.Context, path string, payload any) error
	Delete(ctx context.Context, path string) error
}

// Pinger reports whether the backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}
