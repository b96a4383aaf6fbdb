// Package provider abstracts the mail backend behind a small capability
// interface. The pipeline sees only success or failure on each call,
// never transport details; transient failures are marked so callers can
// retry with backoff.
package provider

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/nhle/email-assistant/internal/model"
)

// MessageRef identifies a message on the provider without its content.
type MessageRef struct {
	ID       string
	ThreadID string
}

// RawMessage is a fetched message before it becomes a stored Email.
type RawMessage struct {
	ID         string
	ThreadID   string
	Subject    string
	Sender     string
	Recipients []string
	Content    string
	Timestamp  time.Time
	Labels     []string
	Read       bool
}

// Provider is the capability interface every mail backend implements.
// All methods are fallible remote calls.
type Provider interface {
	// Type identifies the backend.
	Type() model.ProviderType

	// ListUnread returns references to unread messages received since
	// the given time, up to limit.
	ListUnread(ctx context.Context, since time.Time, limit int) ([]MessageRef, error)

	// FetchBatch retrieves full message content for the given refs.
	// Individual fetch failures are skipped, not fatal; the returned
	// slice may be shorter than refs.
	FetchBatch(ctx context.Context, refs []MessageRef) ([]RawMessage, error)

	// ApplyLabel attaches a label to a message, creating the label on
	// the provider if needed.
	ApplyLabel(ctx context.Context, messageID, label string) error

	// MarkRead flips the message's read state on the provider.
	MarkRead(ctx context.Context, messageID string, read bool) error

	// SendReply sends a reply within the message's thread.
	SendReply(ctx context.Context, messageID, body string) error
}

// TransientError marks a provider failure (network, rate limit) that is
// worth retrying with backoff.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider error in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err (or any error in its chain) is a
// TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// AuthError indicates that authentication has failed or expired.
type AuthError struct {
	Provider model.ProviderType
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Provider, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an
// AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

const (
	retryAttempts  = 3
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 10 * time.Second
)

// WithRetry runs fn, retrying transient failures with exponential
// backoff and jitter. Non-transient errors return immediately.
func WithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= retryAttempts; attempt++ {
		if attempt > 0 {
			backoff := float64(initialBackoff) * math.Pow(2, float64(attempt-1))
			if backoff > float64(maxBackoff) {
				backoff = float64(maxBackoff)
			}
			jitter := backoff * 0.25 * (rand.Float64()*2 - 1)

			timer := time.NewTimer(time.Duration(backoff + jitter))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
