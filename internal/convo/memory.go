// Package convo keeps the sliding-window conversation history used to
// resolve follow-up references in assistant queries.
package convo

import (
	"sync"
	"time"

	"github.com/nhle/email-assistant/internal/model"
)

// DefaultWindow is the number of turns kept when no limit is
// configured.
const DefaultWindow = 20

// Memory maintains an ordered history of conversation turns, evicting
// the oldest turn when the window is full.
type Memory struct {
	mu     sync.Mutex
	turns  []model.ConversationTurn
	window int
}

// NewMemory creates a Memory holding at most window turns.
// Non-positive window falls back to DefaultWindow.
func NewMemory(window int) *Memory {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Memory{
		turns:  make([]model.ConversationTurn, 0, window),
		window: window,
	}
}

// Append records a turn, evicting the oldest when full.
func (m *Memory) Append(role model.Role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.turns = append(m.turns, model.ConversationTurn{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})

	if excess := len(m.turns) - m.window; excess > 0 {
		m.turns = append(m.turns[:0], m.turns[excess:]...)
	}
}

// Turns returns a copy of the current history, oldest first.
func (m *Memory) Turns() []model.ConversationTurn {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.ConversationTurn, len(m.turns))
	copy(out, m.turns)
	return out
}

// Len returns the number of turns held.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.turns)
}

// Reset clears the history.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = m.turns[:0]
}
