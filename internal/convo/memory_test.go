package convo

import (
	"fmt"
	"testing"

	"github.com/nhle/email-assistant/internal/model"
)

func TestAppendAndTurns(t *testing.T) {
	m := NewMemory(5)
	m.Append(model.RoleUser, "show unread emails")
	m.Append(model.RoleAssistant, "you have 3 unread emails")

	turns := m.Turns()
	if len(turns) != 2 {
		t.Fatalf("len = %d, want 2", len(turns))
	}
	if turns[0].Role != model.RoleUser || turns[0].Content != "show unread emails" {
		t.Errorf("turns[0] = %+v", turns[0])
	}
	if turns[1].Role != model.RoleAssistant {
		t.Errorf("turns[1].Role = %v", turns[1].Role)
	}
}

func TestEvictsOldestFirst(t *testing.T) {
	m := NewMemory(3)
	for i := 0; i < 5; i++ {
		m.Append(model.RoleUser, fmt.Sprintf("msg %d", i))
	}

	turns := m.Turns()
	if len(turns) != 3 {
		t.Fatalf("len = %d, want 3", len(turns))
	}
	want := []string{"msg 2", "msg 3", "msg 4"}
	for i, w := range want {
		if turns[i].Content != w {
			t.Errorf("turns[%d] = %q, want %q", i, turns[i].Content, w)
		}
	}
}

func TestTurnsReturnsCopy(t *testing.T) {
	m := NewMemory(3)
	m.Append(model.RoleUser, "original")

	turns := m.Turns()
	turns[0].Content = "mutated"

	if got := m.Turns()[0].Content; got != "original" {
		t.Errorf("internal state mutated through copy: %q", got)
	}
}

func TestReset(t *testing.T) {
	m := NewMemory(3)
	m.Append(model.RoleUser, "hello")
	m.Reset()

	if m.Len() != 0 {
		t.Errorf("Len after Reset = %d, want 0", m.Len())
	}
}

func TestDefaultWindow(t *testing.T) {
	m := NewMemory(0)
	for i := 0; i < DefaultWindow+5; i++ {
		m.Append(model.RoleUser, "x")
	}
	if m.Len() != DefaultWindow {
		t.Errorf("Len = %d, want %d", m.Len(), DefaultWindow)
	}
}
