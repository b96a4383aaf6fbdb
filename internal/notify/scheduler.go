package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nhle/email-assistant/internal/model"
)

// Scheduler fires meeting reminders a configured lead time before each
// meeting starts. Reminders for meetings that are superseded or already
// past are dropped.
type Scheduler struct {
	notifier Notifier
	lead     time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewScheduler creates a Scheduler that fires lead before each meeting.
func NewScheduler(notifier Notifier, lead time.Duration) *Scheduler {
	return &Scheduler{
		notifier: notifier,
		lead:     lead,
		timers:   make(map[string]*time.Timer),
	}
}

// Schedule arms a reminder for the meeting. Scheduling the same meeting
// id again replaces the earlier reminder, which covers rescheduled
// meetings whose replacement keeps a new id while the old one is
// canceled explicitly.
func (s *Scheduler) Schedule(m model.Meeting) {
	fireAt := m.StartsAt.Add(-s.lead)
	delay := time.Until(fireAt)
	if delay < 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[m.ID]; ok {
		old.Stop()
	}

	id := m.ID
	s.timers[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()

		_ = s.notifier.Notify(context.Background(), model.Notification{
			Kind:      model.KindMeetingReminder,
			EmailID:   m.EmailID,
			MeetingID: id,
			Message: fmt.Sprintf(
				"Reminder: %q starts at %s",
				m.Title, m.StartsAt.Format(time.Kitchen),
			),
		})
	})
}

// Cancel drops the pending reminder for a meeting, if any.
func (s *Scheduler) Cancel(meetingID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[meetingID]; ok {
		t.Stop()
		delete(s.timers, meetingID)
	}
}

// Stop cancels all pending reminders.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
