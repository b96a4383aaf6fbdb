// Package conflict detects overlapping meetings and suggests
// alternative times.
package conflict

import (
	"sort"
	"time"

	"github.com/nhle/email-assistant/internal/model"
)

// Overlaps reports whether two meetings collide. Intervals are
// half-open [start, end): a meeting ending at 3:00 does not conflict
// with one starting at 3:00. Superseded meetings never conflict.
func Overlaps(a, b *model.Meeting) bool {
	if a.Superseded || b.Superseded {
		return false
	}
	if a.Duration <= 0 || b.Duration <= 0 {
		return false
	}
	return a.StartsAt.Before(b.EndsAt()) && b.StartsAt.Before(a.EndsAt())
}

// Set holds known meetings sorted by start time for conflict lookups.
// It tracks the longest duration seen so a lookup only scans the
// neighbors that could possibly reach the candidate's interval, not a
// fixed window.
type Set struct {
	meetings []*model.Meeting
	maxDur   time.Duration
}

// NewSet builds a Set from existing meetings. Superseded meetings are
// skipped.
func NewSet(meetings []*model.Meeting) *Set {
	s := &Set{}
	for _, m := range meetings {
		if m.Superseded {
			continue
		}
		s.Insert(m)
	}
	return s
}

// Insert adds a meeting to the set, keeping start-time order.
func (s *Set) Insert(m *model.Meeting) {
	i := sort.Search(len(s.meetings), func(i int) bool {
		return !s.meetings[i].StartsAt.Before(m.StartsAt)
	})
	s.meetings = append(s.meetings, nil)
	copy(s.meetings[i+1:], s.meetings[i:])
	s.meetings[i] = m

	if m.Duration > s.maxDur {
		s.maxDur = m.Duration
	}
}

// Len returns the number of meetings in the set.
func (s *Set) Len() int {
	return len(s.meetings)
}

// FindConflicts returns the meetings in the set that overlap the
// candidate, in start-time order. The candidate itself (same ID) is
// never reported as its own conflict.
func (s *Set) FindConflicts(candidate *model.Meeting) []*model.Meeting {
	if candidate.Superseded || candidate.Duration <= 0 || len(s.meetings) == 0 {
		return nil
	}

	// A meeting starting before the candidate can only reach it if its
	// start is within maxDur of the candidate's start.
	earliest := candidate.StartsAt.Add(-s.maxDur)
	lo := sort.Search(len(s.meetings), func(i int) bool {
		return !s.meetings[i].StartsAt.Before(earliest)
	})

	end := candidate.EndsAt()
	var conflicts []*model.Meeting
	for i := lo; i < len(s.meetings); i++ {
		m := s.meetings[i]
		if !m.StartsAt.Before(end) {
			break
		}
		if m.ID == candidate.ID {
			continue
		}
		if Overlaps(candidate, m) {
			conflicts = append(conflicts, m)
		}
	}
	return conflicts
}

// Upcoming returns the meetings starting in [from, from+window), in
// start-time order.
func (s *Set) Upcoming(from time.Time, window time.Duration) []*model.Meeting {
	until := from.Add(window)
	lo := sort.Search(len(s.meetings), func(i int) bool {
		return !s.meetings[i].StartsAt.Before(from)
	})

	var out []*model.Meeting
	for i := lo; i < len(s.meetings); i++ {
		if !s.meetings[i].StartsAt.Before(until) {
			break
		}
		out = append(out, s.meetings[i])
	}
	return out
}

// SuggestAlternatives proposes up to max conflict-free start times for
// the meeting, probing hourly slots after the requested start. The
// probe sequence depends only on the meeting and the set contents, so
// re-running it yields the same suggestions.
func (s *Set) SuggestAlternatives(m *model.Meeting, max int) []time.Time {
	if max <= 0 || m.Duration <= 0 {
		return nil
	}

	var out []time.Time
	probe := *m
	// Distinct ID so the probe never matches an existing record.
	probe.ID = ""

	start := m.StartsAt.Truncate(time.Hour).Add(time.Hour)
	for i := 0; i < 48 && len(out) < max; i++ {
		probe.StartsAt = start.Add(time.Duration(i) * time.Hour)
		if len(s.FindConflicts(&probe)) == 0 {
			out = append(out, probe.StartsAt)
		}
	}
	return out
}
