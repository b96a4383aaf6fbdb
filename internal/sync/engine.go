// Package sync runs the email pipeline: pull unread mail from the
// provider, persist it, classify it, extract meetings, flag conflicts,
// and write labels back. Cycles are single-flight; within a cycle,
// emails are processed by a bounded worker pool and each email's writes
// commit atomically, so a crash mid-cycle loses at most in-flight work
// and the next cycle picks it back up.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/email-assistant/internal/classify"
	"github.com/nhle/email-assistant/internal/conflict"
	"github.com/nhle/email-assistant/internal/extract"
	"github.com/nhle/email-assistant/internal/model"
	"github.com/nhle/email-assistant/internal/notify"
	"github.com/nhle/email-assistant/internal/provider"
	"github.com/nhle/email-assistant/internal/store"
)

// ErrCycleRunning is returned when RunCycle is called while another
// cycle is still in flight.
var ErrCycleRunning = errors.New("sync cycle already running")

// Config holds the engine's tunables.
type Config struct {
	// BatchSize caps how many messages one cycle pulls from the
	// provider.
	BatchSize int

	// Workers bounds concurrent per-email processing.
	Workers int

	// RetryCeiling is how many classification attempts an email gets
	// before it is marked permanently failed.
	RetryCeiling int

	// Interval is the delay between automatic cycles in Run.
	Interval time.Duration

	// ReviewThreshold flags classifications below this confidence for
	// human review. Zero disables the gate.
	ReviewThreshold float64
}

// Result summarizes one sync cycle.
type Result struct {
	// Processed counts emails classified (and, where applicable,
	// extracted) successfully this cycle.
	Processed int

	// Failed counts emails whose classification failed this cycle.
	Failed int

	// Skipped counts provider messages already present in the store.
	Skipped int

	// FailedIDs lists the emails counted in Failed.
	FailedIDs []string
}

// Engine drives the sync pipeline.
type Engine struct {
	store      store.Store
	provider   provider.Provider
	classifier *classify.Classifier
	extractor  *extract.Extractor
	notifier   notify.Notifier
	scheduler  *notify.Scheduler
	cfg        Config

	running atomic.Bool
	trigger chan struct{}
}

// NewEngine creates an Engine. scheduler may be nil when reminders are
// not wanted (one-shot runs, tests).
func NewEngine(
	s store.Store,
	p provider.Provider,
	classifier *classify.Classifier,
	extractor *extract.Extractor,
	notifier notify.Notifier,
	scheduler *notify.Scheduler,
	cfg Config,
) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RetryCeiling <= 0 {
		cfg.RetryCeiling = 3
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}

	return &Engine{
		store:      s,
		provider:   p,
		classifier: classifier,
		extractor:  extractor,
		notifier:   notifier,
		scheduler:  scheduler,
		cfg:        cfg,
		trigger:    make(chan struct{}, 1),
	}
}

// TriggerSync requests an immediate cycle from a running Run loop.
// If a trigger is already pending, this is a no-op.
func (e *Engine) TriggerSync() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Run executes cycles on the configured interval until ctx is canceled.
// Manual triggers run a cycle immediately without resetting the ticker.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.trigger:
		}

		res, err := e.RunCycle(ctx)
		switch {
		case errors.Is(err, ErrCycleRunning):
			// Skip; the in-flight cycle covers this tick.
		case err != nil:
			log.Printf("sync: cycle failed: %v", err)
		default:
			log.Printf("sync: cycle done: %d processed, %d failed, %d skipped",
				res.Processed, res.Failed, res.Skipped)
		}
	}
}

// RunCycle executes one full sync cycle. Only one cycle runs at a time;
// concurrent calls return ErrCycleRunning.
func (e *Engine) RunCycle(ctx context.Context) (Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return Result{}, ErrCycleRunning
	}
	defer e.running.Store(false)

	cycleStart := time.Now()

	var since time.Time
	cursor, err := e.store.LoadSyncCursor(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("loading sync cursor: %w", err)
	}
	if cursor != nil {
		since = cursor.LastSyncAt
	}

	var result Result

	// Pull new mail from the provider. A provider outage does not abort
	// the cycle: the retry queue below still gets drained.
	skipped, complete, err := e.ingest(ctx, since)
	if err != nil {
		log.Printf("sync: ingest failed, draining retry queue only: %v", err)
	}
	result.Skipped = skipped

	// Work set: freshly ingested emails plus earlier failures that
	// still have retry budget. Fresh inserts are unclassified with zero
	// attempts, so the pending query covers both.
	work, err := e.store.PendingClassification(
		ctx, e.cfg.RetryCeiling, e.cfg.BatchSize,
	)
	if err != nil {
		return result, fmt.Errorf("loading pending emails: %w", err)
	}

	if len(work) > 0 {
		processed, failed, failedIDs := e.processAll(ctx, work)
		result.Processed = processed
		result.Failed = failed
		result.FailedIDs = failedIDs
	}

	cur := model.SyncCursor{
		LastSyncAt: cycleStart,
		BatchStart: since,
		BatchEnd:   cycleStart,
	}
	if !complete {
		// The provider filters listings by LastSyncAt, so advancing it
		// past mail we failed to store would drop that mail for good.
		// Keep the old anchor; the next cycle re-lists the window and
		// duplicates are discarded on insert.
		cur.LastSyncAt = since
	}
	if err := e.store.SaveSyncCursor(ctx, cur); err != nil {
		return result, fmt.Errorf("saving sync cursor: %w", err)
	}

	return result, nil
}

// ingest lists and fetches unread mail, inserting each message as an
// unclassified email. Returns the count of duplicates skipped, and
// whether every listed message made it into the store; the cursor may
// only advance when complete is true.
func (e *Engine) ingest(
	ctx context.Context, since time.Time,
) (skipped int, complete bool, err error) {
	var refs []provider.MessageRef
	err = provider.WithRetry(ctx, func() error {
		var lerr error
		refs, lerr = e.provider.ListUnread(ctx, since, e.cfg.BatchSize)
		return lerr
	})
	if err != nil {
		return 0, false, fmt.Errorf("listing unread: %w", err)
	}
	if len(refs) == 0 {
		return 0, true, nil
	}

	var msgs []provider.RawMessage
	err = provider.WithRetry(ctx, func() error {
		var lerr error
		msgs, lerr = e.provider.FetchBatch(ctx, refs)
		return lerr
	})
	if err != nil {
		return 0, false, fmt.Errorf("fetching batch: %w", err)
	}

	// Adapters skip individual messages that fail to fetch.
	complete = len(msgs) == len(refs)

	for _, msg := range msgs {
		email := model.Email{
			ID:         msg.ID,
			ThreadID:   msg.ThreadID,
			Subject:    msg.Subject,
			Sender:     msg.Sender,
			Recipients: msg.Recipients,
			Content:    msg.Content,
			Timestamp:  msg.Timestamp,
			Category:   model.CategoryUnclassified,
			Read:       msg.Read,
			Labels:     msg.Labels,
			Provider:   e.provider.Type(),
			SyncedAt:   time.Now(),
		}
		isNew, ierr := e.store.InsertEmail(ctx, email)
		if ierr != nil {
			log.Printf("sync: inserting email %s: %v", msg.ID, ierr)
			complete = false
			continue
		}
		if !isNew {
			skipped++
		}
	}

	return skipped, complete, nil
}

// processAll classifies the work set with a bounded worker pool. The
// conflict set is shared across workers under its own lock so meetings
// extracted in the same cycle conflict-check against each other, not
// just against what was already stored.
func (e *Engine) processAll(
	ctx context.Context, work []model.Email,
) (processed, failed int, failedIDs []string) {
	active, err := e.store.ActiveMeetings(ctx)
	if err != nil {
		log.Printf("sync: loading meetings for conflict checks: %v", err)
	}
	meetings := make([]*model.Meeting, len(active))
	for i := range active {
		meetings[i] = &active[i]
	}

	shared := &conflictState{set: conflict.NewSet(meetings)}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, e.cfg.Workers)
	)

	for i := range work {
		email := work[i]

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			err := e.processEmail(ctx, &email, shared)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				failedIDs = append(failedIDs, email.ID)
			} else {
				processed++
			}
		}()
	}
	wg.Wait()

	sort.Strings(failedIDs)
	return processed, failed, failedIDs
}

// conflictState guards the shared conflict set during a cycle.
type conflictState struct {
	mu  sync.Mutex
	set *conflict.Set
}

// processEmail runs the full per-email pipeline: classify, extract,
// conflict-check, persist, label. The store write is atomic; the
// label write-back happens after commit and is retried on the next
// cycle only implicitly via provider state, so a label failure is
// logged, not fatal.
func (e *Engine) processEmail(
	ctx context.Context, email *model.Email, shared *conflictState,
) error {
	result, err := e.classifier.Classify(ctx, email, e.threadHistory(ctx, email))
	if err != nil {
		e.recordFailure(ctx, email, err)
		return err
	}

	// Below the review gate the category is still stored, but the label
	// write-back is held until a human confirms it.
	needsReview := e.cfg.ReviewThreshold > 0 &&
		result.Confidence < e.cfg.ReviewThreshold
	if needsReview {
		e.notify(ctx, model.Notification{
			Kind:    model.KindNeedsReview,
			EmailID: email.ID,
			Message: fmt.Sprintf(
				"Low-confidence classification of %q as %s (%.2f)",
				email.Subject, result.Category, result.Confidence,
			),
		})
	}

	var meeting *model.Meeting
	var conflicts []*model.Meeting
	if result.Category == model.CategoryMeeting {
		meeting, conflicts = e.extractMeeting(ctx, email, shared)
	}

	labels := mergeLabel(email.Labels, result.Category.Label())
	if err := e.store.CompleteClassification(
		ctx, email.ID, result.Category, labels, meeting,
	); err != nil {
		return fmt.Errorf("persisting classification of %s: %w", email.ID, err)
	}

	if meeting != nil {
		e.afterMeetingStored(ctx, email, meeting, conflicts, shared)
	}

	if !needsReview {
		if err := provider.WithRetry(ctx, func() error {
			return e.provider.ApplyLabel(ctx, email.ID, result.Category.Label())
		}); err != nil {
			log.Printf("sync: labeling email %s: %v", email.ID, err)
		}
	}

	return nil
}

// threadHistory returns earlier emails from the same thread for
// classification context. Lookup failures just mean no context.
func (e *Engine) threadHistory(
	ctx context.Context, email *model.Email,
) []model.Email {
	if email.ThreadID == "" {
		return nil
	}
	thread, err := e.store.EmailsInThread(ctx, email.ThreadID)
	if err != nil {
		return nil
	}
	var history []model.Email
	for _, t := range thread {
		if t.ID != email.ID && t.Timestamp.Before(email.Timestamp) {
			history = append(history, t)
		}
	}
	return history
}

// extractMeeting runs extraction and conflict detection for an email
// classified as a meeting. Extraction failure is not a pipeline
// failure: the email keeps its category and simply gets no meeting.
func (e *Engine) extractMeeting(
	ctx context.Context, email *model.Email, shared *conflictState,
) (*model.Meeting, []*model.Meeting) {
	m, err := e.extractor.Extract(ctx, email)
	if err != nil {
		var f *extract.Failure
		if !errors.As(err, &f) {
			log.Printf("sync: extracting meeting from %s: %v", email.ID, err)
		}
		return nil, nil
	}

	m.ID = newMeetingID()
	m.CreatedAt = time.Now()

	shared.mu.Lock()
	defer shared.mu.Unlock()

	conflicts := shared.set.FindConflicts(&m)
	for _, c := range conflicts {
		m.ConflictIDs = append(m.ConflictIDs, c.ID)
	}
	shared.set.Insert(&m)

	return &m, conflicts
}

// afterMeetingStored emits conflict notifications and arms the
// reminder once the meeting row is committed.
func (e *Engine) afterMeetingStored(
	ctx context.Context,
	email *model.Email,
	meeting *model.Meeting,
	conflicts []*model.Meeting,
	shared *conflictState,
) {
	if len(conflicts) > 0 {
		shared.mu.Lock()
		alternatives := shared.set.SuggestAlternatives(meeting, 3)
		shared.mu.Unlock()

		var altText string
		if len(alternatives) > 0 {
			altText = " Free slots: "
			for i, alt := range alternatives {
				if i > 0 {
					altText += ", "
				}
				altText += alt.Format("Jan 2 15:04")
			}
		}

		e.notify(ctx, model.Notification{
			Kind:      model.KindMeetingConflict,
			EmailID:   email.ID,
			MeetingID: meeting.ID,
			Message: fmt.Sprintf(
				"%q at %s overlaps %d existing meeting(s).%s",
				meeting.Title,
				meeting.StartsAt.Format("Jan 2 15:04"),
				len(conflicts), altText,
			),
		})
	}

	if e.scheduler != nil {
		e.scheduler.Schedule(*meeting)
	}
}

// recordFailure bumps the email's attempt count and notifies when the
// retry budget is exhausted. The email never gets a guessed category.
func (e *Engine) recordFailure(
	ctx context.Context, email *model.Email, cause error,
) {
	attempts, permanent, err := e.store.RecordClassificationFailure(
		ctx, email.ID, e.cfg.RetryCeiling,
	)
	if err != nil {
		log.Printf("sync: recording failure for %s: %v", email.ID, err)
		return
	}

	log.Printf("sync: classification of %s failed (attempt %d): %v",
		email.ID, attempts, cause)

	if permanent {
		e.notify(ctx, model.Notification{
			Kind:    model.KindClassificationFailed,
			EmailID: email.ID,
			Message: fmt.Sprintf(
				"Could not classify %q after %d attempts; needs manual triage",
				email.Subject, attempts,
			),
		})
	}
}

// Reextract re-runs meeting extraction for an email that already has a
// meeting, for example after the user corrects the email's content
// upstream. The old record is never mutated: the replacement is
// inserted and the old one marked superseded in one transaction.
func (e *Engine) Reextract(ctx context.Context, emailID string) (*model.Meeting, error) {
	email, err := e.store.GetEmail(ctx, emailID)
	if err != nil {
		return nil, err
	}

	existing, err := e.store.MeetingForEmail(ctx, emailID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("email %s has no meeting to re-extract", emailID)
	}

	m, err := e.extractor.Extract(ctx, email)
	if err != nil {
		return nil, err
	}
	m.ID = newMeetingID()
	m.CreatedAt = time.Now()

	active, err := e.store.ActiveMeetings(ctx)
	if err != nil {
		return nil, err
	}
	meetings := make([]*model.Meeting, 0, len(active))
	for i := range active {
		if active[i].ID == existing.ID {
			continue
		}
		meetings = append(meetings, &active[i])
	}
	for _, c := range conflict.NewSet(meetings).FindConflicts(&m) {
		m.ConflictIDs = append(m.ConflictIDs, c.ID)
	}

	if err := e.store.SupersedeMeeting(ctx, existing.ID, m); err != nil {
		return nil, err
	}

	if e.scheduler != nil {
		e.scheduler.Cancel(existing.ID)
		e.scheduler.Schedule(m)
	}

	return &m, nil
}

// mergeLabel adds the category label to the provider labels captured at
// ingest, which stay intact.
func mergeLabel(existing []string, label string) []string {
	for _, l := range existing {
		if l == label {
			return existing
		}
	}
	out := make([]string, 0, len(existing)+1)
	out = append(out, existing...)
	return append(out, label)
}

func newMeetingID() string {
	return uuid.New().String()
}

func (e *Engine) notify(ctx context.Context, n model.Notification) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		log.Printf("sync: sending %s notification: %v", n.Kind, err)
	}
}
