// Command emailagent runs the email assistant: a background sync loop
// that pulls, classifies, and labels mail, plus a one-shot query mode
// for asking questions about the mailbox.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nhle/email-assistant/internal/agent"
	"github.com/nhle/email-assistant/internal/classify"
	"github.com/nhle/email-assistant/internal/convo"
	"github.com/nhle/email-assistant/internal/credential"
	"github.com/nhle/email-assistant/internal/extract"
	"github.com/nhle/email-assistant/internal/llm"
	"github.com/nhle/email-assistant/internal/model"
	"github.com/nhle/email-assistant/internal/notify"
	"github.com/nhle/email-assistant/internal/provider"
	"github.com/nhle/email-assistant/internal/provider/gmail"
	"github.com/nhle/email-assistant/internal/provider/imapmail"
	"github.com/nhle/email-assistant/internal/query"
	"github.com/nhle/email-assistant/internal/store"
	syncengine "github.com/nhle/email-assistant/internal/sync"
)

func main() {
	var (
		configPath = flag.String("config", model.DefaultConfigPath(), "path to config file")
		once       = flag.Bool("once", false, "run a single sync cycle and exit")
		ask        = flag.String("ask", "", "ask the assistant one question and exit")
	)
	flag.Parse()

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	s, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Printf("closing store: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	completer, err := newCompleter(cfg)
	if err != nil {
		log.Fatalf("configuring LLM: %v", err)
	}

	if *ask != "" {
		runAsk(ctx, cfg, s, completer, *ask)
		return
	}

	mail, err := newProvider(ctx, cfg)
	if err != nil {
		log.Fatalf("configuring mail provider: %v", err)
	}

	notifier := notify.NewStoreNotifier(s)
	scheduler := notify.NewScheduler(
		notifier, time.Duration(cfg.Reminder.LeadMinutes)*time.Minute,
	)
	defer scheduler.Stop()

	engine := syncengine.NewEngine(
		s, mail,
		classify.New(completer),
		extract.New(completer),
		notifier,
		scheduler,
		syncengine.Config{
			BatchSize:       cfg.Sync.MaxEmailsPerSync,
			Workers:         cfg.Sync.Workers,
			RetryCeiling:    cfg.Sync.RetryCeiling,
			Interval:        time.Duration(cfg.Sync.IntervalMinutes) * time.Minute,
			ReviewThreshold: cfg.Classification.ReviewThreshold,
		},
	)

	if *once {
		res, err := engine.RunCycle(ctx)
		if err != nil {
			log.Fatalf("sync cycle: %v", err)
		}
		log.Printf("sync done: %d processed, %d failed, %d skipped",
			res.Processed, res.Failed, res.Skipped)
		return
	}

	// Arm reminders for meetings already on the books, then sync
	// immediately instead of waiting out the first tick.
	armExistingReminders(ctx, s, scheduler)
	engine.TriggerSync()

	log.Printf("email assistant started (provider %s, every %dm)",
		cfg.Mail.Provider, cfg.Sync.IntervalMinutes)
	engine.Run(ctx)
}

// runAsk answers a single question against the stored mailbox.
func runAsk(
	ctx context.Context,
	cfg *model.AppConfig,
	s store.Store,
	completer llm.Completer,
	question string,
) {
	memory := convo.NewMemory(cfg.Conversation.WindowTurns)

	// Seed the window with persisted history so follow-up questions
	// work across invocations.
	turns, err := s.RecentTurns(ctx, cfg.Conversation.WindowTurns)
	if err != nil {
		log.Printf("loading conversation history: %v", err)
	}
	for _, turn := range turns {
		memory.Append(turn.Role, turn.Content)
	}

	a := agent.New(s, completer, query.New(completer), memory, nil)
	reply, err := a.HandleInput(ctx, question)
	if err != nil {
		log.Fatalf("handling question: %v", err)
	}
	fmt.Println(reply)
}

// newCompleter builds the language model client with its API key from
// the system keyring.
func newCompleter(cfg *model.AppConfig) (llm.Completer, error) {
	key, err := credential.Get(cfg.LLM.Provider + "_api_key")
	if err != nil {
		return nil, fmt.Errorf(
			"no API key for %s in keyring (store it under %q): %w",
			cfg.LLM.Provider, cfg.LLM.Provider+"_api_key", err,
		)
	}
	return llm.New(cfg.LLM, key)
}

// newProvider builds the configured mail backend.
func newProvider(
	ctx context.Context, cfg *model.AppConfig,
) (provider.Provider, error) {
	switch cfg.Mail.Provider {
	case "gmail":
		return gmail.NewAdapter(
			ctx,
			cfg.Mail.Gmail.CredentialsPath,
			cfg.Mail.Gmail.TokenPath,
		)
	case "imap":
		password, err := credential.Get("imap_password")
		if err != nil {
			return nil, fmt.Errorf("no IMAP password in keyring: %w", err)
		}
		return imapmail.NewAdapter(imapmail.Config{
			Host:     cfg.Mail.IMAP.Host,
			Port:     cfg.Mail.IMAP.Port,
			SMTPHost: cfg.Mail.IMAP.SMTPHost,
			SMTPPort: cfg.Mail.IMAP.SMTPPort,
			Username: cfg.Mail.IMAP.Username,
			Password: password,
			TLS:      cfg.Mail.IMAP.TLS,
		}), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Mail.Provider)
	}
}

// armExistingReminders schedules reminders for upcoming meetings that
// were stored before this process started.
func armExistingReminders(
	ctx context.Context, s store.Store, scheduler *notify.Scheduler,
) {
	meetings, err := s.MeetingsBetween(
		ctx, time.Now(), time.Now().AddDate(0, 0, 7),
	)
	if err != nil {
		log.Printf("loading upcoming meetings: %v", err)
		return
	}
	for _, m := range meetings {
		scheduler.Schedule(m)
	}
}
