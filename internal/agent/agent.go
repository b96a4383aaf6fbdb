// Package agent is the conversational surface of the assistant. It
// routes each user input to a flow (mailbox query, morning brief, reply
// drafting, or plain chat), runs the flow against the store and the
// language model, and records the exchange in conversation memory.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nhle/email-assistant/internal/convo"
	"github.com/nhle/email-assistant/internal/llm"
	"github.com/nhle/email-assistant/internal/model"
	"github.com/nhle/email-assistant/internal/provider"
	"github.com/nhle/email-assistant/internal/query"
	"github.com/nhle/email-assistant/internal/store"
)

// Flow identifies how a user input is handled.
type Flow string

const (
	FlowQuery Flow = "query"
	FlowBrief Flow = "brief"
	FlowReply Flow = "reply"
	FlowChat  Flow = "chat"
)

const routingPrompt = `You route requests for an email assistant. Given a user message, answer with exactly one word:

- query: the user asks about their emails (search, count, list, filter)
- brief: the user asks for a summary or overview of their inbox or day
- reply: the user asks to reply to or answer an email
- chat: anything else

Answer with the single word only.`

// Agent handles conversational requests against the mailbox.
type Agent struct {
	store      store.Store
	llm        llm.Completer
	translator *query.Translator
	memory     *convo.Memory
	mail       provider.Provider
}

// New creates an Agent. mail may be nil; then reply sending is
// unavailable and drafts are the only output.
func New(
	s store.Store,
	completer llm.Completer,
	translator *query.Translator,
	memory *convo.Memory,
	mail provider.Provider,
) *Agent {
	return &Agent{
		store:      s,
		llm:        completer,
		translator: translator,
		memory:     memory,
		mail:       mail,
	}
}

// HandleInput processes one user message and returns the assistant's
// reply. Both sides of the exchange are appended to conversation memory
// and persisted.
func (a *Agent) HandleInput(ctx context.Context, input string) (string, error) {
	flow, err := a.route(ctx, input)
	if err != nil {
		return "", err
	}

	a.recordTurn(ctx, model.RoleUser, input)

	var reply string
	switch flow {
	case FlowQuery:
		reply, err = a.runQuery(ctx, input)
	case FlowBrief:
		reply, err = a.runBrief(ctx)
	case FlowReply:
		reply, err = a.runReply(ctx, input)
	default:
		reply, err = a.runChat(ctx, input)
	}
	if err != nil {
		return "", err
	}

	a.recordTurn(ctx, model.RoleAssistant, reply)
	return reply, nil
}

// route asks the model which flow the input belongs to. An unreadable
// answer falls back to chat.
func (a *Agent) route(ctx context.Context, input string) (Flow, error) {
	resp, err := a.llm.Complete(ctx, llm.Request{
		System: routingPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: input},
		},
	})
	if err != nil {
		return "", fmt.Errorf("routing input: %w", err)
	}

	switch Flow(strings.ToLower(strings.TrimSpace(resp))) {
	case FlowQuery:
		return FlowQuery, nil
	case FlowBrief:
		return FlowBrief, nil
	case FlowReply:
		return FlowReply, nil
	default:
		return FlowChat, nil
	}
}

// runQuery translates the question into a filter, runs it, and renders
// the matches. An ambiguous question returns the clarification text as
// the reply instead of failing.
func (a *Agent) runQuery(ctx context.Context, input string) (string, error) {
	filter, err := a.translator.Translate(ctx, input, a.memory.Turns())
	if err != nil {
		var amb *query.Ambiguous
		if errors.As(err, &amb) {
			return amb.Clarification(), nil
		}
		return "", err
	}

	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	emails, err := a.store.QueryEmails(ctx, filter)
	if err != nil {
		return "", fmt.Errorf("querying emails: %w", err)
	}

	if len(emails) == 0 {
		return "No emails match that.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d email(s):\n", len(emails))
	for _, e := range emails {
		marker := " "
		if !e.Read {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s [%s] %s - %s (%s)\n",
			marker, e.Category, e.Sender, e.Subject,
			e.Timestamp.Format("Jan 2 15:04"),
		)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// runReply drafts a reply for the email the user refers to. The draft
// is returned for review, never sent directly.
func (a *Agent) runReply(ctx context.Context, input string) (string, error) {
	filter, err := a.translator.Translate(ctx, input, a.memory.Turns())
	if err != nil {
		var amb *query.Ambiguous
		if errors.As(err, &amb) {
			return amb.Clarification(), nil
		}
		return "", err
	}
	filter.Limit = 1

	emails, err := a.store.QueryEmails(ctx, filter)
	if err != nil {
		return "", fmt.Errorf("finding email to reply to: %w", err)
	}
	if len(emails) == 0 {
		return "I couldn't find the email you want to reply to.", nil
	}
	target := emails[0]

	// Pull the rest of the thread for context.
	thread, err := a.store.EmailsInThread(ctx, target.ThreadID)
	if err != nil {
		return "", fmt.Errorf("loading thread: %w", err)
	}

	var threadText strings.Builder
	for _, e := range thread {
		fmt.Fprintf(&threadText, "From: %s\nDate: %s\n%s\n---\n",
			e.Sender, e.Timestamp.Format(time.RFC1123), e.Content,
		)
	}

	draft, err := a.llm.Complete(ctx, llm.Request{
		System: "You draft email replies. Write a concise, polite reply in the user's voice. Return only the reply body.",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: fmt.Sprintf(
				"Thread:\n%s\nInstruction: %s", threadText.String(), input,
			)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("drafting reply: %w", err)
	}

	return fmt.Sprintf(
		"Draft reply to %s (%q):\n\n%s", target.Sender, target.Subject, draft,
	), nil
}

// SendReply sends an approved reply body for the given email and marks
// the message read on both sides. Drafting and sending are separate
// steps: HandleInput only ever produces drafts, and sending requires
// this explicit call.
func (a *Agent) SendReply(ctx context.Context, emailID, body string) error {
	if a.mail == nil {
		return fmt.Errorf("no mail provider configured for sending")
	}

	if err := a.mail.SendReply(ctx, emailID, body); err != nil {
		return fmt.Errorf("sending reply to %s: %w", emailID, err)
	}

	// Replying implies the message has been dealt with.
	if err := a.mail.MarkRead(ctx, emailID, true); err != nil {
		return fmt.Errorf("marking %s read on provider: %w", emailID, err)
	}
	if err := a.store.SetEmailRead(ctx, emailID, true); err != nil {
		return fmt.Errorf("marking %s read in store: %w", emailID, err)
	}
	return nil
}

// runChat answers anything that is not a mailbox operation, with the
// conversation history as context.
func (a *Agent) runChat(ctx context.Context, input string) (string, error) {
	turns := a.memory.Turns()
	messages := make([]llm.Message, 0, len(turns)+1)
	for _, turn := range turns {
		messages = append(messages, llm.Message{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: input,
	})

	resp, err := a.llm.Complete(ctx, llm.Request{
		System:   "You are a helpful email assistant. Be concise.",
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	return resp, nil
}

// recordTurn writes the turn to memory and persists it. Persistence
// failures are not fatal to the conversation.
func (a *Agent) recordTurn(ctx context.Context, role model.Role, content string) {
	a.memory.Append(role, content)
	_ = a.store.AppendTurn(ctx, model.ConversationTurn{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
}
