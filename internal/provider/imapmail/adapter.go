package imapmail

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/email-assistant/internal/model"
	"github.com/nhle/email-assistant/internal/provider"
)

// Adapter implements provider.Provider over IMAP/SMTP.
type Adapter struct {
	client *client
	cfg    Config
}

// NewAdapter creates an IMAP adapter from server settings.
func NewAdapter(cfg Config) *Adapter {
	return &Adapter{
		client: &client{cfg: cfg},
		cfg:    cfg,
	}
}

// Type returns the provider type identifier for IMAP.
func (a *Adapter) Type() model.ProviderType {
	return model.ProviderIMAP
}

// ListUnread searches INBOX for unseen messages received since the
// given time, up to limit. Message ids are IMAP UIDs rendered as
// decimal strings; threads are keyed by Message-ID.
func (a *Adapter) ListUnread(
	ctx context.Context,
	since time.Time,
	limit int,
) ([]provider.MessageRef, error) {
	conn, err := a.client.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Logout().Wait() }()

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	if !since.IsZero() {
		criteria.Since = since
	}

	searchData, err := conn.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, &provider.TransientError{Op: "imap search", Err: err}
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	// Most recent messages have the highest UIDs.
	if limit > 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	fetchCmd := conn.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		Envelope: true,
		UID:      true,
	})
	defer fetchCmd.Close()

	var refs []provider.MessageRef
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}

		ref := provider.MessageRef{
			ID: strconv.FormatUint(uint64(buf.UID), 10),
		}
		if buf.Envelope != nil && buf.Envelope.MessageID != "" {
			ref.ThreadID = buf.Envelope.MessageID
		} else {
			ref.ThreadID = ref.ID
		}
		refs = append(refs, ref)
	}

	if err := fetchCmd.Close(); err != nil {
		return refs, &provider.TransientError{Op: "imap fetch", Err: err}
	}

	return refs, nil
}

// FetchBatch retrieves full message content for the given refs over a
// single connection. Messages that fail to fetch or parse are logged
// and skipped.
func (a *Adapter) FetchBatch(
	ctx context.Context,
	refs []provider.MessageRef,
) ([]provider.RawMessage, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	conn, err := a.client.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Logout().Wait() }()

	uids := make([]imap.UID, 0, len(refs))
	for _, ref := range refs {
		uid, err := parseUID(ref.ID)
		if err != nil {
			log.Printf("imap: skipping ref %q: %v", ref.ID, err)
			continue
		}
		uids = append(uids, uid)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := conn.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	var msgs []provider.RawMessage
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			log.Printf("imap: collecting message: %v", err)
			continue
		}

		raw := provider.RawMessage{
			ID: strconv.FormatUint(uint64(buf.UID), 10),
		}

		if buf.Envelope != nil {
			raw.Subject = buf.Envelope.Subject
			raw.Timestamp = buf.Envelope.Date
			if buf.Envelope.MessageID != "" {
				raw.ThreadID = buf.Envelope.MessageID
			}
			if len(buf.Envelope.From) > 0 {
				raw.Sender = buf.Envelope.From[0].Addr()
			}
			for _, to := range buf.Envelope.To {
				raw.Recipients = append(raw.Recipients, to.Addr())
			}
		}
		if raw.ThreadID == "" {
			raw.ThreadID = raw.ID
		}

		for _, flag := range buf.Flags {
			if flag == imap.FlagSeen {
				raw.Read = true
				continue
			}
			raw.Labels = append(raw.Labels, string(flag))
		}

		if rawBody := buf.FindBodySection(bodySection); rawBody != nil {
			textBody, htmlBody := parseMIMEBody(rawBody)
			if textBody != "" {
				raw.Content = textBody
			} else {
				raw.Content = htmlBody
			}
		}

		msgs = append(msgs, raw)
	}

	if err := fetchCmd.Close(); err != nil {
		return msgs, &provider.TransientError{Op: "imap fetch", Err: err}
	}

	return msgs, nil
}

// ApplyLabel stores the label as an IMAP keyword flag on the message.
// Keyword atoms cannot contain spaces, so they are folded to
// underscores.
func (a *Adapter) ApplyLabel(
	ctx context.Context,
	messageID, label string,
) error {
	uid, err := parseUID(messageID)
	if err != nil {
		return err
	}

	keyword := imap.Flag(strings.ReplaceAll(label, " ", "_"))
	return a.client.setFlags(ctx, uid, []imap.Flag{keyword}, true)
}

// MarkRead flips the \Seen flag on the message.
func (a *Adapter) MarkRead(
	ctx context.Context,
	messageID string,
	read bool,
) error {
	uid, err := parseUID(messageID)
	if err != nil {
		return err
	}
	return a.client.setFlags(ctx, uid, []imap.Flag{imap.FlagSeen}, read)
}

// SendReply fetches the original message's envelope for threading
// headers and sends the reply via SMTP.
func (a *Adapter) SendReply(
	ctx context.Context,
	messageID, body string,
) error {
	uid, err := parseUID(messageID)
	if err != nil {
		return err
	}

	conn, err := a.client.connect(ctx)
	if err != nil {
		return err
	}

	fetchCmd := conn.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
		Envelope: true,
		UID:      true,
	})

	var to, subject, origMsgID string
	if msg := fetchCmd.Next(); msg != nil {
		if buf, err := msg.Collect(); err == nil && buf.Envelope != nil {
			subject = buf.Envelope.Subject
			origMsgID = buf.Envelope.MessageID
			if len(buf.Envelope.From) > 0 {
				to = buf.Envelope.From[0].Addr()
			}
		}
	}
	_ = fetchCmd.Close()
	_ = conn.Logout().Wait()

	if to == "" {
		return fmt.Errorf("message %s: no sender to reply to", messageID)
	}

	if err := sendReply(a.cfg, to, subject, origMsgID, body); err != nil {
		return &provider.TransientError{Op: "smtp send", Err: err}
	}
	return nil
}

func parseUID(id string) (imap.UID, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed message id %q: %w", id, err)
	}
	return imap.UID(n), nil
}
