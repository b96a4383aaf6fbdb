package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strings"
	"time"

	"google.golang.org/api/googleapi"

	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/nhle/email-assistant/internal/model"
	"github.com/nhle/email-assistant/internal/provider"
)

// Adapter implements provider.Provider for Gmail.
type Adapter struct {
	srv *gmailapi.Service

	// labelIDs caches provider label ids by name so repeated ApplyLabel
	// calls do not re-list labels.
	labelIDs map[string]string
}

// NewAdapter creates a Gmail adapter from OAuth credential files.
func NewAdapter(
	ctx context.Context,
	credentialsPath, tokenPath string,
) (*Adapter, error) {
	srv, err := newService(ctx, credentialsPath, tokenPath)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		srv:      srv,
		labelIDs: make(map[string]string),
	}, nil
}

// Type returns the provider type identifier for Gmail.
func (a *Adapter) Type() model.ProviderType {
	return model.ProviderGmail
}

// ListUnread returns references to unread messages received since the
// given time, up to limit.
func (a *Adapter) ListUnread(
	ctx context.Context,
	since time.Time,
	limit int,
) ([]provider.MessageRef, error) {
	query := "is:unread"
	if !since.IsZero() {
		// Gmail's after: operator takes epoch seconds.
		query += fmt.Sprintf(" after:%d", since.Unix())
	}

	call := a.srv.Users.Messages.List(gmailUser).Q(query).Context(ctx)
	if limit > 0 {
		call = call.MaxResults(int64(limit))
	}

	resp, err := call.Do()
	if err != nil {
		return nil, wrapErr("list unread", err)
	}

	refs := make([]provider.MessageRef, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		refs = append(refs, provider.MessageRef{
			ID:       m.Id,
			ThreadID: m.ThreadId,
		})
	}

	return refs, nil
}

// FetchBatch retrieves full message content for the given refs.
// Messages that fail to fetch are logged and skipped.
func (a *Adapter) FetchBatch(
	ctx context.Context,
	refs []provider.MessageRef,
) ([]provider.RawMessage, error) {
	msgs := make([]provider.RawMessage, 0, len(refs))

	for _, ref := range refs {
		msg, err := a.srv.Users.Messages.Get(gmailUser, ref.ID).
			Format("full").Context(ctx).Do()
		if err != nil {
			log.Printf("gmail: fetching message %s: %v", ref.ID, err)
			continue
		}
		msgs = append(msgs, parseMessage(msg))
	}

	return msgs, nil
}

// ApplyLabel attaches a label to a message, creating it on the provider
// if it does not exist yet.
func (a *Adapter) ApplyLabel(
	ctx context.Context,
	messageID, label string,
) error {
	labelID, err := a.labelID(ctx, label)
	if err != nil {
		return err
	}

	_, err = a.srv.Users.Messages.Modify(gmailUser, messageID,
		&gmailapi.ModifyMessageRequest{
			AddLabelIds: []string{labelID},
		},
	).Context(ctx).Do()
	if err != nil {
		return wrapErr("apply label", err)
	}

	return nil
}

// MarkRead flips the UNREAD system label on a message.
func (a *Adapter) MarkRead(
	ctx context.Context,
	messageID string,
	read bool,
) error {
	req := &gmailapi.ModifyMessageRequest{}
	if read {
		req.RemoveLabelIds = []string{"UNREAD"}
	} else {
		req.AddLabelIds = []string{"UNREAD"}
	}

	_, err := a.srv.Users.Messages.Modify(gmailUser, messageID, req).
		Context(ctx).Do()
	if err != nil {
		return wrapErr("mark read", err)
	}

	return nil
}

// SendReply sends a reply within the original message's thread, setting
// In-Reply-To and References so threading holds up on the recipient's
// side too.
func (a *Adapter) SendReply(
	ctx context.Context,
	messageID, body string,
) error {
	orig, err := a.srv.Users.Messages.Get(gmailUser, messageID).
		Format("metadata").
		MetadataHeaders("Subject", "From", "Message-ID").
		Context(ctx).Do()
	if err != nil {
		return wrapErr("fetch original for reply", err)
	}

	var subject, from, origMsgID string
	if orig.Payload != nil {
		for _, h := range orig.Payload.Headers {
			switch h.Name {
			case "Subject":
				subject = h.Value
			case "From":
				from = h.Value
			case "Message-ID":
				origMsgID = h.Value
			}
		}
	}

	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	var raw strings.Builder
	fmt.Fprintf(&raw, "To: %s\r\n", from)
	fmt.Fprintf(&raw, "Subject: %s\r\n", subject)
	if origMsgID != "" {
		fmt.Fprintf(&raw, "In-Reply-To: %s\r\n", origMsgID)
		fmt.Fprintf(&raw, "References: %s\r\n", origMsgID)
	}
	raw.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	raw.WriteString("\r\n")
	raw.WriteString(body)

	_, err = a.srv.Users.Messages.Send(gmailUser, &gmailapi.Message{
		Raw:      base64.URLEncoding.EncodeToString([]byte(raw.String())),
		ThreadId: orig.ThreadId,
	}).Context(ctx).Do()
	if err != nil {
		return wrapErr("send reply", err)
	}

	return nil
}

// labelID resolves a label name to its provider id, creating the label
// when missing.
func (a *Adapter) labelID(ctx context.Context, name string) (string, error) {
	if id, ok := a.labelIDs[name]; ok {
		return id, nil
	}

	list, err := a.srv.Users.Labels.List(gmailUser).Context(ctx).Do()
	if err != nil {
		return "", wrapErr("list labels", err)
	}
	for _, l := range list.Labels {
		a.labelIDs[l.Name] = l.Id
	}
	if id, ok := a.labelIDs[name]; ok {
		return id, nil
	}

	created, err := a.srv.Users.Labels.Create(gmailUser, &gmailapi.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", wrapErr("create label", err)
	}

	a.labelIDs[name] = created.Id
	return created.Id, nil
}

// parseMessage converts a Gmail API message into a RawMessage.
func parseMessage(msg *gmailapi.Message) provider.RawMessage {
	raw := provider.RawMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
	}

	if msg.InternalDate > 0 {
		raw.Timestamp = time.UnixMilli(msg.InternalDate)
	}

	read := true
	for _, l := range msg.LabelIds {
		if l == "UNREAD" {
			read = false
			continue
		}
		raw.Labels = append(raw.Labels, l)
	}
	raw.Read = read

	if msg.Payload == nil {
		return raw
	}

	for _, header := range msg.Payload.Headers {
		switch header.Name {
		case "Subject":
			raw.Subject = header.Value
		case "From":
			raw.Sender = header.Value
		case "To":
			for _, r := range strings.Split(header.Value, ",") {
				if addr := strings.TrimSpace(r); addr != "" {
					raw.Recipients = append(raw.Recipients, addr)
				}
			}
		case "Date":
			if raw.Timestamp.IsZero() {
				if parsed, err := parseDateHeader(header.Value); err == nil {
					raw.Timestamp = parsed
				}
			}
		}
	}

	raw.Content = plainTextBody(msg.Payload)
	if raw.Content == "" {
		raw.Content = msg.Snippet
	}

	return raw
}

// parseDateHeader tries the date formats seen in the wild.
func parseDateHeader(value string) (time.Time, error) {
	layouts := []string{
		time.RFC1123Z,
		"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"2 Jan 2006 15:04:05 -0700",
		time.RFC1123,
	}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// plainTextBody walks the MIME tree for the first text/plain part.
func plainTextBody(payload *gmailapi.MessagePart) string {
	if payload.MimeType == "text/plain" && payload.Body != nil && payload.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(payload.Body.Data)
		if err != nil {
			return ""
		}
		return string(data)
	}

	for _, part := range payload.Parts {
		if body := plainTextBody(part); body != "" {
			return body
		}
	}

	return ""
}

// wrapErr classifies a Gmail API error into the provider taxonomy.
func wrapErr(op string, err error) error {
	if apiErr, ok := err.(*googleapi.Error); ok {
		if apiErr.Code == 401 || apiErr.Code == 403 {
			return &provider.AuthError{
				Provider: model.ProviderGmail,
				Message:  apiErr.Message,
			}
		}
		if isRetryableStatus(apiErr.Code) {
			return &provider.TransientError{Op: op, Err: err}
		}
		return fmt.Errorf("gmail %s: %w", op, err)
	}

	// Plain transport errors are treated as transient.
	return &provider.TransientError{Op: op, Err: err}
}
