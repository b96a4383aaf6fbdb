// Package imapmail implements the mail provider interface over IMAP for
// reading and SMTP for replies.
package imapmail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/email-assistant/internal/model"
	"github.com/nhle/email-assistant/internal/provider"
)

// Config holds the IMAP and SMTP server settings.
type Config struct {
	Host     string
	Port     string
	SMTPHost string
	SMTPPort string
	Username string
	Password string
	TLS      bool
}

// client wraps go-imap v2 for connecting to and querying IMAP servers.
// Each operation opens its own short-lived connection; IMAP servers
// drop idle sessions aggressively and reconnecting is cheaper than
// keepalive bookkeeping.
type client struct {
	cfg Config
}

// connect establishes a connection to the IMAP server, authenticates,
// and selects INBOX. The caller is responsible for calling Logout on
// the returned client.
func (c *client) connect(_ context.Context) (*imapclient.Client, error) {
	addr := c.cfg.Host + ":" + c.cfg.Port

	var conn *imapclient.Client
	var err error

	if c.cfg.TLS {
		conn, err = imapclient.DialTLS(addr, nil)
	} else {
		conn, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, &provider.TransientError{
			Op:  "imap dial",
			Err: fmt.Errorf("connecting to %s: %w", addr, err),
		}
	}

	if err := conn.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
		_ = conn.Logout().Wait()
		return nil, &provider.AuthError{
			Provider: model.ProviderIMAP,
			Message: fmt.Sprintf(
				"authentication failed for %s: %v", c.cfg.Username, err,
			),
		}
	}

	if _, err := conn.Select("INBOX", nil).Wait(); err != nil {
		_ = conn.Logout().Wait()
		return nil, &provider.TransientError{
			Op:  "imap select",
			Err: fmt.Errorf("selecting INBOX: %w", err),
		}
	}

	return conn, nil
}

// setFlags modifies flags on a message. If add is true the flags are
// added, otherwise removed.
func (c *client) setFlags(
	ctx context.Context, uid imap.UID, flags []imap.Flag, add bool,
) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Logout().Wait() }()

	op := imap.StoreFlagsAdd
	if !add {
		op = imap.StoreFlagsDel
	}

	storeCmd := conn.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
		Op:     op,
		Silent: true,
		Flags:  flags,
	}, nil)

	if err := storeCmd.Close(); err != nil {
		return &provider.TransientError{Op: "imap store", Err: err}
	}
	return nil
}

// parseMIMEBody parses a raw RFC 2822 message using go-message and
// extracts the text/plain and text/html bodies.
func parseMIMEBody(raw []byte) (textBody, htmlBody string) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// If parsing fails, try treating the whole thing as plain text.
		return string(raw), ""
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain"):
			textBody = string(body)
		case strings.HasPrefix(contentType, "text/html"):
			htmlBody = string(body)
		}
	}

	return textBody, htmlBody
}

// sendReply composes and sends a reply via SMTP, preserving threading
// headers from the original message.
func sendReply(
	cfg Config, to, subject, origMessageID, replyBody string,
) error {
	from := cfg.Username

	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	if origMessageID != "" {
		fmt.Fprintf(&msg, "In-Reply-To: <%s>\r\n", origMessageID)
		fmt.Fprintf(&msg, "References: <%s>\r\n", origMessageID)
	}
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(replyBody)

	addr := cfg.SMTPHost + ":" + cfg.SMTPPort

	if cfg.TLS {
		return sendSMTPWithTLS(addr, cfg, from, to, msg.String())
	}
	return sendSMTPWithStartTLS(addr, cfg, from, to, msg.String())
}

// sendSMTPWithTLS sends an email over an implicit TLS connection.
func sendSMTPWithTLS(
	addr string, cfg Config, from, to, body string,
) error {
	tlsConfig := &tls.Config{ServerName: cfg.SMTPHost}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("TLS dial to %s: %w", addr, err)
	}

	c, err := smtp.NewClient(conn, cfg.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer c.Close()

	auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPHost)
	if err := c.Auth(auth); err != nil {
		return fmt.Errorf("SMTP auth: %w", err)
	}

	return sendMailViaSMTPClient(c, from, to, body)
}

// sendSMTPWithStartTLS sends an email using STARTTLS.
func sendSMTPWithStartTLS(
	addr string, cfg Config, from, to, body string,
) error {
	conn, err := net.DialTimeout("tcp", addr, 30*time.Second)
	if err != nil {
		return fmt.Errorf("dial to %s: %w", addr, err)
	}

	c, err := smtp.NewClient(conn, cfg.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer c.Close()

	tlsConfig := &tls.Config{ServerName: cfg.SMTPHost}
	if err := c.StartTLS(tlsConfig); err != nil {
		return fmt.Errorf("SMTP STARTTLS: %w", err)
	}

	auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPHost)
	if err := c.Auth(auth); err != nil {
		return fmt.Errorf("SMTP auth: %w", err)
	}

	return sendMailViaSMTPClient(c, from, to, body)
}

// sendMailViaSMTPClient sends a message using an already-authenticated
// SMTP client.
func sendMailViaSMTPClient(
	c *smtp.Client, from, to, body string,
) error {
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("SMTP MAIL FROM: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("SMTP RCPT TO: %w", err)
	}

	writer, err := c.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}
	if _, err := writer.Write([]byte(body)); err != nil {
		writer.Close()
		return fmt.Errorf("writing SMTP body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing SMTP data: %w", err)
	}

	return c.Quit()
}
