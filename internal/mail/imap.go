package mail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/smtp"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	gomail "github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/plouffe/rdv/internal/config"
	"github.com/plouffe/rdv/internal/core"
)

// Mailbox implements Port over one IMAP inbox and its SMTP submission
// endpoint. Connections are per-call; the notification volume of a
// scheduling assistant does not justify a persistent session.
type Mailbox struct {
	cfg config.MailConfig
}

var _ Port = (*Mailbox)(nil)

func NewMailbox(cfg config.MailConfig) *Mailbox {
	return &Mailbox{cfg: cfg}
}

func (m *Mailbox) connect() (*imapclient.Client, error) {
	addr := m.cfg.IMAPHost + ":" + m.cfg.IMAPPort

	var client *imapclient.Client
	var err error
	if m.cfg.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(m.cfg.Username, m.cfg.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("IMAP login for %s: %w", m.cfg.Username, err)
	}
	return client, nil
}

func (m *Mailbox) Fetch(_ context.Context, messageID string) (core.Message, error) {
	client, err := m.connect()
	if err != nil {
		return core.Message{}, err
	}
	defer func() { _ = client.Logout().Wait() }()

	uid, err := findByMessageID(client, messageID)
	if err != nil {
		return core.Message{}, err
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	fetched := fetchCmd.Next()
	if fetched == nil {
		return core.Message{}, fmt.Errorf("message %s: %w", messageID, core.ErrNotFound)
	}
	buf, err := fetched.Collect()
	if err != nil {
		return core.Message{}, fmt.Errorf("collecting message %s: %w", messageID, err)
	}

	msg := core.Message{ID: canonicalID(messageID), ReceivedAt: time.Now()}
	if buf.Envelope != nil {
		msg.Subject = buf.Envelope.Subject
		msg.ReceivedAt = buf.Envelope.Date
		if len(buf.Envelope.From) > 0 {
			msg.From = buf.Envelope.From[0].Addr()
		}
	}

	raw := buf.FindBodySection(bodySection)
	if raw == nil {
		return core.Message{}, fmt.Errorf("message %s has no body section", messageID)
	}
	body, threadID := parseBody(raw)
	msg.Body = body
	msg.MailThreadID = threadID
	if msg.MailThreadID == "" {
		msg.MailThreadID = msg.ID
	}

	if err := fetchCmd.Close(); err != nil {
		return msg, fmt.Errorf("fetching %s: %w", messageID, err)
	}
	return msg, nil
}

func findByMessageID(client *imapclient.Client, messageID string) (imap.UID, error) {
	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return 0, fmt.Errorf("selecting INBOX: %w", err)
	}

	criteria := &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{
			{Key: "Message-Id", Value: canonicalID(messageID)},
		},
	}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return 0, fmt.Errorf("searching for %s: %w", messageID, err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return 0, fmt.Errorf("message %s: %w", messageID, core.ErrNotFound)
	}
	return uids[len(uids)-1], nil
}

// parseBody extracts the text/plain part and the conversation root. The
// root is the first References entry, then In-Reply-To, then empty for a
// thread-starting message.
func parseBody(raw []byte) (body, threadID string) {
	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return string(raw), ""
	}
	defer mr.Close()

	if refs := mr.Header.Get("References"); refs != "" {
		if ids := splitIDs(refs); len(ids) > 0 {
			threadID = ids[0]
		}
	}
	if threadID == "" {
		threadID = canonicalID(mr.Header.Get("In-Reply-To"))
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		if h, ok := part.Header.(*gomail.InlineHeader); ok {
			contentType, _, _ := h.ContentType()
			if strings.HasPrefix(contentType, "text/plain") {
				data, readErr := io.ReadAll(part.Body)
				if readErr == nil {
					body = string(data)
				}
			}
		}
	}
	return body, threadID
}

func (m *Mailbox) Reply(_ context.Context, orig core.Message, body string) error {
	subject := orig.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	var h gomail.Header
	h.SetDate(time.Now())
	h.SetSubject(subject)
	h.SetMessageID(uuid.NewString() + "@" + m.cfg.SMTPHost)
	h.SetAddressList("From", []*gomail.Address{{Address: m.cfg.From}})
	h.SetAddressList("To", []*gomail.Address{{Address: orig.From}})
	h.Set("In-Reply-To", "<"+orig.ID+">")
	h.Set("References", referencesFor(orig))

	msg, err := buildPlainText(h, body)
	if err != nil {
		return err
	}
	return m.send(orig.From, msg)
}

func (m *Mailbox) Notify(_ context.Context, subject, body string) error {
	if m.cfg.NotifyAddress == "" {
		return nil
	}

	var h gomail.Header
	h.SetDate(time.Now())
	h.SetSubject(subject)
	h.SetMessageID(uuid.NewString() + "@" + m.cfg.SMTPHost)
	h.SetAddressList("From", []*gomail.Address{{Address: m.cfg.From}})
	h.SetAddressList("To", []*gomail.Address{{Address: m.cfg.NotifyAddress}})

	msg, err := buildPlainText(h, body)
	if err != nil {
		return err
	}
	return m.send(m.cfg.NotifyAddress, msg)
}

func (m *Mailbox) MarkHandled(_ context.Context, messageID string) error {
	client, err := m.connect()
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	uid, err := findByMessageID(client, messageID)
	if err != nil {
		return err
	}
	storeCmd := client.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagAnswered},
	}, nil)
	return storeCmd.Close()
}

func buildPlainText(h gomail.Header, body string) ([]byte, error) {
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := gomail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("building message: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		w.Close()
		return nil, fmt.Errorf("writing body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing message: %w", err)
	}
	return buf.Bytes(), nil
}

func (m *Mailbox) send(to string, msg []byte) error {
	addr := m.cfg.SMTPHost + ":" + m.cfg.SMTPPort
	var auth smtp.Auth
	if m.cfg.Password != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.SMTPHost)
	}
	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("sending mail to %s: %w", to, err)
	}
	return nil
}

// referencesFor builds the References header for a reply: the conversation
// root first, then the message being answered.
func referencesFor(orig core.Message) string {
	if orig.MailThreadID == "" || orig.MailThreadID == orig.ID {
		return "<" + orig.ID + ">"
	}
	return "<" + orig.MailThreadID + "> <" + orig.ID + ">"
}

// canonicalID strips the RFC 5322 angle brackets so the same identifier is
// stored no matter how the caller quoted it.
func canonicalID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

func splitIDs(refs string) []string {
	var out []string
	for _, field := range strings.Fields(refs) {
		if id := canonicalID(field); id != "" {
			out = append(out, id)
		}
	}
	return out
}
