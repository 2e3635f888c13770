// Package mail sends event invitations over SMTP: an HTML body plus an
// iCalendar REQUEST part that mail clients render as an invite.
package mail

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
	gomail "github.com/wneessen/go-mail"
	gosmtp "github.com/wneessen/go-mail/smtp"

	"github.com/abelbrown/recall/internal/logging"
)

var (
	ErrAuthFailed  = errors.New("smtp authentication failed")
	ErrUnavailable = errors.New("smtp unavailable")
	ErrNoRecipient = errors.New("no email recipient")
)

// Config configures a Sender.
type Config struct {
	Host             string
	Port             int
	Username         string
	Password         string
	From             string // defaults to Username
	DefaultRecipient string // defaults to Username
	Timeout          time.Duration
}

// Message is a ready-to-send email.
type Message struct {
	To       string
	Subject  string
	HTML     string
	Calendar string // optional text/calendar body
}

// Invitation describes an event to invite someone to.
type Invitation struct {
	To          string // empty uses the configured default recipient
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	UID         string // stable iCalendar UID
}

// transport delivers a composed message.
type transport interface {
	deliver(ctx context.Context, msg *gomail.Msg) error
}

// Sender sends mail through one SMTP server.
type Sender struct {
	cfg       Config
	transport transport
	now       func() time.Time
}

// New creates a Sender.
func New(cfg Config) *Sender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.DefaultRecipient == "" {
		cfg.DefaultRecipient = cfg.Username
	}
	return &Sender{cfg: cfg, transport: &smtpTransport{cfg: cfg}, now: time.Now}
}

// SendInvitation composes and sends an invitation, returning its Message-ID.
func (s *Sender) SendInvitation(ctx context.Context, inv Invitation) (string, error) {
	to := inv.To
	if to == "" {
		to = s.cfg.DefaultRecipient
	}
	if to == "" {
		return "", ErrNoRecipient
	}
	if inv.UID == "" {
		inv.UID = uuid.NewString()
	}

	return s.Send(ctx, Message{
		To:       to,
		Subject:  inv.Title,
		HTML:     invitationHTML(inv),
		Calendar: invitationICS(inv, s.cfg.From, to, s.now()),
	})
}

// Send delivers msg and returns the Message-ID it was sent with.
func (s *Sender) Send(ctx context.Context, msg Message) (string, error) {
	if msg.To == "" {
		return "", ErrNoRecipient
	}
	if s.cfg.Host == "" {
		return "", fmt.Errorf("%w: no SMTP host configured", ErrUnavailable)
	}

	id, m, err := s.compose(msg)
	if err != nil {
		return "", err
	}

	logging.Debug("sending email", "host", s.cfg.Host, "message_id", id)
	if err := s.transport.deliver(ctx, m); err != nil {
		logging.Warn("email send failed", "host", s.cfg.Host, "err", err)
		return "", err
	}
	logging.Info("email sent", "message_id", id)
	return id, nil
}

func (s *Sender) compose(msg Message) (string, *gomail.Msg, error) {
	domain := "recall.local"
	if i := strings.LastIndex(s.cfg.From, "@"); i >= 0 && i < len(s.cfg.From)-1 {
		domain = s.cfg.From[i+1:]
	}
	id := uuid.NewString() + "@" + domain

	m := gomail.NewMsg(gomail.WithEncoding(gomail.NoEncoding))
	if err := m.From(s.cfg.From); err != nil {
		return "", nil, fmt.Errorf("%w: from address: %w", ErrUnavailable, err)
	}
	if err := m.To(msg.To); err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrNoRecipient, err)
	}
	m.Subject(msg.Subject)
	m.SetDateWithValue(s.now())
	m.SetMessageIDWithValue(id)
	m.SetBodyString(gomail.TypeTextHTML, msg.HTML)
	if msg.Calendar != "" {
		m.AddAlternativeString(gomail.ContentType("text/calendar; method=REQUEST"), msg.Calendar)
	}
	return id, m, nil
}

func invitationHTML(inv Invitation) string {
	var b strings.Builder
	b.WriteString("<html><body>\n")
	fmt.Fprintf(&b, "<h2>%s</h2>\n", html.EscapeString(inv.Title))
	fmt.Fprintf(&b, "<p><strong>Date:</strong> %s</p>\n", inv.Start.Format("2006-01-02"))
	fmt.Fprintf(&b, "<p><strong>Time:</strong> %s - %s (%s)</p>\n", inv.Start.Format("15:04"), inv.End.Format("15:04"), inv.Start.Location())
	if inv.Description != "" {
		fmt.Fprintf(&b, "<p>%s</p>\n", strings.ReplaceAll(html.EscapeString(inv.Description), "\n", "<br>"))
	}
	b.WriteString("</body></html>\n")
	return b.String()
}

const icsTime = "20060102T150405Z"

func invitationICS(inv Invitation, from, to string, now time.Time) string {
	lines := []string{
		"BEGIN:VCALENDAR",
		"PRODID:-//Recall//Invitation//EN",
		"VERSION:2.0",
		"METHOD:REQUEST",
		"BEGIN:VEVENT",
		"UID:" + inv.UID,
		"DTSTAMP:" + now.UTC().Format(icsTime),
		"DTSTART:" + inv.Start.UTC().Format(icsTime),
		"DTEND:" + inv.End.UTC().Format(icsTime),
		"SUMMARY:" + icsEscape(inv.Title),
	}
	if inv.Description != "" {
		lines = append(lines, "DESCRIPTION:"+icsEscape(inv.Description))
	}
	if from != "" {
		lines = append(lines, "ORGANIZER:mailto:"+from)
	}
	lines = append(lines,
		"ATTENDEE;RSVP=TRUE:mailto:"+to,
		"END:VEVENT",
		"END:VCALENDAR",
	)
	return strings.Join(lines, "\r\n") + "\r\n"
}

var icsEscaper = strings.NewReplacer(`\`, `\\`, ";", `\;`, ",", `\,`, "\r\n", `\n`, "\n", `\n`)

func icsEscape(s string) string { return icsEscaper.Replace(s) }

// smtpTransport speaks SMTP with STARTTLS when offered and PLAIN auth when
// credentials are configured.
type smtpTransport struct {
	cfg Config
}

func (t *smtpTransport) deliver(ctx context.Context, msg *gomail.Msg) error {
	opts := []gomail.Option{
		gomail.WithPort(t.cfg.Port),
		gomail.WithTimeout(t.cfg.Timeout),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if t.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(t.cfg.Username),
			gomail.WithPassword(t.cfg.Password),
		)
	} else {
		opts = append(opts, gomail.WithSMTPAuth(gomail.SMTPAuthNoAuth))
	}
	client, err := gomail.NewClient(t.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps SMTP failures onto the package's sentinels. 530, 534, 535
// and 538 are the authentication replies of RFC 4954.
func classify(err error) error {
	code := 0
	var tpErr *textproto.Error
	var sendErr *gomail.SendError
	switch {
	case errors.As(err, &tpErr):
		code = tpErr.Code
	case errors.As(err, &sendErr):
		code = sendErr.ErrorCode()
	}
	switch {
	case code == 530, code == 534, code == 535, code == 538,
		errors.Is(err, gosmtp.ErrUnencrypted),
		errors.Is(err, gomail.ErrPlainAuthNotSupported):
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
