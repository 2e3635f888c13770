package mail

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	gomail "github.com/wneessen/go-mail"
)

type fakeTransport struct {
	from string
	to   []string
	msg  string
	err  error
}

func (f *fakeTransport) deliver(_ context.Context, m *gomail.Msg) error {
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return err
	}
	from, err := m.GetSender(false)
	if err != nil {
		return err
	}
	to, err := m.GetRecipients()
	if err != nil {
		return err
	}
	f.from, f.to, f.msg = from, to, buf.String()
	return f.err
}

func newTestSender(cfg Config) (*Sender, *fakeTransport) {
	s := New(cfg)
	ft := &fakeTransport{}
	s.transport = ft
	s.now = func() time.Time { return time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC) }
	return s, ft
}

func TestSendInvitationDefaultsRecipient(t *testing.T) {
	s, ft := newTestSender(Config{Host: "smtp.example.com", Username: "me@example.com"})

	start := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	id, err := s.SendInvitation(context.Background(), Invitation{
		Title:       "AI ethics board, part 1",
		Description: "https://ethics.example\nboard meets",
		Start:       start,
		End:         start.Add(time.Hour),
		UID:         "uid-1",
	})
	if err != nil {
		t.Fatalf("SendInvitation: %v", err)
	}
	if !strings.HasSuffix(id, "@example.com") {
		t.Errorf("message id %q should use the sender domain", id)
	}
	if ft.from != "me@example.com" || len(ft.to) != 1 || ft.to[0] != "me@example.com" {
		t.Errorf("envelope = %q -> %v", ft.from, ft.to)
	}

	for _, want := range []string{
		"Message-ID: <" + id + ">",
		"Content-Type: multipart/alternative;",
		"Content-Type: text/html; charset=UTF-8",
		"Content-Type: text/calendar; method=REQUEST; charset=UTF-8",
		"<h2>AI ethics board, part 1</h2>",
		"<p><strong>Date:</strong> 2025-03-03</p>",
		"METHOD:REQUEST",
		"UID:uid-1",
		"DTSTART:20250303T090000Z",
		"DTEND:20250303T100000Z",
		"DTSTAMP:20250201T120000Z",
		`SUMMARY:AI ethics board\, part 1`,
		`DESCRIPTION:https://ethics.example\nboard meets`,
		"ATTENDEE;RSVP=TRUE:mailto:me@example.com",
	} {
		if !strings.Contains(ft.msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestSendInvitationNoRecipient(t *testing.T) {
	s, _ := newTestSender(Config{Host: "smtp.example.com"})
	_, err := s.SendInvitation(context.Background(), Invitation{Title: "x"})
	if !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("expected ErrNoRecipient, got %v", err)
	}
}

func TestSendWithoutHost(t *testing.T) {
	s, _ := newTestSender(Config{})
	_, err := s.Send(context.Background(), Message{To: "a@example.com"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestSendPropagatesTransportError(t *testing.T) {
	s, ft := newTestSender(Config{Host: "smtp.example.com", Username: "me@example.com"})
	ft.err = ErrAuthFailed
	_, err := s.Send(context.Background(), Message{To: "a@example.com", Subject: "s", HTML: "<p>x</p>"})
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

// smtpSession is what the fake server saw from one client.
type smtpSession struct {
	auth     bool
	envelope []string // MAIL and RCPT lines
	body     string
}

// fakeSMTP serves one SMTP session. authCode is the reply to AUTH.
func fakeSMTP(t *testing.T, authCode int) (host string, port int, done chan smtpSession) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	done = make(chan smtpSession, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var sess smtpSession
		defer func() { done <- sess }()

		tp := textproto.NewConn(conn)
		tp.PrintfLine("220 fake ready")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			cmd, _, _ := strings.Cut(line, " ")
			switch strings.ToUpper(cmd) {
			case "EHLO":
				tp.PrintfLine("250-fake")
				tp.PrintfLine("250 AUTH PLAIN")
			case "AUTH":
				sess.auth = true
				if authCode == 235 {
					tp.PrintfLine("235 ok")
				} else {
					tp.PrintfLine("%d bad credentials", authCode)
				}
			case "MAIL", "RCPT":
				sess.envelope = append(sess.envelope, line)
				tp.PrintfLine("250 ok")
			case "DATA":
				tp.PrintfLine("354 go ahead")
				body, err := tp.ReadDotBytes()
				if err != nil {
					return
				}
				sess.body = string(body)
				tp.PrintfLine("250 queued")
			case "QUIT":
				tp.PrintfLine("221 bye")
				return
			default:
				// NOOP, RSET and anything else.
				tp.PrintfLine("250 ok")
			}
		}
	}()

	h, p, _ := net.SplitHostPort(ln.Addr().String())
	port, _ = strconv.Atoi(p)
	return h, port, done
}

func waitSession(t *testing.T, done chan smtpSession) smtpSession {
	t.Helper()
	select {
	case sess := <-done:
		return sess
	case <-time.After(5 * time.Second):
		t.Fatal("smtp session did not finish")
		return smtpSession{}
	}
}

func TestSMTPTransportDelivers(t *testing.T) {
	host, port, done := fakeSMTP(t, 235)
	s := New(Config{Host: host, Port: port, Username: "me@example.com", Password: "pw", Timeout: 5 * time.Second})

	id, err := s.Send(context.Background(), Message{To: "you@example.com", Subject: "hello", HTML: "<p>hi</p>"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	sess := waitSession(t, done)
	if !sess.auth {
		t.Error("client did not authenticate")
	}
	if len(sess.envelope) != 2 ||
		!strings.Contains(sess.envelope[0], "me@example.com") ||
		!strings.Contains(sess.envelope[1], "you@example.com") {
		t.Errorf("envelope = %q", sess.envelope)
	}
	if !strings.Contains(sess.body, "Message-ID: <"+id+">") {
		t.Errorf("delivered body missing message id")
	}
	if !strings.Contains(sess.body, "<p>hi</p>") {
		t.Errorf("delivered body missing html")
	}
}

func TestSMTPTransportWithoutCredentials(t *testing.T) {
	host, port, done := fakeSMTP(t, 535)
	s := New(Config{Host: host, Port: port, From: "bot@example.com", Timeout: 5 * time.Second})

	if _, err := s.Send(context.Background(), Message{To: "you@example.com", Subject: "s", HTML: "x"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sess := waitSession(t, done); sess.auth {
		t.Error("client sent AUTH without credentials")
	}
}

func TestSMTPTransportAuthFailure(t *testing.T) {
	host, port, _ := fakeSMTP(t, 535)
	s := New(Config{Host: host, Port: port, Username: "me@example.com", Password: "wrong", Timeout: 5 * time.Second})

	_, err := s.Send(context.Background(), Message{To: "you@example.com", Subject: "s", HTML: "x"})
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestSMTPTransportUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_, p, _ := net.SplitHostPort(ln.Addr().String())
	ln.Close()
	port, _ := strconv.Atoi(p)

	s := New(Config{Host: "127.0.0.1", Port: port, From: "bot@example.com", Timeout: time.Second})
	_, err = s.Send(context.Background(), Message{To: "you@example.com", Subject: "s", HTML: "x"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"auth reply", &textproto.Error{Code: 535, Msg: "bad credentials"}, ErrAuthFailed},
		{"auth required", &textproto.Error{Code: 530, Msg: "auth required"}, ErrAuthFailed},
		{"mailbox busy", &textproto.Error{Code: 450, Msg: "try later"}, ErrUnavailable},
		{"plain not offered", gomail.ErrPlainAuthNotSupported, ErrAuthFailed},
		{"network", errors.New("connection reset"), ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); !errors.Is(got, tt.want) || !errors.Is(got, tt.err) {
				t.Errorf("classify(%v) = %v, want %v wrapping the cause", tt.err, got, tt.want)
			}
		})
	}
}
