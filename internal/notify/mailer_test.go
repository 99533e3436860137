package notify

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/edgewatch/edgewatch-core/internal/infrastructure/config"
)

// fakeSMTP is a minimal SMTP server accepting one message per connection.
type fakeSMTP struct {
	ln   net.Listener
	mu   sync.Mutex
	from string
	rcpt string
	data string
	done chan struct{}
}

func startFakeSMTP(t *testing.T) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &fakeSMTP{ln: ln, done: make(chan struct{})}
	t.Cleanup(func() { ln.Close() })
	go s.serve()
	return s
}

func (s *fakeSMTP) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeSMTP) serve() {
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	defer close(s.done)

	r := bufio.NewReader(conn)
	reply := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }
	reply("220 localhost ESMTP")

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimRight(line, "\r\n")
		upper := strings.ToUpper(cmd)
		switch {
		case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
			reply("250 localhost")
		case strings.HasPrefix(upper, "MAIL FROM:"):
			s.mu.Lock()
			s.from = cmd[len("MAIL FROM:"):]
			s.mu.Unlock()
			reply("250 OK")
		case strings.HasPrefix(upper, "RCPT TO:"):
			s.mu.Lock()
			s.rcpt = cmd[len("RCPT TO:"):]
			s.mu.Unlock()
			reply("250 OK")
		case upper == "DATA":
			reply("354 End data with <CR><LF>.<CR><LF>")
			var b strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				b.WriteString(l)
			}
			s.mu.Lock()
			s.data = b.String()
			s.mu.Unlock()
			reply("250 OK")
		case upper == "QUIT":
			reply("221 Bye")
			return
		default:
			reply("250 OK")
		}
	}
}

func TestSMTPMailer_SendMail(t *testing.T) {
	srv := startFakeSMTP(t)
	m := NewSMTPMailer(config.EmailConfig{
		Host:     "127.0.0.1",
		Port:     srv.port(),
		From:     "alerts@example.com",
		FromName: "Edgewatch",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := m.SendMail(ctx, "alice@example.com\r\nBcc: evil@example.com", "Intruder detected on Porch", "<p>hi</p>")
	if err != nil {
		t.Fatalf("SendMail() error = %v", err)
	}

	select {
	case <-srv.done:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not finish")
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.from != "<alerts@example.com>" {
		t.Errorf("MAIL FROM = %q", srv.from)
	}
	if !strings.Contains(srv.rcpt, "alice@example.com") {
		t.Errorf("RCPT TO = %q", srv.rcpt)
	}
	for _, want := range []string{
		"From: Edgewatch <alerts@example.com>",
		"Subject: Intruder detected on Porch",
		"Content-Type: text/html; charset=UTF-8",
		"<p>hi</p>",
	} {
		if !strings.Contains(srv.data, want) {
			t.Errorf("message missing %q:\n%s", want, srv.data)
		}
	}
	if strings.Contains(srv.data, "\r\nBcc:") {
		t.Error("header injection not sanitised")
	}
}

func TestSMTPMailer_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	m := NewSMTPMailer(config.EmailConfig{Host: "127.0.0.1", Port: port, From: "a@example.com"})
	if err := m.SendMail(context.Background(), "b@example.com", "s", "b"); err == nil {
		t.Error("SendMail() expected dial error")
	}
}
