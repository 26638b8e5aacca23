package mail

import (
	"bufio"
	"bytes"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSMTPNotifierLoadsEmbeddedTemplates(t *testing.T) {
	t.Parallel()

	n, err := NewSMTPNotifier("localhost:25", "noreply@cove.example.com", "")
	require.NoError(t, err)

	for _, kind := range []Kind{KindPending, KindRegister, KindRecover, KindRejection} {
		assert.Contains(t, n.text, kind)
	}
	// Register and recover carry an HTML alternative.
	assert.Contains(t, n.html, KindRegister)
	assert.Contains(t, n.html, KindRecover)
}

func TestBuildMessagePlain(t *testing.T) {
	t.Parallel()

	msg, err := buildMessage("noreply@cove.example.com", "alice@example.com",
		"Hello", "line one\nline two", nil)
	require.NoError(t, err)

	raw := string(msg)
	assert.Contains(t, raw, "From: noreply@cove.example.com\r\n")
	assert.Contains(t, raw, "To: alice@example.com\r\n")
	assert.Contains(t, raw, "Subject: Hello\r\n")
	assert.Contains(t, raw, "Content-Type: text/plain; charset=utf-8\r\n")
	// Bare newlines are normalized for the wire.
	assert.Contains(t, raw, "line one\r\nline two")
	assert.NotContains(t, raw, "multipart/alternative")
}

func TestBuildMessageMultipart(t *testing.T) {
	t.Parallel()

	html := bytes.NewBufferString("<p>hi</p>")
	msg, err := buildMessage("noreply@cove.example.com", "alice@example.com",
		"Hello", "hi", html)
	require.NoError(t, err)

	raw := string(msg)
	assert.Contains(t, raw, "Content-Type: multipart/alternative; boundary=")
	assert.Contains(t, raw, "Content-Type: text/plain; charset=utf-8")
	assert.Contains(t, raw, "Content-Type: text/html; charset=utf-8")
	assert.Contains(t, raw, "<p>hi</p>")
}

// fakeSMTPServer accepts one session and records the DATA payload.
type fakeSMTPServer struct {
	listener net.Listener

	mu   sync.Mutex
	data string
}

func newFakeSMTPServer(t *testing.T) *fakeSMTPServer {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	srv := &fakeSMTPServer{listener: listener}
	go srv.serve()
	return srv
}

func (s *fakeSMTPServer) serve() {
	conn, err := s.listener.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	write := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }

	write("220 test ESMTP")
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			write("250 OK")
		case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
			write("250 OK")
		case cmd == "DATA":
			write("354 go ahead")
			var body strings.Builder
			for {
				dataLine, err := reader.ReadString('\n')
				if err != nil {
					return
				}
				if strings.TrimRight(dataLine, "\r\n") == "." {
					break
				}
				body.WriteString(dataLine)
			}
			s.mu.Lock()
			s.data = body.String()
			s.mu.Unlock()
			write("250 OK")
		case cmd == "QUIT":
			write("221 bye")
			return
		default:
			write("250 OK")
		}
	}
}

func (s *fakeSMTPServer) received() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

func TestSendDeliversRenderedTemplate(t *testing.T) {
	t.Parallel()
	srv := newFakeSMTPServer(t)

	n, err := NewSMTPNotifier(srv.listener.Addr().String(), "noreply@cove.example.com", "")
	require.NoError(t, err)

	err = n.Send(KindRecover, "alice@example.com", Params{
		Login:      "alice",
		BaseURL:    "https://cove.example.com",
		SetPwToken: "reset-token-123",
	})
	require.NoError(t, err)

	body := srv.received()
	assert.Contains(t, body, "Subject: Password reset requested")
	assert.Contains(t, body, "alice")
	assert.Contains(t, body, "reset-token-123")
}

func TestSendFailsWithoutServer(t *testing.T) {
	t.Parallel()

	// A closed port fails fast instead of hanging the request.
	n, err := NewSMTPNotifier("127.0.0.1:1", "noreply@cove.example.com", "")
	require.NoError(t, err)

	err = n.Send(KindPending, "alice@example.com", Params{Login: "alice"})
	assert.Error(t, err)
}
