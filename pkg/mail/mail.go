// Package mail sends the account lifecycle notifications over SMTP.
package mail

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"io/fs"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"strings"
	texttemplate "text/template"
	"time"
)

// Kind selects a notification template pair.
type Kind string

// Known notification kinds.
const (
	KindPending   Kind = "pending"
	KindRegister  Kind = "register"
	KindRecover   Kind = "recover"
	KindRejection Kind = "rejection"
)

// Params carries the values rendered into a template.
type Params struct {
	Login      string
	BaseURL    string
	SetPwToken string
}

// Notifier sends a templated notification to a recipient.
type Notifier interface {
	Send(kind Kind, recipient string, params Params) error
}

//go:embed templates/*.txt templates/*.html
var defaultTemplates embed.FS

const smtpTimeout = 3 * time.Second

// SMTPNotifier renders kind-specific templates and delivers them over SMTP.
// The text template of a kind is mandatory; when an HTML template also
// exists the message goes out as multipart/alternative.
type SMTPNotifier struct {
	addr string
	from string

	text map[Kind]*texttemplate.Template
	html map[Kind]*htmltemplate.Template
}

// NewSMTPNotifier builds a notifier for the SMTP server at addr
// (host:port). Templates are loaded from templatesDir when set, otherwise
// the embedded defaults apply. Each kind needs <kind>.txt; <kind>.html is
// optional.
func NewSMTPNotifier(addr, from, templatesDir string) (*SMTPNotifier, error) {
	var source fs.FS
	if templatesDir != "" {
		source = os.DirFS(templatesDir)
	} else {
		sub, err := fs.Sub(defaultTemplates, "templates")
		if err != nil {
			return nil, fmt.Errorf("opening embedded templates: %w", err)
		}
		source = sub
	}

	n := &SMTPNotifier{
		addr: addr,
		from: from,
		text: make(map[Kind]*texttemplate.Template),
		html: make(map[Kind]*htmltemplate.Template),
	}
	for _, kind := range []Kind{KindPending, KindRegister, KindRecover, KindRejection} {
		raw, err := fs.ReadFile(source, string(kind)+".txt")
		if err != nil {
			return nil, fmt.Errorf("loading %s text template: %w", kind, err)
		}
		tmpl, err := texttemplate.New(string(kind)).Parse(string(raw))
		if err != nil {
			return nil, fmt.Errorf("parsing %s text template: %w", kind, err)
		}
		n.text[kind] = tmpl

		rawHTML, err := fs.ReadFile(source, string(kind)+".html")
		if err != nil {
			continue
		}
		htmlTmpl, err := htmltemplate.New(string(kind)).Parse(string(rawHTML))
		if err != nil {
			return nil, fmt.Errorf("parsing %s html template: %w", kind, err)
		}
		n.html[kind] = htmlTmpl
	}
	return n, nil
}

// Send renders the kind's templates and delivers the message.
func (n *SMTPNotifier) Send(kind Kind, recipient string, params Params) error {
	textTmpl, ok := n.text[kind]
	if !ok {
		return fmt.Errorf("unknown notification kind %q", kind)
	}

	var textBody bytes.Buffer
	if err := textTmpl.Execute(&textBody, params); err != nil {
		return fmt.Errorf("rendering %s text body: %w", kind, err)
	}

	var htmlBody *bytes.Buffer
	if htmlTmpl, ok := n.html[kind]; ok {
		htmlBody = &bytes.Buffer{}
		if err := htmlTmpl.Execute(htmlBody, params); err != nil {
			return fmt.Errorf("rendering %s html body: %w", kind, err)
		}
	}

	subject := subjectFor(kind)
	msg, err := buildMessage(n.from, recipient, subject, textBody.String(), htmlBody)
	if err != nil {
		return err
	}
	return n.deliver(recipient, msg)
}

func subjectFor(kind Kind) string {
	switch kind {
	case KindPending:
		return "Registration request received"
	case KindRegister:
		return "Your account has been approved"
	case KindRecover:
		return "Password reset requested"
	case KindRejection:
		return "Registration request rejected"
	}
	return "Notification"
}

// buildMessage assembles the RFC 5322 message, multipart/alternative when
// an HTML body is present.
func buildMessage(from, to, subject, textBody string, htmlBody *bytes.Buffer) ([]byte, error) {
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")

	if htmlBody == nil {
		fmt.Fprintf(&msg, "Content-Type: text/plain; charset=utf-8\r\n\r\n")
		msg.WriteString(crlf(textBody))
		return msg.Bytes(), nil
	}

	writer := multipart.NewWriter(&msg)
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", writer.Boundary())

	textPart, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=utf-8"},
	})
	if err != nil {
		return nil, fmt.Errorf("creating text part: %w", err)
	}
	if _, err := textPart.Write([]byte(crlf(textBody))); err != nil {
		return nil, fmt.Errorf("writing text part: %w", err)
	}

	htmlPart, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/html; charset=utf-8"},
	})
	if err != nil {
		return nil, fmt.Errorf("creating html part: %w", err)
	}
	if _, err := htmlPart.Write([]byte(crlf(htmlBody.String()))); err != nil {
		return nil, fmt.Errorf("writing html part: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart writer: %w", err)
	}
	return msg.Bytes(), nil
}

func crlf(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\n", "\r\n")
}

// deliver speaks SMTP with a bounded dial and IO deadline so a stuck mail
// server cannot hold a request open.
func (n *SMTPNotifier) deliver(recipient string, msg []byte) error {
	conn, err := net.DialTimeout("tcp", n.addr, smtpTimeout)
	if err != nil {
		return fmt.Errorf("dialing smtp server: %w", err)
	}
	if err := conn.SetDeadline(time.Now().Add(smtpTimeout)); err != nil {
		_ = conn.Close()
		return fmt.Errorf("setting smtp deadline: %w", err)
	}

	host, _, err := net.SplitHostPort(n.addr)
	if err != nil {
		host = n.addr
	}
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("starting smtp session: %w", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.Mail(n.from); err != nil {
		return fmt.Errorf("smtp MAIL: %w", err)
	}
	if err := client.Rcpt(recipient); err != nil {
		return fmt.Errorf("smtp RCPT: %w", err)
	}
	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := wc.Write(msg); err != nil {
		_ = wc.Close()
		return fmt.Errorf("writing message: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("finishing message: %w", err)
	}
	return client.Quit()
}
