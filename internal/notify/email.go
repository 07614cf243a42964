package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"sort"
	"strconv"
	"strings"

	"github.com/CosmoTheDev/zapmcp/internal/config"
)

// EmailChannel sends notifications via SMTP.
type EmailChannel struct {
	cfg config.EmailConfig
}

// NewEmail creates an EmailChannel from cfg.
func NewEmail(cfg config.EmailConfig) *EmailChannel { return &EmailChannel{cfg: cfg} }

func (e *EmailChannel) Name() string { return "email" }
func (e *EmailChannel) IsConfigured() bool {
	return e.cfg.SMTPHost != "" && e.cfg.To != "" && e.cfg.From != ""
}

func (e *EmailChannel) addr() string {
	port := e.cfg.SMTPPort
	if port == 0 {
		port = 587
	}
	return net.JoinHostPort(e.cfg.SMTPHost, strconv.Itoa(port))
}

func (e *EmailChannel) auth() smtp.Auth {
	if e.cfg.Username == "" {
		return nil
	}
	return smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.SMTPHost)
}

// Send delivers evt as a plain-text message. net/smtp does not take a
// context, so ctx only guards the start of the exchange.
func (e *EmailChannel) Send(ctx context.Context, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := e.message(evt)
	if !e.cfg.UseTLS {
		if err := smtp.SendMail(e.addr(), e.auth(), e.cfg.From, []string{e.cfg.To}, msg); err != nil {
			return fmt.Errorf("email: %w", err)
		}
		return nil
	}

	conn, err := tls.Dial("tcp", e.addr(), &tls.Config{ServerName: e.cfg.SMTPHost, MinVersion: tls.VersionTLS12})
	if err != nil {
		return fmt.Errorf("email: TLS dial: %w", err)
	}
	client, err := smtp.NewClient(conn, e.cfg.SMTPHost)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("email: %w", err)
	}
	defer client.Close()
	if auth := e.auth(); auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("email: auth: %w", err)
		}
	}
	if err := client.Mail(e.cfg.From); err != nil {
		return fmt.Errorf("email: MAIL FROM: %w", err)
	}
	if err := client.Rcpt(e.cfg.To); err != nil {
		return fmt.Errorf("email: RCPT TO: %w", err)
	}
	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("email: DATA: %w", err)
	}
	if _, err := wc.Write(msg); err != nil {
		return fmt.Errorf("email: writing body: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("email: %w", err)
	}
	return client.Quit()
}

// message builds the RFC 5322 message with CRLF line endings.
func (e *EmailChannel) message(evt Event) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\r\n", headerSafe(evt.Title))
	fmt.Fprintf(&b, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", e.cfg.To)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")

	body := evt.Body
	if evt.Target != "" {
		body += "\n\nTarget: " + evt.Target
	}
	body += "\nScan: " + evt.ScanID
	keys := make([]string, 0, len(evt.Metadata))
	for k := range evt.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		body += fmt.Sprintf("\n%s: %v", k, evt.Metadata[k])
	}
	b.WriteString(strings.ReplaceAll(strings.TrimLeft(body, "\n"), "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

func headerSafe(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
