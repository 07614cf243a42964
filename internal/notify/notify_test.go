package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/CosmoTheDev/zapmcp/internal/config"
	"github.com/CosmoTheDev/zapmcp/models"
)

type recordingChannel struct {
	sent []Event
	err  error
}

func (r *recordingChannel) Name() string       { return "recording" }
func (r *recordingChannel) IsConfigured() bool { return true }

func (r *recordingChannel) Send(_ context.Context, evt Event) error {
	r.sent = append(r.sent, evt)
	return r.err
}

func completedRecord() models.ScanRecord {
	done := time.Now()
	return models.ScanRecord{
		ID:          "scan-1",
		Request:     models.ScanRequest{Target: "http://app.local", Kind: models.ScanActive},
		State:       models.StateCompleted,
		CompletedAt: &done,
		Result: &models.MergedResult{
			Total:       3,
			UniqueNames: 2,
			Histogram:   map[models.RiskLevel]int{models.RiskMedium: 2, models.RiskLow: 1},
		},
	}
}

func TestEventForCompletedScan(t *testing.T) {
	evt := EventFor(completedRecord())
	if evt.Type != models.EventScanComplete {
		t.Fatalf("expected scan_complete, got %s", evt.Type)
	}
	if evt.Severity != models.RiskMedium {
		t.Fatalf("expected highest risk medium, got %q", evt.Severity)
	}
	if evt.Body != "3 findings (2 unique): 0 high, 2 medium, 1 low, 0 info" {
		t.Fatalf("unexpected body %q", evt.Body)
	}
}

func TestEventForFailedScan(t *testing.T) {
	rec := models.ScanRecord{
		ID:      "scan-2",
		Request: models.ScanRequest{Target: "http://app.local", Kind: models.ScanPassive},
		State:   models.StateTimedOut,
		Error:   &models.ScanError{Kind: models.KindTimeout, Message: "scan timed out after 1s"},
	}
	evt := EventFor(rec)
	if evt.Type != models.EventScanError || evt.Body != "scan timed out after 1s" {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if evt.Metadata["error_kind"] != "timeout" {
		t.Fatalf("expected error_kind metadata, got %+v", evt.Metadata)
	}
}

func TestDispatcherFiltersEventTypes(t *testing.T) {
	ch := &recordingChannel{}
	d := newDispatcher(nil, ch)

	d.NotifyScan(context.Background(), completedRecord())
	if len(ch.sent) != 0 {
		t.Fatalf("scan_complete is not a default notify event")
	}

	failed := completedRecord()
	failed.State = models.StateError
	failed.Result = nil
	failed.Error = &models.ScanError{Kind: models.KindBackendError, Message: "zap down"}
	d.NotifyScan(context.Background(), failed)
	if len(ch.sent) != 1 {
		t.Fatalf("expected one notification, got %d", len(ch.sent))
	}

	all := newDispatcher([]string{"scan_complete", "scan_error"}, &recordingChannel{err: errors.New("boom")})
	all.NotifyScan(context.Background(), completedRecord())
}

func TestDispatcherSkipsUnconfiguredChannels(t *testing.T) {
	d := NewDispatcher(config.NotifyConfig{
		Telegram: config.TelegramConfig{BotToken: "token"},
		Email:    config.EmailConfig{SMTPHost: "smtp.local", From: "zap@local"},
	})
	if d.IsAnyConfigured() {
		t.Fatalf("expected no configured channels")
	}
}

func TestDispatcherWiresEveryChannel(t *testing.T) {
	d := NewDispatcher(config.NotifyConfig{
		Webhook:  config.WebhookConfig{URL: "http://hooks.local"},
		Slack:    config.SlackConfig{WebhookURL: "http://slack.local"},
		Telegram: config.TelegramConfig{BotToken: "token", ChatID: "42"},
		Email:    config.EmailConfig{SMTPHost: "smtp.local", From: "zap@local", To: "sec@local"},
	})
	var names []string
	for _, ch := range d.channels {
		names = append(names, ch.Name())
	}
	if got := strings.Join(names, ","); got != "slack,webhook,telegram,email" {
		t.Fatalf("channels = %s", got)
	}
}

func TestWebhookSignsBody(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(config.WebhookConfig{URL: srv.URL, Secret: "s3cret"})
	if err := wh.Send(context.Background(), EventFor(completedRecord())); err != nil {
		t.Fatalf("send: %v", err)
	}
	if want := "sha256=" + Sign("s3cret", gotBody); gotSig != want {
		t.Fatalf("signature mismatch: got %q want %q", gotSig, want)
	}

	var payload map[string]any
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["scan_id"] != "scan-1" || payload["type"] != "scan_complete" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestWebhookReportsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhook(config.WebhookConfig{URL: srv.URL}).Send(context.Background(), Event{Type: models.EventScanError}); err == nil {
		t.Fatalf("expected error for 502 response")
	}
}

func TestSlackPayload(t *testing.T) {
	var payload struct {
		Text        string           `json:"text"`
		Attachments []map[string]any `json:"attachments"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}))
	defer srv.Close()

	if err := NewSlack(config.SlackConfig{WebhookURL: srv.URL}).Send(context.Background(), EventFor(completedRecord())); err != nil {
		t.Fatalf("send: %v", err)
	}
	if payload.Text != "Scan of http://app.local completed" {
		t.Fatalf("unexpected text %q", payload.Text)
	}
	if len(payload.Attachments) != 1 || payload.Attachments[0]["color"] != "#FFAA00" {
		t.Fatalf("unexpected attachments: %v", payload.Attachments)
	}
}

func TestTelegramSendsToBotEndpoint(t *testing.T) {
	var path string
	var msg telegramMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&msg)
	}))
	defer srv.Close()

	tg := NewTelegram(config.TelegramConfig{BotToken: "123:abc", ChatID: "-100"})
	tg.apiBase = srv.URL
	if err := tg.Send(context.Background(), EventFor(completedRecord())); err != nil {
		t.Fatalf("send: %v", err)
	}
	if path != "/bot123:abc/sendMessage" {
		t.Fatalf("unexpected path %q", path)
	}
	if msg.ChatID != "-100" || !strings.HasPrefix(msg.Text, "Scan of http://app.local completed\n\n3 findings") {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestTelegramTruncatesLongText(t *testing.T) {
	text := telegramText(Event{Title: "t", Body: strings.Repeat("x", 5000), ScanID: "s"})
	if len(text) != telegramMaxText || !strings.HasSuffix(text, "...") {
		t.Fatalf("len = %d", len(text))
	}
}

func TestTelegramReportsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tg := NewTelegram(config.TelegramConfig{BotToken: "bad", ChatID: "1"})
	tg.apiBase = srv.URL
	if err := tg.Send(context.Background(), Event{Type: models.EventScanError}); err == nil {
		t.Fatalf("expected error for 401 response")
	}
}

// fakeSMTP accepts one session and returns the DATA section it received.
func fakeSMTP(t *testing.T) (host string, port int, data <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	out := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		reply := func(s string) { _, _ = io.WriteString(conn, s+"\r\n") }
		reply("220 localhost ESMTP")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			switch cmd := strings.ToUpper(strings.TrimSpace(line)); {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				reply("250 localhost")
			case strings.HasPrefix(cmd, "DATA"):
				reply("354 end with .")
				var body strings.Builder
				for {
					l, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if l == ".\r\n" {
						break
					}
					body.WriteString(l)
				}
				out <- body.String()
				reply("250 queued")
			case strings.HasPrefix(cmd, "QUIT"):
				reply("221 bye")
				return
			default:
				reply("250 OK")
			}
		}
	}()

	h, p, _ := net.SplitHostPort(ln.Addr().String())
	n, _ := strconv.Atoi(p)
	return h, n, out
}

func TestEmailSendsPlainTextMessage(t *testing.T) {
	host, port, data := fakeSMTP(t)
	em := NewEmail(config.EmailConfig{SMTPHost: host, SMTPPort: port, From: "zap@local", To: "sec@local"})
	if !em.IsConfigured() {
		t.Fatalf("expected email channel to be configured")
	}

	failed := completedRecord()
	failed.State = models.StateError
	failed.Result = nil
	failed.Error = &models.ScanError{Kind: models.KindTimeout, Message: "scan timed out"}
	if err := em.Send(context.Background(), EventFor(failed)); err != nil {
		t.Fatalf("send: %v", err)
	}

	var msg string
	select {
	case msg = <-data:
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
	for _, want := range []string{
		"Subject: Scan of http://app.local failed (error)\r\n",
		"To: sec@local\r\n",
		"scan timed out\r\n",
		"Scan: scan-1\r\n",
		"error_kind: timeout\r\n",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestEmailHeaderStripsNewlines(t *testing.T) {
	msg := string(NewEmail(config.EmailConfig{From: "a@b", To: "c@d"}).message(Event{Title: "x\r\nBcc: evil@local"}))
	if strings.Contains(msg, "\r\nBcc:") {
		t.Fatalf("header injection in %q", msg)
	}
}
