package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/CosmoTheDev/zapmcp/internal/config"
	"github.com/CosmoTheDev/zapmcp/models"
)

// SignatureHeader carries "sha256=" plus the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Zapmcp-Signature"

// Sign returns the hex HMAC-SHA256 of body keyed with secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// WebhookChannel posts the event as JSON to a generic endpoint, signed when
// a secret is configured.
type WebhookChannel struct {
	p      poster
	secret string
}

// NewWebhook creates a WebhookChannel from cfg.
func NewWebhook(cfg config.WebhookConfig) *WebhookChannel {
	return &WebhookChannel{p: newPoster("webhook", cfg.URL), secret: cfg.Secret}
}

func (w *WebhookChannel) Name() string       { return "webhook" }
func (w *WebhookChannel) IsConfigured() bool { return w.p.url != "" }

type webhookPayload struct {
	Type     models.EventType `json:"type"`
	Title    string           `json:"title"`
	Body     string           `json:"body"`
	ScanID   string           `json:"scan_id"`
	Target   string           `json:"target_url"`
	State    models.ScanState `json:"state"`
	Severity models.RiskLevel `json:"severity,omitempty"`
	Metadata map[string]any   `json:"metadata,omitempty"`
	TS       string           `json:"ts"`
}

func (w *WebhookChannel) Send(ctx context.Context, evt Event) error {
	payload := webhookPayload{
		Type:     evt.Type,
		Title:    evt.Title,
		Body:     evt.Body,
		ScanID:   evt.ScanID,
		Target:   evt.Target,
		State:    evt.State,
		Severity: evt.Severity,
		Metadata: evt.Metadata,
		TS:       time.Now().UTC().Format(time.RFC3339),
	}
	var sign func([]byte, http.Header)
	if w.secret != "" {
		sign = func(body []byte, h http.Header) {
			h.Set(SignatureHeader, "sha256="+Sign(w.secret, body))
		}
	}
	return w.p.post(ctx, payload, sign)
}
