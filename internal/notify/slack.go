package notify

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/CosmoTheDev/zapmcp/internal/config"
	"github.com/CosmoTheDev/zapmcp/models"
)

// SlackChannel posts to a Slack incoming webhook.
type SlackChannel struct {
	p poster
}

// NewSlack creates a SlackChannel from cfg.
func NewSlack(cfg config.SlackConfig) *SlackChannel {
	return &SlackChannel{p: newPoster("slack webhook", cfg.WebhookURL)}
}

func (s *SlackChannel) Name() string       { return "slack" }
func (s *SlackChannel) IsConfigured() bool { return s.p.url != "" }

type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields,omitempty"`
	Footer string       `json:"footer"`
	TS     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func (s *SlackChannel) Send(ctx context.Context, evt Event) error {
	att := slackAttachment{
		Color:  severityColor(evt.Severity),
		Title:  evt.Title,
		Text:   evt.Body,
		Footer: "zapmcp scan " + evt.ScanID,
		TS:     time.Now().Unix(),
	}
	if evt.Type == models.EventScanError {
		att.Color = "#FF0000"
	}
	if evt.Target != "" {
		att.Fields = append(att.Fields, slackField{Title: "Target", Value: evt.Target})
	}
	att.Fields = append(att.Fields, metadataFields(evt.Metadata)...)
	return s.p.post(ctx, slackMessage{Text: evt.Title, Attachments: []slackAttachment{att}}, nil)
}

// metadataFields renders scalar metadata as short fields in key order.
func metadataFields(meta map[string]any) []slackField {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]slackField, 0, len(keys))
	for _, k := range keys {
		var v string
		switch x := meta[k].(type) {
		case string:
			v = x
		case int:
			v = strconv.Itoa(x)
		default:
			continue
		}
		out = append(out, slackField{Title: k, Value: v, Short: true})
	}
	return out
}

func severityColor(sev models.RiskLevel) string {
	switch sev {
	case models.RiskHigh:
		return "#FF6600"
	case models.RiskMedium:
		return "#FFAA00"
	case models.RiskLow:
		return "#0099FF"
	default:
		return "#888888"
	}
}
