package notify

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/CosmoTheDev/zapmcp/internal/config"
	"github.com/CosmoTheDev/zapmcp/models"
)

// Dispatcher fans out events to all configured channels.
type Dispatcher struct {
	channels []Channel
	events   map[models.EventType]bool
}

// defaultEvents is the set of event types that trigger notifications when cfg.Events is empty.
var defaultEvents = map[models.EventType]bool{
	models.EventScanError: true,
}

// NewDispatcher creates a Dispatcher from the given config.
// Only channels with IsConfigured() == true are active.
func NewDispatcher(cfg config.NotifyConfig) *Dispatcher {
	return newDispatcher(cfg.Events,
		NewSlack(cfg.Slack),
		NewWebhook(cfg.Webhook),
		NewTelegram(cfg.Telegram),
		NewEmail(cfg.Email),
	)
}

func newDispatcher(events []string, channels ...Channel) *Dispatcher {
	d := &Dispatcher{}
	if len(events) > 0 {
		d.events = make(map[models.EventType]bool, len(events))
		for _, e := range events {
			d.events[models.EventType(e)] = true
		}
	} else {
		d.events = defaultEvents
	}
	for _, ch := range channels {
		if ch.IsConfigured() {
			d.channels = append(d.channels, ch)
		}
	}
	return d
}

// IsAnyConfigured returns true if at least one channel is ready to send.
func (d *Dispatcher) IsAnyConfigured() bool {
	return len(d.channels) > 0
}

// Notify sends evt to every configured channel concurrently and waits for
// all of them. Send errors are logged, never returned.
func (d *Dispatcher) Notify(ctx context.Context, evt Event) {
	if !d.events[evt.Type] {
		return
	}
	var g errgroup.Group
	for _, ch := range d.channels {
		g.Go(func() error {
			if err := ch.Send(ctx, evt); err != nil {
				slog.Warn("notify: channel send failed", "channel", ch.Name(), "event", evt.Type, "scan_id", evt.ScanID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// NotifyScan notifies about a terminal scan record.
func (d *Dispatcher) NotifyScan(ctx context.Context, rec models.ScanRecord) {
	if len(d.channels) == 0 {
		return
	}
	d.Notify(ctx, EventFor(rec))
}
