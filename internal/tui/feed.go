package tui

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbletea"

	"github.com/CosmoTheDev/zapmcp/models"
)

const reconnectDelay = 2 * time.Second

// wireEvent is one decoded SSE data frame. Payload stays raw until the
// type is known.
type wireEvent struct {
	Seq     uint64           `json:"seq"`
	Type    models.EventType `json:"type"`
	ScanID  string           `json:"scan_id"`
	Time    time.Time        `json:"time"`
	Payload json.RawMessage  `json:"payload"`
}

type connectedPayload struct {
	Version     string `json:"version"`
	ActiveScans int    `json:"active_scans"`
}

// Messages delivered from the feed goroutine to the program.
type (
	feedConnectedMsg struct {
		version string
		active  int
	}
	feedEventMsg    struct{ evt wireEvent }
	feedDroppedMsg  struct{ err error }
	feedFinishedMsg struct{}
)

// readEvents parses an SSE body and calls fn for every data frame. Comment
// and id lines are skipped; multi-line data is joined with newlines.
func readEvents(r io.Reader, fn func(wireEvent) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var data []string
	flush := func() error {
		if len(data) == 0 {
			return nil
		}
		raw := strings.Join(data, "\n")
		data = data[:0]
		var evt wireEvent
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			return fmt.Errorf("decode event frame: %w", err)
		}
		return fn(evt)
	}

	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return flush()
}

// follow streams baseURL/events into out until ctx ends, reconnecting after
// a dropped connection. A reconnect starts from the live position; events
// published while disconnected are not replayed.
func follow(ctx context.Context, client *http.Client, baseURL string, out chan<- tea.Msg) {
	defer close(out)
	send := func(msg tea.Msg) bool {
		select {
		case out <- msg:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		err := streamOnce(ctx, client, baseURL, send)
		if ctx.Err() != nil {
			return
		}
		if !send(feedDroppedMsg{err: err}) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func streamOnce(ctx context.Context, client *http.Client, baseURL string, send func(tea.Msg) bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET /events: HTTP %d", resp.StatusCode)
	}

	err = readEvents(resp.Body, func(evt wireEvent) error {
		var msg tea.Msg = feedEventMsg{evt: evt}
		if evt.Type == "connected" {
			var p connectedPayload
			_ = json.Unmarshal(evt.Payload, &p)
			msg = feedConnectedMsg{version: p.Version, active: p.ActiveScans}
		}
		if !send(msg) {
			return ctx.Err()
		}
		return nil
	})
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return err
}

// waitForFeed returns a command that blocks for the next feed message.
func waitForFeed(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return feedFinishedMsg{}
		}
		return msg
	}
}
