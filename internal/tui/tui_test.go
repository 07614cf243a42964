package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/bubbletea"

	"github.com/CosmoTheDev/zapmcp/models"
)

func frame(t *testing.T, seq uint64, typ models.EventType, scanID string, payload any) string {
	t.Helper()
	raw, err := json.Marshal(models.Event{Seq: seq, Type: typ, ScanID: scanID, Time: time.Now(), Payload: payload})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return fmt.Sprintf("id: %d\ndata: %s\n\n", seq, raw)
}

func event(t *testing.T, typ models.EventType, scanID string, payload any) wireEvent {
	t.Helper()
	var evt wireEvent
	body := strings.TrimPrefix(strings.Split(frame(t, 1, typ, scanID, payload), "\n")[1], "data: ")
	if err := json.Unmarshal([]byte(body), &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return evt
}

func TestReadEventsParsesFrames(t *testing.T) {
	body := `data: {"type":"connected","payload":{"version":"1.0","active_scans":2}}` + "\n\n" +
		": keepalive\n\n" +
		frame(t, 1, models.EventScanStarted, "s1", models.StartedPayload{Target: "http://x", Kind: models.ScanAjax}) +
		frame(t, 2, models.EventScanProgress, "s1", models.ProgressPayload{Source: models.SourceScanner, Progress: 40})

	var got []wireEvent
	err := readEvents(strings.NewReader(body), func(evt wireEvent) error {
		got = append(got, evt)
		return nil
	})
	if err != nil {
		t.Fatalf("readEvents: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(got))
	}
	if got[0].Type != "connected" || got[1].Type != models.EventScanStarted || got[2].Seq != 2 {
		t.Fatalf("unexpected frames: %+v", got)
	}
}

func TestReadEventsRejectsBadJSON(t *testing.T) {
	err := readEvents(strings.NewReader("data: {nope\n\n"), func(wireEvent) error { return nil })
	if err == nil {
		t.Fatal("expected decode error")
	}
}

func TestDashboardTracksLifecycle(t *testing.T) {
	d := NewDashboardModel()
	d.Apply(event(t, models.EventScanStarted, "s1", models.StartedPayload{Target: "http://app", Kind: models.ScanActive}))
	d.Apply(event(t, models.EventScanProgress, "s1", models.ProgressPayload{Source: models.SourceScanner, Progress: 60}))
	d.Apply(event(t, models.EventScanProgress, "s1", models.ProgressPayload{Source: models.SourceAnalysis, Progress: 10}))

	rows := d.Rows()
	if len(rows) != 1 || rows[0].State != models.StateRunning || rows[0].Progress != 60 || rows[0].Analysis != 10 {
		t.Fatalf("unexpected running row: %+v", rows)
	}

	d.Apply(event(t, models.EventScanComplete, "s1", models.MergedResult{
		Total:     4,
		Histogram: map[models.RiskLevel]int{models.RiskHigh: 1, models.RiskLow: 3},
	}))
	d.Apply(event(t, models.EventScanError, "s2", models.ScanError{Kind: models.KindTimeout, Message: "scan timed out"}))
	d.Apply(event(t, models.EventScanError, "s3", models.ScanError{Kind: models.KindBackendError, Message: "zap down"}))

	byID := map[string]ScanRow{}
	for _, r := range d.Rows() {
		byID[r.ID] = r
	}
	if r := byID["s1"]; r.State != models.StateCompleted || r.Findings != 4 || r.Histogram[models.RiskLow] != 3 {
		t.Fatalf("unexpected completed row: %+v", r)
	}
	if byID["s2"].State != models.StateTimedOut {
		t.Fatalf("expected timed_out, got %s", byID["s2"].State)
	}
	if byID["s3"].State != models.StateError || byID["s3"].Error != "zap down" {
		t.Fatalf("unexpected error row: %+v", byID["s3"])
	}
}

func TestAppClearAndQuitKeys(t *testing.T) {
	a := NewApp("http://127.0.0.1:8000")
	a.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	a.Update(feedEventMsg{evt: event(t, models.EventScanStarted, "live", models.StartedPayload{Target: "http://a"})})
	a.Update(feedEventMsg{evt: event(t, models.EventScanComplete, "done", models.MergedResult{Total: 1})})

	a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'c'}})
	rows := a.dashboard.Rows()
	if len(rows) != 1 || rows[0].ID != "live" {
		t.Fatalf("expected only the live scan after clearing, got %+v", rows)
	}
	if !strings.Contains(a.View(), "zapmcp") {
		t.Fatal("view missing header")
	}

	_, cmd := a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
}

func TestFollowDeliversGatewayEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"type":"connected","payload":{"version":"test","active_scans":1}}`+"\n\n")
		fmt.Fprint(w, frame(t, 7, models.EventScanStarted, "s1", models.StartedPayload{Target: "http://x"}))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := make(chan tea.Msg, 8)
	go follow(ctx, srv.Client(), srv.URL, ch)

	next := func() tea.Msg {
		select {
		case msg := <-ch:
			return msg
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for feed message")
			return nil
		}
	}
	if msg, ok := next().(feedConnectedMsg); !ok || msg.version != "test" || msg.active != 1 {
		t.Fatalf("unexpected first message: %#v", msg)
	}
	if msg, ok := next().(feedEventMsg); !ok || msg.evt.Seq != 7 || msg.evt.ScanID != "s1" {
		t.Fatalf("unexpected second message: %#v", msg)
	}
}
