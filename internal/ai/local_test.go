package ai

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CosmoTheDev/zapmcp/internal/config"
	"github.com/CosmoTheDev/zapmcp/models"
)

// newLocalServer starts a websocket model server that answers every request
// with reply and returns a provider dialing it.
func newLocalServer(t *testing.T, reply string, seen chan<- localRequest) *LocalProvider {
	t.Helper()
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var req localRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if seen != nil {
			seen <- req
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(reply))
		_, _, _ = conn.ReadMessage()
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return NewLocal(config.AnalysisConfig{LocalHost: host, LocalPort: port, Model: "llama3", MaxTokens: 800, Temperature: 0.2})
}

func TestLocalURL(t *testing.T) {
	p := NewLocal(config.AnalysisConfig{})
	assert.Equal(t, "ws://localhost:7456/ws", p.URL())
}

func TestLocalAnalyzeDirectReply(t *testing.T) {
	seen := make(chan localRequest, 1)
	p := newLocalServer(t, `{"vulnerabilities":[{"name":"Hardcoded Secret","risk":"High","description":"key in source","solution":"use a secret store","references":[],"instances":[]}]}`, seen)

	findings, err := p.Analyze(context.Background(), "const key = \"abc\"")
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, models.RiskHigh, findings[0].Risk)

	req := <-seen
	assert.Equal(t, "llama3", req.Model)
	assert.Equal(t, 800, req.MaxTokens)
	assert.InDelta(t, 0.2, req.Temperature, 1e-9)
	assert.Equal(t, BuildPrompt("const key = \"abc\""), req.Prompt)
}

func TestLocalAnalyzeWrappedReply(t *testing.T) {
	p := newLocalServer(t, `{"response":"{\"vulnerabilities\":[{\"name\":\"XSS\",\"risk\":\"Medium\",\"description\":\"\",\"solution\":\"\",\"references\":[],\"instances\":[]}]}"}`, nil)

	findings, err := p.Analyze(context.Background(), "x")
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "XSS", findings[0].Name)
}

func TestLocalAnalyzeUnreachable(t *testing.T) {
	p := NewLocal(config.AnalysisConfig{LocalHost: "127.0.0.1", LocalPort: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.False(t, p.IsAvailable(ctx))
	_, err := p.Analyze(ctx, "x")
	assert.Equal(t, models.KindBackendError, models.KindOf(err))
	assert.Equal(t, "local", models.BackendOf(err))
}

func TestUnwrapLocalReply(t *testing.T) {
	assert.Equal(t, `{"vulnerabilities":[]}`, unwrapLocalReply([]byte(` {"vulnerabilities":[]} `)))
	assert.Equal(t, "text", unwrapLocalReply([]byte(`{"content":"text"}`)))
	assert.Equal(t, "not json", unwrapLocalReply([]byte("not json")))
}
