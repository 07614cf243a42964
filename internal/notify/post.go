package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const sendTimeout = 5 * time.Second

// poster delivers JSON payloads to one configured URL.
type poster struct {
	name   string
	url    string
	client *http.Client
}

func newPoster(name, url string) poster {
	return poster{name: name, url: url, client: &http.Client{Timeout: sendTimeout}}
}

// post marshals v, lets sign add headers for the exact body bytes, and
// treats any non-2xx reply as an error.
func (p poster) post(ctx context.Context, v any, sign func(body []byte, h http.Header)) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", p.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", p.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sign != nil {
		sign(body, req.Header)
	}
	resp, err := p.client.Do(req) // #nosec G107 -- URL is user-configured
	if err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned %d", p.name, resp.StatusCode)
	}
	return nil
}
