// Package scanner is a client for the OWASP ZAP JSON API.
package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/CosmoTheDev/zapmcp/models"
)

const backendName = "zap"

// Options configures a Client.
type Options struct {
	APIURL            string
	APIKey            string
	RequestsPerSecond float64
	HTTPTimeout       time.Duration
	ReportDir         string
}

// Client calls the ZAP API. Every request waits on a shared rate limiter so
// polling many scans at once cannot flood the daemon.
type Client struct {
	baseURL   string
	apiKey    string
	reportDir string
	http      *http.Client
	limiter   *rate.Limiter
}

// New returns a Client. Zero options fall back to a local daemon at
// 127.0.0.1:8080, 10 requests per second and a 30 second timeout.
func New(opts Options) *Client {
	if opts.APIURL == "" {
		opts.APIURL = "http://127.0.0.1:8080"
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 10
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 30 * time.Second
	}
	if opts.ReportDir == "" {
		opts.ReportDir = "reports"
	}
	burst := int(opts.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL:   strings.TrimRight(opts.APIURL, "/"),
		apiKey:    opts.APIKey,
		reportDir: opts.ReportDir,
		http:      &http.Client{Timeout: opts.HTTPTimeout},
		limiter:   rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst),
	}
}

// apiError is the body ZAP returns with non-200 responses.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// call issues GET {base}/JSON/<component>/<kind>/<name>/ and decodes the
// response into out.
func (c *Client) call(ctx context.Context, component, kind, name string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if params == nil {
		params = url.Values{}
	}
	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}
	reqURL := fmt.Sprintf("%s/JSON/%s/%s/%s/", c.baseURL, component, kind, name)
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-ZAP-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		var ae apiError
		if json.Unmarshal(b, &ae) == nil && ae.Message != "" {
			return fmt.Errorf("HTTP %d: %s (%s)", resp.StatusCode, ae.Message, ae.Code)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s/%s/%s: %w", component, kind, name, err)
	}
	return nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &models.BackendError{Backend: backendName, Op: op, Err: err}
}

// Version returns the daemon's version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := c.call(ctx, "core", "view", "version", nil, &out); err != nil {
		return "", wrap("version", err)
	}
	return out.Version, nil
}

// IsAvailable reports whether the daemon answers API calls.
func (c *Client) IsAvailable(ctx context.Context) bool {
	_, err := c.Version(ctx)
	return err == nil
}
