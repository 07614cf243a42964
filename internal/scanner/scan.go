package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/CosmoTheDev/zapmcp/models"
)

// Backend ids returned by StartScan carry the ZAP component that owns the
// scan, e.g. "ascan/3" or "spider/0". The ajax spider has no scan id.
const (
	componentActive = "ascan"
	componentSpider = "spider"
	ajaxBackendID   = "ajax"
)

func splitID(backendID string) (component, id string, err error) {
	if backendID == ajaxBackendID {
		return "ajaxSpider", "", nil
	}
	component, id, ok := strings.Cut(backendID, "/")
	if !ok || id == "" || (component != componentActive && component != componentSpider) {
		return "", "", fmt.Errorf("%w: malformed scanner scan id %q", models.ErrInvalidRequest, backendID)
	}
	return component, id, nil
}

// StartScan starts an active scan, a spider crawl (whose traffic feeds the
// passive scanner) or an ajax spider crawl against target. Entries in cfg are
// passed through as ZAP API parameters.
func (c *Client) StartScan(ctx context.Context, target string, kind models.ScanKind, cfg map[string]string) (string, error) {
	params := url.Values{}
	for k, v := range cfg {
		params.Set(k, v)
	}
	params.Set("url", target)

	switch kind {
	case models.ScanActive:
		if params.Get("recurse") == "" {
			params.Set("recurse", "true")
		}
		var out struct {
			Scan string `json:"scan"`
		}
		if err := c.call(ctx, componentActive, "action", "scan", params, &out); err != nil {
			return "", wrap("start active scan", err)
		}
		slog.Info("zap: active scan started", "target", target, "zap_scan_id", out.Scan)
		return componentActive + "/" + out.Scan, nil

	case models.ScanPassive:
		var out struct {
			Scan string `json:"scan"`
		}
		if err := c.call(ctx, componentSpider, "action", "scan", params, &out); err != nil {
			return "", wrap("start spider", err)
		}
		slog.Info("zap: spider started for passive scan", "target", target, "zap_scan_id", out.Scan)
		return componentSpider + "/" + out.Scan, nil

	case models.ScanAjax:
		if err := c.call(ctx, "ajaxSpider", "action", "scan", params, nil); err != nil {
			return "", wrap("start ajax spider", err)
		}
		slog.Info("zap: ajax spider started", "target", target)
		return ajaxBackendID, nil

	default:
		return "", fmt.Errorf("%w: unsupported scan type %q", models.ErrInvalidRequest, kind)
	}
}

// PollStatus reports the progress of a scan started by StartScan. A passive
// scan is only done once the spider finished and the passive queue drained.
func (c *Client) PollStatus(ctx context.Context, backendID string) (models.BackendStatus, error) {
	component, id, err := splitID(backendID)
	if err != nil {
		return models.BackendStatus{}, err
	}

	if component == "ajaxSpider" {
		var out struct {
			Status string `json:"status"`
		}
		if err := c.call(ctx, component, "view", "status", nil, &out); err != nil {
			return models.BackendStatus{}, wrap("ajax spider status", err)
		}
		if strings.EqualFold(out.Status, "stopped") {
			return models.BackendStatus{Done: true, Progress: 100}, nil
		}
		return models.BackendStatus{}, nil
	}

	pct, err := c.percent(ctx, component, id)
	if err != nil {
		return models.BackendStatus{}, err
	}
	if component == componentActive {
		return models.BackendStatus{Done: pct >= 100, Progress: pct}, nil
	}

	if pct < 100 {
		return models.BackendStatus{Progress: pct}, nil
	}
	remaining, err := c.recordsToScan(ctx)
	if err != nil {
		return models.BackendStatus{}, err
	}
	if remaining > 0 {
		return models.BackendStatus{Progress: 99}, nil
	}
	return models.BackendStatus{Done: true, Progress: 100}, nil
}

func (c *Client) percent(ctx context.Context, component, id string) (int, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.call(ctx, component, "view", "status", url.Values{"scanId": {id}}, &out); err != nil {
		return 0, wrap(component+" status", err)
	}
	pct, err := strconv.Atoi(out.Status)
	if err != nil {
		return 0, wrap(component+" status", fmt.Errorf("unexpected status %q", out.Status))
	}
	return min(max(pct, 0), 100), nil
}

func (c *Client) recordsToScan(ctx context.Context) (int, error) {
	var out struct {
		RecordsToScan string `json:"recordsToScan"`
	}
	if err := c.call(ctx, "pscan", "view", "recordsToScan", nil, &out); err != nil {
		return 0, wrap("passive queue", err)
	}
	n, err := strconv.Atoi(out.RecordsToScan)
	if err != nil {
		return 0, wrap("passive queue", fmt.Errorf("unexpected recordsToScan %q", out.RecordsToScan))
	}
	return n, nil
}

// StopScan abandons a running scan.
func (c *Client) StopScan(ctx context.Context, backendID string) error {
	component, id, err := splitID(backendID)
	if err != nil {
		return err
	}
	var params url.Values
	if id != "" {
		params = url.Values{"scanId": {id}}
	}
	if err := c.call(ctx, component, "action", "stop", params, nil); err != nil {
		return wrap("stop "+component, err)
	}
	slog.Info("zap: scan stopped", "zap_scan_id", backendID)
	return nil
}
