package scanner

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/CosmoTheDev/zapmcp/models"
)

const alertPageSize = 500

// alert is one entry of core/view/alerts. ZAP encodes every scalar as a string.
type alert struct {
	Name        string `json:"name"`
	Alert       string `json:"alert"`
	Risk        string `json:"risk"`
	Confidence  string `json:"confidence"`
	Description string `json:"description"`
	Solution    string `json:"solution"`
	Reference   string `json:"reference"`
	CWEID       string `json:"cweid"`
	PluginID    string `json:"pluginId"`
	URL         string `json:"url"`
	Method      string `json:"method"`
	Param       string `json:"param"`
	Evidence    string `json:"evidence"`
}

// FetchFindings returns the alerts ZAP raised for target. backendID is
// accepted for symmetry with the other scan calls; ZAP keys alerts by site.
func (c *Client) FetchFindings(ctx context.Context, backendID, target string) ([]models.Finding, error) {
	var findings []models.Finding
	for start := 0; ; start += alertPageSize {
		params := url.Values{
			"baseurl": {target},
			"start":   {strconv.Itoa(start)},
			"count":   {strconv.Itoa(alertPageSize)},
		}
		var out struct {
			Alerts []alert `json:"alerts"`
		}
		if err := c.call(ctx, "core", "view", "alerts", params, &out); err != nil {
			return nil, wrap("fetch alerts", err)
		}
		for _, a := range out.Alerts {
			findings = append(findings, a.toFinding())
		}
		if len(out.Alerts) < alertPageSize {
			break
		}
	}
	if findings == nil {
		findings = []models.Finding{}
	}
	return findings, nil
}

func (a alert) toFinding() models.Finding {
	name := a.Name
	if name == "" {
		name = a.Alert
	}
	f := models.Finding{
		Name:        name,
		Risk:        models.MapRisk(a.Risk),
		Description: strings.TrimSpace(a.Description),
		Solution:    strings.TrimSpace(a.Solution),
		References:  splitReferences(a.Reference),
		Source:      models.SourceScanner,
	}
	if n, err := strconv.Atoi(a.CWEID); err == nil && n > 0 {
		f.CWEID = "CWE-" + a.CWEID
	}
	if a.URL != "" || a.Param != "" || a.Evidence != "" {
		f.Instances = []models.Instance{{
			URL:      a.URL,
			Method:   a.Method,
			Param:    a.Param,
			Evidence: a.Evidence,
		}}
	}
	return f
}

// splitReferences splits ZAP's newline-separated reference list.
func splitReferences(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
