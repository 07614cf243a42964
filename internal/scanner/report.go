package scanner

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"github.com/CosmoTheDev/zapmcp/models"
)

var reportTemplates = map[models.ReportFormat]string{
	models.ReportHTML:     "traditional-html",
	models.ReportJSON:     "traditional-json",
	models.ReportXML:      "traditional-xml",
	models.ReportMarkdown: "traditional-md",
}

// GenerateReport asks ZAP to write a report for target into dir (the
// configured report dir when empty). The file is named scan_<scanID>.<ext>.
// It returns the location ZAP reports back.
func (c *Client) GenerateReport(ctx context.Context, scanID, target string, format models.ReportFormat, dir string) (string, error) {
	if format == "" {
		format = models.ReportHTML
	}
	tmpl, ok := reportTemplates[format]
	if !ok {
		return "", fmt.Errorf("%w: unsupported report format %q", models.ErrInvalidRequest, format)
	}
	if dir == "" {
		dir = c.reportDir
	}
	params := url.Values{
		"title":          {"Security Scan Report"},
		"template":       {tmpl},
		"reportFileName": {fmt.Sprintf("scan_%s.%s", scanID, format.Ext())},
		"reportDir":      {dir},
	}
	if target != "" {
		params.Set("sites", target)
	}
	var out struct {
		Generate string `json:"generate"`
	}
	if err := c.call(ctx, "reports", "action", "generate", params, &out); err != nil {
		return "", wrap("generate report", err)
	}
	return out.Generate, nil
}

// SetOption sets a core option, e.g. SetOption(ctx, "timeoutInSecs", "60")
// calls core/action/setOptionTimeoutInSecs. The value parameter is typed the
// way ZAP expects from its shape.
func (c *Client) SetOption(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" || strings.IndexFunc(key, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) >= 0 {
		return fmt.Errorf("%w: invalid option name %q", models.ErrInvalidRequest, key)
	}
	name := "setOption" + strings.ToUpper(key[:1]) + key[1:]

	params := url.Values{}
	switch {
	case isInteger(value):
		params.Set("Integer", value)
	case value == "true" || value == "false":
		params.Set("Boolean", value)
	default:
		params.Set("String", value)
	}
	if err := c.call(ctx, "core", "action", name, params, nil); err != nil {
		return wrap("set option "+key, err)
	}
	return nil
}

func isInteger(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}
