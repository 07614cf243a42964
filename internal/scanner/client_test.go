package scanner

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/CosmoTheDev/zapmcp/models"
)

// fakeZAP records requests and answers from a path → body table.
type fakeZAP struct {
	t *testing.T

	mu       sync.Mutex
	requests []*http.Request
	routes   map[string]func(r *http.Request) (int, string)
}

func newFakeZAP(t *testing.T) (*fakeZAP, *Client) {
	t.Helper()
	f := &fakeZAP{t: t, routes: make(map[string]func(*http.Request) (int, string))}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	c := New(Options{APIURL: srv.URL, APIKey: "secret", RequestsPerSecond: 1000})
	return f, c
}

func (f *fakeZAP) handle(path string, fn func(r *http.Request) (int, string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[path] = fn
}

func (f *fakeZAP) reply(path, body string) {
	f.handle(path, func(*http.Request) (int, string) { return http.StatusOK, body })
}

func (f *fakeZAP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r)
	fn, ok := f.routes[r.URL.Path]
	f.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"bad_view","message":"No such view"}`))
		return
	}
	code, body := fn(r)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

func (f *fakeZAP) last(path string) *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		if f.requests[i].URL.Path == path {
			return f.requests[i]
		}
	}
	return nil
}

func TestActiveScanLifecycle(t *testing.T) {
	zap, c := newFakeZAP(t)
	zap.reply("/JSON/ascan/action/scan/", `{"scan":"7"}`)
	zap.reply("/JSON/ascan/view/status/", `{"status":"100"}`)
	zap.reply("/JSON/ascan/action/stop/", `{"Result":"OK"}`)
	ctx := context.Background()

	id, err := c.StartScan(ctx, "http://app.local", models.ScanActive, map[string]string{"scanPolicyName": "Default Policy"})
	if err != nil {
		t.Fatalf("start scan: %v", err)
	}
	if id != "ascan/7" {
		t.Fatalf("backend id = %q, want ascan/7", id)
	}
	req := zap.last("/JSON/ascan/action/scan/")
	q := req.URL.Query()
	if q.Get("url") != "http://app.local" || q.Get("recurse") != "true" || q.Get("scanPolicyName") != "Default Policy" {
		t.Fatalf("unexpected start params: %v", q)
	}
	if q.Get("apikey") != "secret" || req.Header.Get("X-ZAP-API-Key") != "secret" {
		t.Fatalf("api key not sent")
	}

	st, err := c.PollStatus(ctx, id)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if !st.Done || st.Progress != 100 {
		t.Fatalf("unexpected status %+v", st)
	}
	if got := zap.last("/JSON/ascan/view/status/").URL.Query().Get("scanId"); got != "7" {
		t.Fatalf("status scanId = %q", got)
	}

	if err := c.StopScan(ctx, id); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := zap.last("/JSON/ascan/action/stop/").URL.Query().Get("scanId"); got != "7" {
		t.Fatalf("stop scanId = %q", got)
	}
}

func TestPassiveScanWaitsForPassiveQueue(t *testing.T) {
	zap, c := newFakeZAP(t)
	zap.reply("/JSON/spider/action/scan/", `{"scan":"0"}`)
	zap.reply("/JSON/spider/view/status/", `{"status":"100"}`)
	remaining := `{"recordsToScan":"4"}`
	zap.handle("/JSON/pscan/view/recordsToScan/", func(*http.Request) (int, string) { return http.StatusOK, remaining })
	ctx := context.Background()

	id, err := c.StartScan(ctx, "http://app.local", models.ScanPassive, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if id != "spider/0" {
		t.Fatalf("backend id = %q", id)
	}

	st, err := c.PollStatus(ctx, id)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if st.Done || st.Progress != 99 {
		t.Fatalf("expected in-progress while passive queue drains, got %+v", st)
	}

	zap.handle("/JSON/pscan/view/recordsToScan/", func(*http.Request) (int, string) { return http.StatusOK, `{"recordsToScan":"0"}` })
	st, err = c.PollStatus(ctx, id)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if !st.Done {
		t.Fatalf("expected done, got %+v", st)
	}
}

func TestAjaxSpiderStatus(t *testing.T) {
	zap, c := newFakeZAP(t)
	zap.reply("/JSON/ajaxSpider/action/scan/", `{"Result":"OK"}`)
	zap.reply("/JSON/ajaxSpider/view/status/", `{"status":"running"}`)
	ctx := context.Background()

	id, err := c.StartScan(ctx, "http://app.local", models.ScanAjax, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if id != "ajax" {
		t.Fatalf("backend id = %q", id)
	}
	st, err := c.PollStatus(ctx, id)
	if err != nil || st.Done {
		t.Fatalf("expected running, got %+v err=%v", st, err)
	}
	zap.reply("/JSON/ajaxSpider/view/status/", `{"status":"stopped"}`)
	st, err = c.PollStatus(ctx, id)
	if err != nil || !st.Done {
		t.Fatalf("expected stopped, got %+v err=%v", st, err)
	}
}

func TestFetchFindingsConvertsAlerts(t *testing.T) {
	zap, c := newFakeZAP(t)
	zap.reply("/JSON/core/view/alerts/", `{"alerts":[
		{"name":"SQL Injection","risk":"High","description":" bad sql ","solution":"use params",
		 "reference":"https://owasp.org/sqli\nhttps://cwe.mitre.org/89","cweid":"89",
		 "url":"http://app.local/q","method":"GET","param":"id","evidence":"syntax error"},
		{"alert":"Server Leaks Version","risk":"Informational","cweid":"-1"}
	]}`)

	findings, err := c.FetchFindings(context.Background(), "ascan/1", "http://app.local")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(findings))
	}
	sqli := findings[0]
	if sqli.Risk != models.RiskHigh || sqli.CWEID != "CWE-89" || sqli.Description != "bad sql" {
		t.Fatalf("unexpected finding %+v", sqli)
	}
	if len(sqli.References) != 2 || len(sqli.Instances) != 1 || sqli.Instances[0].Param != "id" {
		t.Fatalf("unexpected refs/instances %+v", sqli)
	}
	info := findings[1]
	if info.Name != "Server Leaks Version" || info.Risk != models.RiskInfo || info.CWEID != "" || info.Instances != nil {
		t.Fatalf("unexpected info finding %+v", info)
	}
	if got := zap.last("/JSON/core/view/alerts/").URL.Query().Get("baseurl"); got != "http://app.local" {
		t.Fatalf("baseurl = %q", got)
	}
}

func TestAPIErrorsAreBackendErrors(t *testing.T) {
	_, c := newFakeZAP(t)
	_, err := c.StartScan(context.Background(), "http://app.local", models.ScanActive, nil)
	var be *models.BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected BackendError, got %T %v", err, err)
	}
	if be.Backend != "zap" {
		t.Fatalf("backend = %q", be.Backend)
	}
	if models.KindOf(err) != models.KindBackendError {
		t.Fatalf("kind = %s", models.KindOf(err))
	}
}

func TestMalformedBackendID(t *testing.T) {
	_, c := newFakeZAP(t)
	if _, err := c.PollStatus(context.Background(), "nonsense"); !errors.Is(err, models.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestGenerateReportUsesTemplate(t *testing.T) {
	zap, c := newFakeZAP(t)
	zap.reply("/JSON/reports/action/generate/", `{"generate":"/zap/reports/scan_abc.md"}`)

	path, err := c.GenerateReport(context.Background(), "abc", "http://app.local", models.ReportMarkdown, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if path != "/zap/reports/scan_abc.md" {
		t.Fatalf("path = %q", path)
	}
	q := zap.last("/JSON/reports/action/generate/").URL.Query()
	if q.Get("template") != "traditional-md" || q.Get("reportFileName") != "scan_abc.md" || q.Get("reportDir") != "reports" {
		t.Fatalf("unexpected report params %v", q)
	}

	if _, err := c.GenerateReport(context.Background(), "abc", "", "pdf", ""); !errors.Is(err, models.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for pdf, got %v", err)
	}
}

func TestSetOptionPicksValueType(t *testing.T) {
	zap, c := newFakeZAP(t)
	zap.reply("/JSON/core/action/setOptionTimeoutInSecs/", `{"Result":"OK"}`)
	zap.reply("/JSON/core/action/setOptionDefaultUserAgent/", `{"Result":"OK"}`)
	ctx := context.Background()

	if err := c.SetOption(ctx, "timeoutInSecs", "60"); err != nil {
		t.Fatalf("set int option: %v", err)
	}
	if got := zap.last("/JSON/core/action/setOptionTimeoutInSecs/").URL.Query().Get("Integer"); got != "60" {
		t.Fatalf("Integer = %q", got)
	}
	if err := c.SetOption(ctx, "defaultUserAgent", "zapmcp"); err != nil {
		t.Fatalf("set string option: %v", err)
	}
	if got := zap.last("/JSON/core/action/setOptionDefaultUserAgent/").URL.Query().Get("String"); got != "zapmcp" {
		t.Fatalf("String = %q", got)
	}
	if err := c.SetOption(ctx, "../core", "x"); !errors.Is(err, models.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestIsAvailable(t *testing.T) {
	zap, c := newFakeZAP(t)
	if c.IsAvailable(context.Background()) {
		t.Fatalf("expected unavailable without version route")
	}
	zap.reply("/JSON/core/view/version/", `{"version":"2.15.0"}`)
	if !c.IsAvailable(context.Background()) {
		t.Fatalf("expected available")
	}
}
