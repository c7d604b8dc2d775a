// Package integration provides a reusable test harness for end-to-end
// testing of the vetdesk panel. It starts the full HTTP stack against an
// in-process case service, a Redis-backed session store, and an in-memory
// audit journal.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/vetdesk/internal/audit"
	"github.com/pitabwire/vetdesk/internal/caseapi"
	"github.com/pitabwire/vetdesk/internal/caseapi/caseapitest"
	"github.com/pitabwire/vetdesk/internal/caselist"
	"github.com/pitabwire/vetdesk/internal/config"
	"github.com/pitabwire/vetdesk/internal/observability"
	"github.com/pitabwire/vetdesk/internal/panel"
	"github.com/pitabwire/vetdesk/internal/session"
	"github.com/pitabwire/vetdesk/internal/transport"
	"github.com/pitabwire/vetdesk/model"
)

// Default credentials registered with the case service.
const (
	DefaultUser     = "vet@clinic.example"
	DefaultPassword = "correct-horse"
)

// TestHarness encapsulates a fully wired panel instance for integration
// testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server

	// Components exposed for advanced test scenarios.
	CaseAPI  *caseapitest.Server
	Redis    *miniredis.Miniredis
	Client   *caseapi.Client
	Sessions *session.Manager
	Panels   *panel.Registry
	Journal  *audit.Journal
	Metrics  *observability.Metrics

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*config.Config)

// WithCircuitBreaker overrides the case API circuit breaker settings.
func WithCircuitBreaker(cb config.CircuitBreakerConfig) HarnessOption {
	return func(c *config.Config) {
		c.CaseAPI.CircuitBreaker = cb
	}
}

// WithRetry overrides the case API retry settings.
func WithRetry(r config.RetryConfig) HarnessOption {
	return func(c *config.Config) {
		c.CaseAPI.Retry = r
	}
}

// WithCaseAPITimeout sets the per-call timeout towards the case service.
func WithCaseAPITimeout(d time.Duration) HarnessOption {
	return func(c *config.Config) {
		c.CaseAPI.Timeout = d
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *config.Config) {
		c.Server.HandlerTimeout = d
	}
}

// WithUndoFallback selects the undo strategy for servers without restore.
func WithUndoFallback(mode string) HarnessOption {
	return func(c *config.Config) {
		c.Panel.UndoFallback = mode
	}
}

// WithPageSize sets the list page size.
func WithPageSize(n int) HarnessOption {
	return func(c *config.Config) {
		c.Panel.PageSize = n
	}
}

// WithIdleTTL sets how long a panel may sit unused before Sweep evicts it.
func WithIdleTTL(d time.Duration) HarnessOption {
	return func(c *config.Config) {
		c.Panel.IdleTTL = d
	}
}

// NewTestHarness creates and starts a full panel test instance. The server
// is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	h := &TestHarness{t: t}

	// Step 1: Start the case service and register the default user.
	h.CaseAPI = caseapitest.New(t)
	h.CaseAPI.AddUser(DefaultUser, DefaultPassword)

	// Step 2: Build config.
	cfg := config.Defaults()
	cfg.CaseAPI.BaseURL = h.CaseAPI.URL()
	cfg.CaseAPI.Timeout = 5 * time.Second
	cfg.CaseAPI.Retry = config.RetryConfig{MaxAttempts: 1}
	cfg.Server.HandlerTimeout = 10 * time.Second
	cfg.Server.CORS = config.CORSConfig{
		AllowedOrigins: []string{"http://localhost:3000"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Correlation-Id"},
		MaxAge:         86400,
	}
	cfg.Panel.SearchDebounce = 20 * time.Millisecond
	cfg.Panel.ExportBatchDelay = 0
	cfg.Audit.Enabled = true
	for _, opt := range opts {
		opt(cfg)
	}
	h.cfg = cfg

	// Step 3: Telemetry on a private registry.
	logger := zap.NewNop()
	h.Metrics = observability.InitMetrics(prometheus.NewRegistry())

	// Step 4: Case API client.
	schema, err := caseapi.LoadSchema(context.Background())
	if err != nil {
		t.Fatalf("load case api schema: %v", err)
	}
	h.Client, err = caseapi.New(cfg.CaseAPI, schema, logger, h.Metrics)
	if err != nil {
		t.Fatalf("build case api client: %v", err)
	}

	// Step 5: Redis-backed session store.
	h.Redis = miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: h.Redis.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	h.Sessions = session.NewManager(session.NewRedisStore(rdb), time.Duration(cfg.Session.CookieMaxAge)*time.Second)

	cookies, err := transport.NewCookieSessions(cfg.Session, "integration-cookie-secret")
	if err != nil {
		t.Fatalf("build cookie sessions: %v", err)
	}

	// Step 6: Audit journal.
	auditStore, closeAudit, err := audit.Open(context.Background(), cfg.Audit, logger)
	if err != nil {
		t.Fatalf("open audit store: %v", err)
	}
	t.Cleanup(closeAudit)
	h.Journal = audit.NewJournal(auditStore, logger, h.Metrics)

	// Step 7: Panel registry.
	listOpts := caselist.OptionsFromConfig(cfg.Panel)
	listOpts.Journal = h.Journal
	h.Panels = panel.NewRegistry(h.Sessions,
		func(s *session.Session) caselist.CaseAPI { return h.Client.ForSession(s) },
		panel.Config{IdleTTL: cfg.Panel.IdleTTL, List: listOpts},
		logger, h.Metrics)
	t.Cleanup(h.Panels.Close)

	// Step 8: Router with the production middleware wrapping.
	router := transport.NewRouter(transport.Dependencies{
		Config:        cfg,
		Logger:        logger,
		Client:        h.Client,
		Sessions:      h.Sessions,
		Panels:        h.Panels,
		Cookies:       cookies,
		Journal:       h.Journal,
		HealthHandler: observability.HandleHealth(),
		ReadyHandler: observability.HandleReady(
			observability.Gate(observability.CheckCaseService, h.Client.Available, "case service circuit breaker is open"),
			observability.Gate(observability.CheckCaseContract, h.Client.SchemaLoaded, "case service contract not loaded"),
			observability.Checked(observability.CheckSessionStore, h.Sessions),
		),
	})

	// Step 9: Start test server.
	h.server = httptest.NewServer(h.Metrics.MetricsMiddleware(observability.TracingMiddleware(router)))
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// Config returns the configuration the harness was built with.
func (h *TestHarness) Config() *config.Config {
	return h.cfg
}

// --- Browsers ---

// Browser is an HTTP client with its own cookie jar. Each browser holds one
// panel session.
type Browser struct {
	h      *TestHarness
	client *http.Client
}

// NewBrowser returns a browser with an empty cookie jar.
func (h *TestHarness) NewBrowser() *Browser {
	h.t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		h.t.Fatalf("cookie jar: %v", err)
	}
	return &Browser{
		h: h,
		client: &http.Client{
			Jar:     jar,
			Timeout: 30 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// SignedIn returns a browser that has logged in as the default user.
func (h *TestHarness) SignedIn() *Browser {
	h.t.Helper()
	b := h.NewBrowser()
	resp := b.Login(DefaultUser, DefaultPassword)
	h.AssertStatus(h.t, resp, http.StatusOK)
	resp.Body.Close()
	return b
}

// Login posts form credentials the way the login screen does.
func (b *Browser) Login(user, password string) *http.Response {
	b.h.t.Helper()
	form := url.Values{"username": {user}, "password": {password}}
	return b.Do(http.MethodPost, "/ui/auth/login", bytes.NewBufferString(form.Encode()),
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
}

// GET performs a GET request.
func (b *Browser) GET(path string) *http.Response {
	b.h.t.Helper()
	return b.Do(http.MethodGet, path, nil, nil)
}

// POST performs a POST request with an optional JSON body.
func (b *Browser) POST(path string, body any) *http.Response {
	b.h.t.Helper()
	return b.JSON(http.MethodPost, path, body)
}

// PUT performs a PUT request with a JSON body.
func (b *Browser) PUT(path string, body any) *http.Response {
	b.h.t.Helper()
	return b.JSON(http.MethodPut, path, body)
}

// DELETE performs a DELETE request.
func (b *Browser) DELETE(path string) *http.Response {
	b.h.t.Helper()
	return b.Do(http.MethodDelete, path, nil, nil)
}

// JSON performs a request with body marshaled as JSON when non-nil.
func (b *Browser) JSON(method, path string, body any) *http.Response {
	b.h.t.Helper()
	if body == nil {
		return b.Do(method, path, nil, nil)
	}
	data, err := json.Marshal(body)
	if err != nil {
		b.h.t.Fatalf("marshal request body: %v", err)
	}
	return b.Do(method, path, bytes.NewReader(data), map[string]string{"Content-Type": "application/json"})
}

// Do performs a raw request with additional headers.
func (b *Browser) Do(method, path string, body io.Reader, headers map[string]string) *http.Response {
	b.h.t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, b.h.server.URL+path, body)
	if err != nil {
		b.h.t.Fatalf("create request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		b.h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// View fetches and decodes the case list view.
func (b *Browser) View() caselist.View {
	b.h.t.Helper()
	var v caselist.View
	b.h.AssertJSON(b.h.t, b.GET("/ui/cases"), http.StatusOK, &v)
	return v
}

// Cookies returns the cookies the browser holds for the panel.
func (b *Browser) Cookies() []*http.Cookie {
	u, _ := url.Parse(b.h.server.URL)
	return b.client.Jar.Cookies(u)
}

// --- Response helpers ---

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t testing.TB, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t testing.TB, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// AssertErrorCode checks the status and the error envelope code.
func (h *TestHarness) AssertErrorCode(t testing.TB, resp *http.Response, status int, code string) model.ErrorEnvelope {
	t.Helper()
	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, resp, status, &body)
	if body.Error == nil {
		t.Fatalf("response carries no error envelope")
	}
	if body.Error.Code != code {
		t.Errorf("error code = %q, want %q (message %q)", body.Error.Code, code, body.Error.Message)
	}
	return *body.Error
}

// --- Fixtures ---

// CaseFixture returns a case suitable for seeding the case service.
func CaseFixture(patient, species, complaint string) model.Case {
	return model.Case{
		PatientName:    patient,
		Species:        model.Species(species),
		ChiefComplaint: complaint,
	}
}

// RowIDs lists the case ids of the view rows in order.
func RowIDs(v caselist.View) []int64 {
	ids := make([]int64, len(v.Rows))
	for i, r := range v.Rows {
		ids[i] = r.ID
	}
	return ids
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
