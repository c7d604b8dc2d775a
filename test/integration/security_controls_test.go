package integration

import (
	"net/http"
	"strings"
	"testing"

	"github.com/pitabwire/vetdesk/model"
)

// ==========================================================================
// Authentication Tests
// ==========================================================================

func TestSecurity_NoSession_Returns401(t *testing.T) {
	h := NewTestHarness(t)
	b := h.NewBrowser()

	endpoints := []struct{ method, path string }{
		{http.MethodGet, "/ui/cases"},
		{http.MethodPut, "/ui/cases/search"},
		{http.MethodPost, "/ui/cases/refresh"},
		{http.MethodPost, "/ui/cases/bulk-delete?confirm=true"},
		{http.MethodDelete, "/ui/cases/1?confirm=true"},
		{http.MethodGet, "/ui/cases/export/all"},
		{http.MethodGet, "/ui/cases/1/report"},
		{http.MethodPost, "/ui/analyze"},
		{http.MethodGet, "/ui/audit"},
	}
	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			resp := b.JSON(ep.method, ep.path, nil)
			h.AssertStatus(t, resp, http.StatusUnauthorized)
			resp.Body.Close()
		})
	}
	for _, op := range []string{"listCases", "deleteCase", "analyze"} {
		if n := h.CaseAPI.Calls(op); n != 0 {
			t.Errorf("%s reached the case service %d times without a session", op, n)
		}
	}
}

func TestSecurity_WrongPassword_Returns401(t *testing.T) {
	h := NewTestHarness(t)
	b := h.NewBrowser()

	h.AssertErrorCode(t, b.Login(DefaultUser, "wrong"), http.StatusUnauthorized, model.ErrUnauthorized)
	h.AssertStatus(t, b.GET("/ui/cases"), http.StatusUnauthorized)
}

func TestSecurity_SessionCookieCarriesNoToken(t *testing.T) {
	h := NewTestHarness(t)
	b := h.NewBrowser()

	resp := b.Login(DefaultUser, DefaultPassword)
	defer resp.Body.Close()
	h.AssertStatus(t, resp, http.StatusOK)

	var sessionCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == h.Config().Session.CookieName {
			sessionCookie = c
		}
	}
	if sessionCookie == nil {
		t.Fatal("login set no session cookie")
	}
	if !sessionCookie.HttpOnly {
		t.Error("session cookie is not HttpOnly")
	}
	if sessionCookie.SameSite != http.SameSiteLaxMode && sessionCookie.SameSite != http.SameSiteStrictMode {
		t.Errorf("session cookie SameSite = %v", sessionCookie.SameSite)
	}

	// The case API token is a JWT; none of it may reach the browser.
	if h.CaseAPI.LastRequest("login") == nil {
		t.Fatal("login did not reach the case service")
	}
	body := string(h.ReadBody(b.GET("/ui/cases")))
	if strings.Count(sessionCookie.Value, ".") >= 2 || strings.Contains(body, "eyJ") {
		t.Error("case API token leaked to the browser")
	}
}

func TestSecurity_TamperedCookieStartsFreshSession(t *testing.T) {
	h := NewTestHarness(t)
	b := h.SignedIn()

	cookies := b.Cookies()
	if len(cookies) == 0 {
		t.Fatal("no cookies after login")
	}
	forged := cookies[0].Value[:len(cookies[0].Value)-4] + "AAAA"

	// A fresh browser replays the forged value; the signature check fails
	// and it gets a new, signed-out session.
	resp := h.NewBrowser().Do(http.MethodGet, "/ui/cases", nil, map[string]string{
		"Cookie": cookies[0].Name + "=" + forged,
	})
	h.AssertStatus(t, resp, http.StatusUnauthorized)
	if len(resp.Cookies()) == 0 {
		t.Error("no replacement session cookie issued")
	}
	resp.Body.Close()
}

func TestSecurity_SessionsCannotReadEachOthersAudit(t *testing.T) {
	h := NewTestHarness(t)
	h.CaseAPI.SeedN(2)
	alice := h.SignedIn()
	bob := h.SignedIn()

	alice.View()
	resp := alice.DELETE("/ui/cases/2?confirm=true")
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	var journal struct {
		Entries []map[string]any `json:"entries"`
	}
	h.AssertJSON(t, bob.GET("/ui/audit"), http.StatusOK, &journal)
	if len(journal.Entries) != 0 {
		t.Errorf("bob sees %d of alice's journal entries", len(journal.Entries))
	}
	h.AssertJSON(t, alice.GET("/ui/audit"), http.StatusOK, &journal)
	if len(journal.Entries) != 1 {
		t.Errorf("alice sees %d journal entries, want 1", len(journal.Entries))
	}
}

// ==========================================================================
// Error Handling Tests
// ==========================================================================

func TestSecurity_UpstreamErrorIsNotEchoedVerbatim(t *testing.T) {
	h := NewTestHarness(t)
	b := h.SignedIn()

	h.CaseAPI.OnOperation("listCases").RespondWithError(http.StatusInternalServerError,
		"psycopg2.OperationalError: could not connect to server at 10.0.0.5")

	resp := b.POST("/ui/cases/refresh", nil)
	body := string(h.ReadBody(resp))
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	for _, leak := range []string{"psycopg2", "10.0.0.5", "goroutine", ".go:"} {
		if strings.Contains(body, leak) {
			t.Errorf("error body leaks %q: %s", leak, body)
		}
	}
}

func TestSecurity_ErrorCarriesCorrelationID(t *testing.T) {
	h := NewTestHarness(t)
	b := h.NewBrowser()

	resp := b.Do(http.MethodGet, "/ui/cases", nil, map[string]string{"X-Correlation-Id": "corr-123"})
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Correlation-Id"); got != "corr-123" {
		t.Errorf("X-Correlation-Id = %q, want corr-123", got)
	}
}

func TestSecurity_GeneratesCorrelationID(t *testing.T) {
	h := NewTestHarness(t)
	resp := h.NewBrowser().GET("/ui/health")
	defer resp.Body.Close()
	if resp.Header.Get("X-Correlation-Id") == "" {
		t.Error("no X-Correlation-Id generated")
	}
}

func TestSecurity_PathTraversalInCaseID(t *testing.T) {
	h := NewTestHarness(t)
	b := h.SignedIn()

	for _, path := range []string{"/ui/cases/..%2F..%2Fetc%2Fpasswd", "/ui/cases/1;drop", "/ui/cases/-1"} {
		resp := b.GET(path)
		if resp.StatusCode == http.StatusOK {
			t.Errorf("GET %s = 200, want rejection", path)
		}
		resp.Body.Close()
	}
	if n := h.CaseAPI.Calls("getCase"); n != 0 {
		t.Errorf("getCase reached %d times with malformed ids", n)
	}
}

func TestSecurity_ReportEscapesCaseFields(t *testing.T) {
	h := NewTestHarness(t)
	seeded := h.CaseAPI.Seed(CaseFixture("<script>alert(1)</script>", "dog", "limping"))
	b := h.SignedIn()

	body := string(h.ReadBody(b.GET("/ui/cases/" + itoa(seeded[0].ID) + "/report")))
	if strings.Contains(body, "<script>alert(1)</script>") {
		t.Error("report renders case fields unescaped")
	}
	if !strings.Contains(body, "&lt;script&gt;") {
		t.Errorf("report does not contain the escaped patient name: %s", body)
	}
}

// ==========================================================================
// Header Tests
// ==========================================================================

func TestSecurity_HeadersOnAuthenticatedResponse(t *testing.T) {
	h := NewTestHarness(t)
	b := h.SignedIn()

	resp := b.GET("/ui/cases")
	defer resp.Body.Close()
	assertSecurityHeaders(t, resp)
}

func TestSecurity_HeadersOnErrorResponse(t *testing.T) {
	h := NewTestHarness(t)
	resp := h.NewBrowser().GET("/ui/cases")
	defer resp.Body.Close()
	assertSecurityHeaders(t, resp)
}

func TestSecurity_CORSAllowedOrigin(t *testing.T) {
	h := NewTestHarness(t)
	resp := h.NewBrowser().Do(http.MethodOptions, "/ui/cases", nil, map[string]string{
		"Origin":                        "http://localhost:3000",
		"Access-Control-Request-Method": "GET",
	})
	defer resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Access-Control-Allow-Credentials = %q, want true", got)
	}
}

func TestSecurity_CORSDisallowedOrigin(t *testing.T) {
	h := NewTestHarness(t)
	resp := h.NewBrowser().Do(http.MethodOptions, "/ui/cases", nil, map[string]string{
		"Origin":                        "https://evil.example",
		"Access-Control-Request-Method": "GET",
	})
	defer resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q for a disallowed origin", got)
	}
}

func assertSecurityHeaders(t *testing.T, resp *http.Response) {
	t.Helper()
	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	}
	for k, v := range want {
		if got := resp.Header.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if resp.Header.Get("Strict-Transport-Security") == "" {
		t.Error("Strict-Transport-Security missing")
	}
}
