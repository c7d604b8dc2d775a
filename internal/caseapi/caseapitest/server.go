// Package caseapitest provides an in-memory case service for tests. It
// serves the routes of the case API contract over httptest, keeps cases in
// memory with soft delete, issues signed bearer tokens and lets tests inject
// failures per operation.
package caseapitest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/vetdesk/model"
)

var signingKey = []byte("caseapitest-signing-key")

// Server is a stateful fake of the case service.
type Server struct {
	server *httptest.Server

	mu        sync.Mutex
	cases     map[int64]model.Case
	deleted   map[int64]model.Case
	nextID    int64
	users     map[string]string
	bare      bool
	tokenTTL  time.Duration
	overrides map[string][]*override
	received  map[string][]*RecordedRequest
}

// RecordedRequest captures one request received by the server.
type RecordedRequest struct {
	Method     string
	Path       string
	Query      map[string]string
	Headers    http.Header
	RawBody    []byte
	CaseID     int64
	ReceivedAt time.Time
}

// override replaces the normal handling of an operation.
type override struct {
	caseID    int64
	remaining int // -1 repeats forever
	status    int
	detail    string
	delay     time.Duration
	connError bool
}

// OperationMock configures overrides for one operation.
type OperationMock struct {
	srv    *Server
	opID   string
	caseID int64
	last   *override
}

// New starts a server with no cases and no users. It is closed when the
// test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		cases:     make(map[int64]model.Case),
		deleted:   make(map[int64]model.Case),
		users:     make(map[string]string),
		tokenTTL:  time.Hour,
		overrides: make(map[string][]*override),
		received:  make(map[string][]*RecordedRequest),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", s.handle("login", false, s.login))
	mux.HandleFunc("POST /auth/signup", s.handle("signup", false, s.signup))
	mux.HandleFunc("GET /api/cases", s.handle("listCases", true, s.list))
	mux.HandleFunc("POST /api/cases", s.handle("createCase", true, s.create))
	mux.HandleFunc("GET /api/cases/{caseId}", s.handle("getCase", true, s.get))
	mux.HandleFunc("PUT /api/cases/{caseId}", s.handle("updateCase", true, s.update))
	mux.HandleFunc("DELETE /api/cases/{caseId}", s.handle("deleteCase", true, s.delete))
	mux.HandleFunc("POST /api/cases/{caseId}/restore", s.handle("restoreCase", true, s.restore))
	mux.HandleFunc("POST /api/cases/{caseId}/analyze", s.handle("reanalyzeCase", true, s.reanalyze))
	mux.HandleFunc("POST /api/analyze", s.handle("analyze", true, s.analyze))
	mux.HandleFunc("POST /api/files", s.handle("uploadFile", true, s.upload))
	mux.HandleFunc("GET /api/v1/vomiting/tree", s.handle("getVomitingTree", false, s.vomitingTree))
	mux.HandleFunc("GET /api/v1/prompts", s.handle("listPrompts", false, s.prompts))

	s.server = httptest.NewServer(mux)
	t.Cleanup(s.server.Close)
	return s
}

// URL returns the base URL of the server.
func (s *Server) URL() string { return s.server.URL }

// AddUser registers credentials accepted by login.
func (s *Server) AddUser(email, password string) {
	s.mu.Lock()
	s.users[email] = password
	s.mu.Unlock()
}

// SetTokenTTL changes the lifetime of tokens issued from now on.
func (s *Server) SetTokenTTL(d time.Duration) {
	s.mu.Lock()
	s.tokenTTL = d
	s.mu.Unlock()
}

// SetBareList switches list answers to a bare JSON array with no total.
func (s *Server) SetBareList(bare bool) {
	s.mu.Lock()
	s.bare = bare
	s.mu.Unlock()
}

// Token issues a valid token for subject without going through login.
func (s *Server) Token(subject string) string {
	s.mu.Lock()
	ttl := s.tokenTTL
	s.mu.Unlock()
	return issueToken(subject, ttl)
}

// Seed stores the given cases, assigning IDs in order, and returns them.
func (s *Server) Seed(cases ...model.Case) []model.Case {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Case, 0, len(cases))
	for _, c := range cases {
		out = append(out, s.insertLocked(c))
	}
	return out
}

// SeedN stores n dog cases named "Patient 001" onwards.
func (s *Server) SeedN(n int) []model.Case {
	cases := make([]model.Case, n)
	for i := range cases {
		cases[i] = model.Case{
			PatientName:    fmt.Sprintf("Patient %03d", i+1),
			Species:        model.SpeciesDog,
			ChiefComplaint: "limping",
		}
	}
	return s.Seed(cases...)
}

// Case returns a live case by ID.
func (s *Server) Case(id int64) (model.Case, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	return c, ok
}

// Deleted reports whether id is soft-deleted.
func (s *Server) Deleted(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.deleted[id]
	return ok
}

// Count returns the number of live cases.
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cases)
}

// OnOperation starts configuring overrides for an operation of the contract.
func (s *Server) OnOperation(opID string) *OperationMock {
	return &OperationMock{srv: s, opID: opID}
}

// ForCase scopes the overrides added next to requests for one case.
func (om *OperationMock) ForCase(id int64) *OperationMock {
	om.caseID = id
	return om
}

// RespondWithError answers with status and a {"detail": ...} body until
// Reset, or once when followed by Once.
func (om *OperationMock) RespondWithError(status int, detail string) *OperationMock {
	return om.add(&override{status: status, detail: detail})
}

// RespondWithDelay sleeps before handling the request normally.
func (om *OperationMock) RespondWithDelay(d time.Duration) *OperationMock {
	return om.add(&override{delay: d})
}

// RespondWithConnectionError drops the connection without answering.
func (om *OperationMock) RespondWithConnectionError() *OperationMock {
	return om.add(&override{connError: true})
}

// Once limits the last added override to a single request.
func (om *OperationMock) Once() *OperationMock {
	return om.Times(1)
}

// Times limits the last added override to n requests.
func (om *OperationMock) Times(n int) *OperationMock {
	om.srv.mu.Lock()
	if om.last != nil {
		om.last.remaining = n
	}
	om.srv.mu.Unlock()
	return om
}

func (om *OperationMock) add(o *override) *OperationMock {
	o.caseID = om.caseID
	o.remaining = -1
	om.srv.mu.Lock()
	om.srv.overrides[om.opID] = append(om.srv.overrides[om.opID], o)
	om.srv.mu.Unlock()
	om.last = o
	return om
}

// Reset drops every override and recorded request. Stored cases and users
// are kept.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides = make(map[string][]*override)
	s.received = make(map[string][]*RecordedRequest)
}

// Calls returns how many requests an operation received.
func (s *Server) Calls(opID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received[opID])
}

// Requests returns the requests an operation received, oldest first.
func (s *Server) Requests(opID string) []*RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*RecordedRequest, len(s.received[opID]))
	copy(out, s.received[opID])
	return out
}

// LastRequest returns the latest request for an operation, or nil.
func (s *Server) LastRequest(opID string) *RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	reqs := s.received[opID]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// nextOverrideLocked pops the first override matching caseID. Must be called
// with the lock held.
func (s *Server) nextOverrideLocked(opID string, caseID int64) *override {
	for _, o := range s.overrides[opID] {
		if o.remaining == 0 || (o.caseID != 0 && o.caseID != caseID) {
			continue
		}
		if o.remaining > 0 {
			o.remaining--
		}
		return o
	}
	return nil
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, caseID int64, body []byte)

func (s *Server) handle(opID string, authenticated bool, next handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var caseID int64
		if raw := r.PathValue("caseId"); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				writeDetail(w, http.StatusUnprocessableEntity, "caseId must be an integer")
				return
			}
			caseID = id
		}
		body, _ := io.ReadAll(r.Body)

		rec := &RecordedRequest{
			Method:     r.Method,
			Path:       r.URL.Path,
			Query:      make(map[string]string),
			Headers:    r.Header.Clone(),
			RawBody:    body,
			CaseID:     caseID,
			ReceivedAt: time.Now(),
		}
		for key, values := range r.URL.Query() {
			if len(values) > 0 {
				rec.Query[key] = values[0]
			}
		}

		s.mu.Lock()
		s.received[opID] = append(s.received[opID], rec)
		o := s.nextOverrideLocked(opID, caseID)
		s.mu.Unlock()

		if o != nil {
			if o.connError {
				if hj, ok := w.(http.Hijacker); ok {
					if conn, _, _ := hj.Hijack(); conn != nil {
						conn.Close()
					}
				}
				return
			}
			if o.delay > 0 {
				select {
				case <-time.After(o.delay):
				case <-r.Context().Done():
					return
				}
			}
			if o.status != 0 {
				writeDetail(w, o.status, o.detail)
				return
			}
		}

		if authenticated && !validToken(r.Header.Get("Authorization")) {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		next(w, r, caseID, body)
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request, _ int64, body []byte) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		writeDetail(w, http.StatusUnprocessableEntity, "expected form body")
		return
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "malformed form body")
		return
	}
	user, pass := form.Get("username"), form.Get("password")

	s.mu.Lock()
	want, ok := s.users[user]
	ttl := s.tokenTTL
	s.mu.Unlock()
	if !ok || want != pass {
		writeDetail(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": issueToken(user, ttl),
		"token_type":   "bearer",
	})
}

func (s *Server) signup(w http.ResponseWriter, _ *http.Request, _ int64, body []byte) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		FullName string `json:"full_name"`
	}
	if err := json.Unmarshal(body, &in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "malformed body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[in.Email]; exists {
		writeDetail(w, http.StatusBadRequest, "Email already registered")
		return
	}
	s.users[in.Email] = in.Password
	writeJSON(w, http.StatusOK, map[string]any{"email": in.Email, "full_name": in.FullName})
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, _ int64, _ []byte) {
	q := r.URL.Query()
	page := atoiDefault(q.Get("page"), 1)
	size := atoiDefault(q.Get("page_size"), 10)
	term := strings.ToLower(strings.TrimSpace(q.Get("q")))

	s.mu.Lock()
	var matched []model.Case
	for _, c := range s.cases {
		if term == "" ||
			strings.Contains(strings.ToLower(c.PatientName), term) ||
			strings.Contains(strings.ToLower(c.ChiefComplaint), term) {
			matched = append(matched, c)
		}
	}
	bare := s.bare
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	items := []model.Case{}
	if start := (page - 1) * size; start < len(matched) {
		end := min(start+size, len(matched))
		items = append(items, matched[start:end]...)
	}

	if bare {
		writeJSON(w, http.StatusOK, items)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(matched)})
}

func (s *Server) get(w http.ResponseWriter, _ *http.Request, id int64, _ []byte) {
	s.mu.Lock()
	c, ok := s.cases[id]
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "Case not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) create(w http.ResponseWriter, _ *http.Request, _ int64, body []byte) {
	in, ok := decodeInput(w, body)
	if !ok {
		return
	}
	s.mu.Lock()
	c := s.insertLocked(caseFromInput(in))
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) update(w http.ResponseWriter, _ *http.Request, id int64, body []byte) {
	in, ok := decodeInput(w, body)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, found := s.cases[id]
	if !found {
		writeDetail(w, http.StatusNotFound, "Case not found")
		return
	}
	c := caseFromInput(in)
	c.ID = id
	c.CreatedAt = existing.CreatedAt
	now := time.Now().UTC()
	c.UpdatedAt = &now
	s.cases[id] = c
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) delete(w http.ResponseWriter, _ *http.Request, id int64, _ []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Case not found")
		return
	}
	now := time.Now().UTC()
	c.DeletedAt = &now
	delete(s.cases, id)
	s.deleted[id] = c
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id})
}

func (s *Server) restore(w http.ResponseWriter, _ *http.Request, id int64, _ []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.deleted[id]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Case not found")
		return
	}
	c.DeletedAt = nil
	delete(s.deleted, id)
	s.cases[id] = c
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) reanalyze(w http.ResponseWriter, _ *http.Request, id int64, body []byte) {
	var in model.AnalyzeInput
	if err := json.Unmarshal(body, &in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "malformed body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Case not found")
		return
	}
	res := analysisFor(in)
	c.Analysis, c.Treatment, c.Prognosis = res.Analysis, res.Treatment, res.Prognosis
	s.cases[id] = c
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) analyze(w http.ResponseWriter, _ *http.Request, _ int64, body []byte) {
	var in model.AnalyzeInput
	if err := json.Unmarshal(body, &in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "malformed body")
		return
	}
	writeJSON(w, http.StatusOK, analysisFor(in))
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request, _ int64, body []byte) {
	r.Body = io.NopCloser(bytes.NewReader(body))
	file, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "file is required")
		return
	}
	defer file.Close()
	n, _ := io.Copy(io.Discard, file)

	s.mu.Lock()
	s.nextID++
	id := fmt.Sprintf("att-%d", s.nextID)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, model.Attachment{
		ID:   id,
		URL:  s.server.URL + "/files/" + id,
		Name: header.Filename,
		Type: header.Header.Get("Content-Type"),
		Size: n,
	})
}

// kbNode is a knowledge base node as stored, before locale resolution.
type kbNode struct {
	id, zh, en string
	tags       []string
	questions  []string
	children   []kbNode
}

var vomitingKB = kbNode{
	id: "V0", zh: "呕吐", en: "Vomiting", tags: []string{"gi"},
	questions: []string{"Q1", "Q2"},
	children: []kbNode{
		{id: "V1", zh: "急性呕吐", en: "Acute vomiting", tags: []string{"acute"}, questions: []string{"Q3"}},
		{id: "V2", zh: "慢性呕吐", tags: []string{"chronic"}},
	},
}

var kbPrompts = map[string][2]string{
	"Q1": {"呕吐持续多久了？", "How long has the vomiting lasted?"},
	"Q2": {"呕吐物中有血吗？", "Is there blood in the vomit?"},
	"Q3": {"最近是否换过食物？", "Has the diet changed recently?"},
}

func kbPrompt(id, locale string) model.TriagePrompt {
	t := kbPrompts[id]
	p := model.TriagePrompt{ID: id, TextZH: t[0], TextEN: t[1], Text: t[0]}
	if locale == "en" {
		p.Text = t[1]
	}
	return p
}

func (n kbNode) resolve(locale string, embed bool) model.TriageNode {
	out := model.TriageNode{ID: n.id, Label: n.zh, LabelZH: n.zh, LabelEN: n.en, Tags: n.tags, Children: []model.TriageNode{}}
	if locale == "en" && n.en != "" {
		out.Label = n.en
	}
	if embed {
		out.Prompts = make([]model.TriagePrompt, 0, len(n.questions))
		for _, q := range n.questions {
			out.Prompts = append(out.Prompts, kbPrompt(q, locale))
		}
	} else {
		out.QuestionsRef = n.questions
	}
	for _, c := range n.children {
		out.Children = append(out.Children, c.resolve(locale, embed))
	}
	return out
}

func (s *Server) vomitingTree(w http.ResponseWriter, r *http.Request, _ int64, _ []byte) {
	q := r.URL.Query()
	locale := q.Get("locale")
	if locale == "" {
		locale = "zh"
	}
	writeJSON(w, http.StatusOK, model.TriageTree{
		Version:   json.RawMessage(`"2024.1"`),
		UpdatedAt: "2024-05-01",
		Root:      vomitingKB.resolve(locale, q.Get("embed") != "ids"),
	})
}

func (s *Server) prompts(w http.ResponseWriter, r *http.Request, _ int64, _ []byte) {
	q := r.URL.Query()
	ids := q["ids"]
	if len(ids) == 0 {
		writeDetail(w, http.StatusUnprocessableEntity, "ids is required")
		return
	}
	locale := q.Get("locale")
	if locale == "" {
		locale = "zh"
	}
	out := make([]model.TriagePrompt, 0, len(ids))
	for _, id := range ids {
		if _, ok := kbPrompts[id]; ok {
			out = append(out, kbPrompt(id, locale))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"prompts": out})
}

func (s *Server) insertLocked(c model.Case) model.Case {
	s.nextID++
	c.ID = s.nextID
	if c.CreatedAt == nil {
		now := time.Now().UTC()
		c.CreatedAt = &now
	}
	s.cases[c.ID] = c
	return c
}

func analysisFor(in model.AnalyzeInput) model.AnalysisResult {
	return model.AnalysisResult{
		Analysis:  fmt.Sprintf("Findings consistent with %s in a %s.", in.ChiefComplaint, in.Species),
		Treatment: "Rest and re-examine in 7 days.",
		Prognosis: "Good",
	}
}

func decodeInput(w http.ResponseWriter, body []byte) (model.CaseInput, bool) {
	var in model.CaseInput
	if err := json.Unmarshal(body, &in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "malformed body")
		return in, false
	}
	if strings.TrimSpace(in.PatientName) == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]any{{
				"loc":  []any{"body", "patient_name"},
				"msg":  "Field required",
				"type": "missing",
			}},
		})
		return in, false
	}
	return in, true
}

func caseFromInput(in model.CaseInput) model.Case {
	return model.Case{
		PatientName:    in.PatientName,
		Species:        in.Species,
		Sex:            in.Sex,
		AgeInfo:        in.AgeInfo,
		ChiefComplaint: in.ChiefComplaint,
		History:        in.History,
		ExamFindings:   in.ExamFindings,
		Analysis:       in.Analysis,
		Treatment:      in.Treatment,
		Prognosis:      in.Prognosis,
		Attachments:    in.Attachments,
	}
}

func issueToken(subject string, ttl time.Duration) string {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	signed, err := token.SignedString(signingKey)
	if err != nil {
		panic(fmt.Sprintf("caseapitest: sign token: %v", err))
	}
	return signed
}

func validToken(header string) bool {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return false
	}
	_, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return signingKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return err == nil
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
