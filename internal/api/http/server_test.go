package http

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/edgelearn/lti-tutor/internal/ags"
	"github.com/edgelearn/lti-tutor/internal/analytics"
	"github.com/edgelearn/lti-tutor/internal/auth"
	"github.com/edgelearn/lti-tutor/internal/config"
	"github.com/edgelearn/lti-tutor/internal/db"
	"github.com/edgelearn/lti-tutor/internal/docs"
	"github.com/edgelearn/lti-tutor/internal/keys"
	"github.com/edgelearn/lti-tutor/internal/lti"
	"github.com/edgelearn/lti-tutor/internal/resource"
	"github.com/edgelearn/lti-tutor/internal/session"
	"github.com/edgelearn/lti-tutor/internal/storage"
	"github.com/edgelearn/lti-tutor/internal/tutor"
)

type scriptedProvider struct {
	reply string
	err   error
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(context.Context, []tutor.Turn) (string, error) {
	return p.reply, p.err
}

type fixture struct {
	srv         *httptest.Server
	sessions    *session.MemoryStore
	agsHits     *int
	platformKey *rsa.PrivateKey
	kid         string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d, err := db.Open(context.Background(), db.DriverSQLite, "file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })

	key, err := keys.LoadOrGenerate(filepath.Join(t.TempDir(), "priv.pem"), "")
	if err != nil {
		t.Fatal(err)
	}
	platformKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	kid := "platform-key-1"

	agsHits := 0
	platform := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/token"):
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3600})
		case strings.HasSuffix(r.URL.Path, "/scores"):
			agsHits++
			w.WriteHeader(http.StatusOK)
		case strings.HasSuffix(r.URL.Path, "/jwks"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"keys": []map[string]any{keys.RSAPublicJWK(&platformKey.PublicKey, kid, "RS256")},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(platform.Close)

	cfg := config.Config{
		ToolURL:     "https://tool.test",
		Frontend:    "https://frontend.test",
		ClientID:    "client-1",
		SessionTTL:  time.Hour,
		MaxUploadMB: 20,
	}

	sessions := session.NewMemoryStore(time.Hour)
	blobs, err := storage.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	docStore := docs.NewStore(d, blobs)
	tutorStore := tutor.NewStore(d)
	memory := tutor.NewMemoryStore(d)
	provider := &scriptedProvider{reply: "ok"}
	analyticsSvc := analytics.NewService(analytics.NewStore(d), 60)

	states := lti.NewInMemoryStateStore()
	server := &Server{
		Cfg:      cfg,
		Sessions: sessions,
		Login: &lti.Login{
			AuthURL:  platform.URL + "/auth",
			ClientID: cfg.ClientID,
			ToolURL:  cfg.ToolURL,
			States:   states,
		},
		Validator: &lti.Validator{
			Issuer:       "https://lms.example.edu",
			ClientID:     cfg.ClientID,
			DeploymentID: "1",
			Keys:         lti.NewKeysetCache(platform.URL + "/jwks"),
			Replay:       lti.NewInMemoryReplay(),
		},
		States:     states,
		Key:        key,
		Gate:       auth.DevGate{Enabled: true},
		AGS:        ags.NewClient(platform.URL+"/token", cfg.ClientID, key),
		Resources:  resource.NewStore(d),
		TutorStore: tutorStore,
		Memory:     memory,
		Analytics:  analyticsSvc,
		Docs:       docStore,
		Tutor: &tutor.Service{
			Provider:  provider,
			Store:     tutorStore,
			Memory:    memory,
			Retriever: docs.NewRetriever(docStore),
			Analytics: analyticsSvc,
		},
	}

	r := chi.NewRouter()
	server.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, sessions: sessions, agsHits: &agsHits, platformKey: platformKey, kid: kid}
}

// idToken signs a launch token the fixture validator accepts.
func (f *fixture) idToken(t *testing.T, nonce string) string {
	t.Helper()
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   "https://lms.example.edu",
		"aud":   "client-1",
		"sub":   "student-7",
		"name":  "Ada",
		"nonce": nonce,
		"iat":   now.Unix(),
		"exp":   now.Add(5 * time.Minute).Unix(),
		lti.ClaimMessageType: "LtiResourceLinkRequest",
		lti.ClaimVersion:     "1.3.0",
		lti.ClaimDeployment:  "1",
		lti.ClaimContext:     map[string]any{"id": "course-9", "title": "Algebra"},
		lti.ClaimResource:    map[string]any{"id": "link-3", "title": "Unit 2"},
		lti.ClaimRoles:       []any{"http://purl.imsglobal.org/vocab/lis/v2/membership#Learner"},
	})
	tok.Header["kid"] = f.kid
	raw, err := tok.SignedString(f.platformKey)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

// noRedirect keeps 302s from the login and launch handlers observable.
var noRedirect = &http.Client{
	CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
}

// devSession creates a session via the dev-launch endpoint and returns its
// cookie.
func (f *fixture) devSession(t *testing.T, role string) *http.Cookie {
	t.Helper()
	resp, err := http.Get(f.srv.URL + "/lti/dev-launch?role=" + role)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dev-launch: %d", resp.StatusCode)
	}
	for _, c := range resp.Cookies() {
		if c.Name == session.CookieName {
			return c
		}
	}
	t.Fatal("no session cookie")
	return nil
}

func (f *fixture) do(t *testing.T, method, path string, cookie *http.Cookie, body any) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func TestUnauthenticatedAPIRejected(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodGet, "/api/lti_info/full_context", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("got %d", resp.StatusCode)
	}
}

func TestLaunchRequiresIssuedState(t *testing.T) {
	f := newFixture(t)

	resp, err := noRedirect.PostForm(f.srv.URL+"/lti/login", url.Values{
		"iss":             {"https://lms.example.edu"},
		"login_hint":      {"hint-1"},
		"target_link_uri": {"https://tool.test/lti/launch"},
	})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("login: %d", resp.StatusCode)
	}
	loc, err := resp.Location()
	if err != nil {
		t.Fatal(err)
	}
	state, nonce := loc.Query().Get("state"), loc.Query().Get("nonce")
	if state == "" || nonce == "" {
		t.Fatalf("auth request missing state or nonce: %v", loc)
	}

	// a state the tool never issued is rejected and no cookie is set
	resp, err = noRedirect.PostForm(f.srv.URL+"/lti/launch", url.Values{
		"state":    {"not-" + state},
		"id_token": {f.idToken(t, nonce)},
	})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("forged state: %d", resp.StatusCode)
	}
	for _, c := range resp.Cookies() {
		if c.Name == session.CookieName {
			t.Fatal("session cookie set on rejected launch")
		}
	}

	// the issued state completes the handshake
	resp, err = noRedirect.PostForm(f.srv.URL+"/lti/launch", url.Values{
		"state":    {state},
		"id_token": {f.idToken(t, nonce)},
	})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("launch: %d", resp.StatusCode)
	}
	if loc, _ := resp.Location(); loc == nil || loc.String() != "https://frontend.test" {
		t.Fatalf("launch redirect: %v", loc)
	}
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == session.CookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("no session cookie after launch")
	}

	apiResp, body := f.do(t, http.MethodGet, "/api/lti_info/full_context", cookie, nil)
	if apiResp.StatusCode != http.StatusOK || !strings.Contains(string(body), "course-9") {
		t.Fatalf("session from launch unusable: %d %s", apiResp.StatusCode, body)
	}

	// states are single use; replaying the callback fails
	resp, err = noRedirect.PostForm(f.srv.URL+"/lti/launch", url.Values{
		"state":    {state},
		"id_token": {f.idToken(t, nonce)},
	})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("replayed state: %d", resp.StatusCode)
	}
}

func TestStudentCannotTouchConfig(t *testing.T) {
	f := newFixture(t)
	student := f.devSession(t, "student")

	resp, _ := f.do(t, http.MethodGet, "/api/config/", student, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("student read config: %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodGet, "/api/analytics/class", student, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("student read class analytics: %d", resp.StatusCode)
	}
}

func TestConfigSaveValidation(t *testing.T) {
	f := newFixture(t)
	instructor := f.devSession(t, "instructor")

	// malformed quiz rejected with 400
	resp, _ := f.do(t, http.MethodPut, "/api/config/", instructor, map[string]any{
		"mode": "quiz",
		"quiz": []map[string]any{{
			"question":        "2+2?",
			"options":         []string{"4"},
			"correct_answers": []int{3},
		}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed quiz: %d", resp.StatusCode)
	}

	// valid save round trips
	resp, _ = f.do(t, http.MethodPut, "/api/config/", instructor, map[string]any{
		"mode":         "quiz",
		"tutor_prompt": "grade strictly",
		"quiz": []map[string]any{{
			"question":        "2+2?",
			"options":         []string{"3", "4"},
			"correct_answers": []int{1},
		}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("valid save: %d", resp.StatusCode)
	}
	resp, body := f.do(t, http.MethodGet, "/api/config/", instructor, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "grade strictly") {
		t.Fatalf("config read back: %d %s", resp.StatusCode, body)
	}
}

func TestQuizFlowEndToEnd(t *testing.T) {
	f := newFixture(t)
	instructor := f.devSession(t, "instructor")
	student := f.devSession(t, "student")

	if resp, _ := f.do(t, http.MethodPut, "/api/config/", instructor, map[string]any{
		"mode": "quiz",
		"quiz": []map[string]any{
			{"question": "2+2?", "options": []string{"3", "4"}, "correct_answers": []int{1}},
			{"question": "3+3?", "options": []string{"5", "6"}, "correct_answers": []int{1}},
		},
	}); resp.StatusCode != http.StatusOK {
		t.Fatalf("config save: %d", resp.StatusCode)
	}

	// student quiz view hides answers
	resp, body := f.do(t, http.MethodGet, "/api/quiz/", student, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("quiz get: %d", resp.StatusCode)
	}
	if strings.Contains(string(body), "correct_answers") {
		t.Fatalf("answers leaked to student: %s", body)
	}

	// submit: one right, one wrong
	resp, body = f.do(t, http.MethodPost, "/api/grades/submit", student, map[string]any{
		"answers": map[string][]int{"q1": {1}, "q2": {0}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %s", resp.StatusCode, body)
	}
	var out struct {
		Sent    bool    `json:"sent"`
		Score   float64 `json:"score"`
		Correct int     `json:"correct"`
		Total   int     `json:"total"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if out.Score != 50 || out.Correct != 1 || out.Total != 2 {
		t.Fatalf("grade: %+v", out)
	}
	// dev launches carry no AGS line item, so nothing goes upstream
	if out.Sent || *f.agsHits != 0 {
		t.Fatalf("score pushed without line item: %+v hits=%d", out, *f.agsHits)
	}

	// the attempt landed in the student's analytics
	resp, body = f.do(t, http.MethodGet, "/api/analytics/student", student, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("student analytics: %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "\"total_attempts\":1") {
		t.Fatalf("attempt not recorded: %s", body)
	}

	// instructor class view shows the student and the error heatmap
	resp, body = f.do(t, http.MethodGet, "/api/analytics/class", instructor, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("class analytics: %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "question_stats") {
		t.Fatalf("no heatmap: %s", body)
	}
}

func TestChatAndTranscriptOwnership(t *testing.T) {
	f := newFixture(t)
	student := f.devSession(t, "student")

	resp, body := f.do(t, http.MethodPost, "/api/tutor/sessions", student, map[string]any{"topic": "fractions"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start session: %d %s", resp.StatusCode, body)
	}
	var started struct {
		Session tutor.Session `json:"session"`
		Welcome string        `json:"welcome"`
	}
	if err := json.Unmarshal(body, &started); err != nil {
		t.Fatal(err)
	}
	if started.Welcome == "" {
		t.Fatal("no welcome message")
	}

	resp, body = f.do(t, http.MethodPost, fmt.Sprintf("/api/tutor/sessions/%s/chat", started.Session.ID), student,
		map[string]any{"message": "help me with 1/2 + 1/3"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat: %d %s", resp.StatusCode, body)
	}
	var chat tutor.ChatOutput
	if err := json.Unmarshal(body, &chat); err != nil {
		t.Fatal(err)
	}
	if chat.Fallback || chat.Reply != "ok" {
		t.Fatalf("chat output: %+v", chat)
	}

	// another student cannot read this transcript
	other := f.devSession(t, "other")
	resp, _ = f.do(t, http.MethodGet, "/api/tutor/sessions/"+started.Session.ID, other, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-user transcript read: %d", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodPost, "/api/tutor/sessions/"+started.Session.ID+"/end", student, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("end session: %d", resp.StatusCode)
	}
}

func TestDocumentUploadAndList(t *testing.T) {
	f := newFixture(t)
	instructor := f.devSession(t, "instructor")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte(strings.Repeat("photosynthesis converts light into energy. ", 20)))
	_ = mw.Close()

	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/api/documents/upload", &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(instructor)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload: %d", resp.StatusCode)
	}
	var doc docs.Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	if doc.NumChunks == 0 {
		t.Fatal("upload not chunked")
	}

	listResp, body := f.do(t, http.MethodGet, "/api/documents/dev-resource", instructor, nil)
	if listResp.StatusCode != http.StatusOK || !strings.Contains(string(body), "notes.txt") {
		t.Fatalf("list: %d %s", listResp.StatusCode, body)
	}

	// disallowed extension
	buf.Reset()
	mw = multipart.NewWriter(&buf)
	fw, _ = mw.CreateFormFile("file", "malware.exe")
	_, _ = fw.Write([]byte("nope"))
	_ = mw.Close()
	req, _ = http.NewRequest(http.MethodPost, f.srv.URL+"/api/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(instructor)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("exe upload: %d", resp2.StatusCode)
	}
}
