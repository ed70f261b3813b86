package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/chative-support/server/internal/agent/model"
	errx "github.com/chative-support/server/internal/core/error"
	"github.com/chative-support/server/internal/session"
	"github.com/chative-support/server/pkg/database"
)

const testCode = "letmein"

type fakeAnswerer struct {
	mu     sync.Mutex
	states []*model.ConversationState
	err    error
}

func (a *fakeAnswerer) Run(_ context.Context, s *model.ConversationState) (*model.ConversationState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.states = append(a.states, s)
	if a.err != nil {
		return nil, a.err
	}
	s.Answer = "echo: " + s.Query
	return s, nil
}

type fakeTagger struct {
	mu      sync.Mutex
	queries []string
}

func (t *fakeTagger) Spawn(_ context.Context, query string) <-chan struct{} {
	t.mu.Lock()
	t.queries = append(t.queries, query)
	t.mu.Unlock()
	done := make(chan struct{})
	close(done)
	return done
}

type fixture struct {
	srv      *Server
	handler  http.Handler
	store    *session.Store
	answerer *fakeAnswerer
	tagger   *fakeTagger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := database.Config{Driver: database.DriverSQLite, DSN: filepath.Join(t.TempDir(), "api.db"), MaxOpenConns: 1}
	db, err := cfg.Open()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	require.NoError(t, session.Migrate(context.Background(), db))

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	store, err := session.NewStore(db, session.Config{TTL: 5 * time.Minute, MaxActive: 2},
		session.WithMeter(provider.Meter("test")))
	require.NoError(t, err)

	f := &fixture{store: store, answerer: &fakeAnswerer{}, tagger: &fakeTagger{}}
	f.srv = NewServer(Config{
		Port:           "4000",
		CORSOrigin:     "http://localhost:5173",
		AccessCode:     testCode,
		CookieSameSite: "Lax",
		CookieMaxAge:   time.Hour,
	}, store, f.answerer, f.tagger)
	f.srv.now = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }
	f.handler = f.srv.Router()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T, email string) []*http.Cookie {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/login", `{"access_code":"`+testCode+`","email":"`+email+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return rec.Result().Cookies()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func cookieNamed(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "2025-03-01T10:00:00Z", body["timestamp"])
}

func TestLoginSetsCookies(t *testing.T) {
	f := newFixture(t)
	cookies := f.login(t, "alice@example.com")

	sid := cookieNamed(cookies, cookieSession)
	require.NotNil(t, sid)
	assert.True(t, sid.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, sid.SameSite)
	assert.Equal(t, 3600, sid.MaxAge)

	user := cookieNamed(cookies, cookieUser)
	require.NotNil(t, user)
	assert.Equal(t, "alice@example.com", user.Value)
}

func TestLoginRejections(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/login", `{"access_code":"nope","email":"alice@example.com"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid Code", decodeBody(t, rec)["error"])

	rec = f.do(t, http.MethodPost, "/api/login", `{"access_code":"`+testCode+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing user identifier", decodeBody(t, rec)["error"])

	rec = f.do(t, http.MethodPost, "/api/login", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginRefusedWithoutConfiguredCode(t *testing.T) {
	f := newFixture(t)
	f.srv.cfg.AccessCode = ""
	rec := f.do(t, http.MethodPost, "/api/login", `{"access_code":"","email":"alice@example.com"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginSessionLimit(t *testing.T) {
	f := newFixture(t)
	f.login(t, "alice@example.com")
	f.login(t, "alice@example.com")

	rec := f.do(t, http.MethodPost, "/api/login", `{"access_code":"`+testCode+`","email":"alice@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], session.ErrSessionLimit.Error())
}

func TestChat(t *testing.T) {
	f := newFixture(t)
	cookies := f.login(t, "alice@example.com")
	sid := cookieNamed(cookies, cookieSession)

	// A forged user cookie does not change who the graph acts for.
	forged := &http.Cookie{Name: cookieUser, Value: "bob@example.com"}
	rec := f.do(t, http.MethodPost, "/api/chat", `{"prompt":"  Where is my order?  "}`, sid, forged)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, "Where is my order?", body["prompt"])
	assert.Equal(t, "echo: Where is my order?", body["reply"])
	assert.Equal(t, "2025-03-01T10:00:00Z", body["received_at"])

	require.Len(t, f.answerer.states, 1)
	state := f.answerer.states[0]
	assert.Equal(t, "alice@example.com", state.UserIdentifier)
	assert.Equal(t, sid.Value, state.ConversationID)
	assert.Equal(t, []string{"Where is my order?"}, f.tagger.queries)

	sess, err := f.store.Validate(context.Background(), sid.Value)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.ConversationCount)
}

func TestChatRejections(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/chat", `{"prompt":"hi"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/chat", `{"prompt":"hi"}`, &http.Cookie{Name: cookieSession, Value: "unknown"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	sid := cookieNamed(f.login(t, "alice@example.com"), cookieSession)
	rec = f.do(t, http.MethodPost, "/api/chat", `{"prompt":"   "}`, sid)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing query", decodeBody(t, rec)["error"])
	assert.Empty(t, f.answerer.states)
	assert.Empty(t, f.tagger.queries)
}

func TestChatGraphFailureHidesDetails(t *testing.T) {
	f := newFixture(t)
	f.answerer.err = errors.New("unrecognized label: is_question=\"maybe\"")
	sid := cookieNamed(f.login(t, "alice@example.com"), cookieSession)

	rec := f.do(t, http.MethodPost, "/api/chat", `{"prompt":"hmm"}`, sid)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, errx.SystemErrorMessage, decodeBody(t, rec)["error"])
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	sid := cookieNamed(f.login(t, "alice@example.com"), cookieSession)

	rec := f.do(t, http.MethodPost, "/api/logout", "", sid)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "closed", decodeBody(t, rec)["status"])
	cleared := cookieNamed(rec.Result().Cookies(), cookieSession)
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)

	rec = f.do(t, http.MethodPost, "/api/chat", `{"prompt":"hi"}`, sid)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/logout", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCloseAllSessions(t *testing.T) {
	f := newFixture(t)
	first := cookieNamed(f.login(t, "alice@example.com"), cookieSession)
	f.login(t, "alice@example.com")

	rec := f.do(t, http.MethodDelete, "/api/sessions", `{"email":"alice@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "all sessions closed", body["status"])
	assert.EqualValues(t, 2, body["closed"])

	_, err := f.store.Validate(context.Background(), first.Value)
	assert.ErrorIs(t, err, session.ErrInvalidSession)

	rec = f.do(t, http.MethodDelete, "/api/sessions", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORS(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
