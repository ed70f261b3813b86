package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/chative-support/server/internal/agent/model"
	errx "github.com/chative-support/server/internal/core/error"
	"github.com/chative-support/server/internal/session"
	"github.com/chative-support/server/internal/telemetry"
	logx "github.com/chative-support/server/pkg/logger"
)

const (
	cookieSession = "session_id"
	cookieUser    = "user_identifier"
)

var (
	errBadAccessCode = errors.New("invalid access code")
	errMissingQuery  = errors.New("missing query")
	errNoSession     = errors.New("missing session cookie")
)

// Answerer runs one query through the support graph.
type Answerer interface {
	Run(ctx context.Context, state *model.ConversationState) (*model.ConversationState, error)
}

// Tagger labels a query in the background.
type Tagger interface {
	Spawn(ctx context.Context, query string) <-chan struct{}
}

// Sessions is the login session store.
type Sessions interface {
	Create(ctx context.Context, identifier string) (string, error)
	Validate(ctx context.Context, id string) (*session.Session, error)
	Touch(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context, identifier string) (int, error)
}

// Server exposes the chatbot over HTTP.
type Server struct {
	cfg      Config
	sessions Sessions
	answerer Answerer
	tagger   Tagger
	now      func() time.Time
}

// NewServer wires the handlers. tagger may be nil to disable tagging.
func NewServer(cfg Config, sessions Sessions, answerer Answerer, tagger Tagger) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		answerer: answerer,
		tagger:   tagger,
		now:      time.Now,
	}
}

// Router builds the chi router with the global middleware stack.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(CORS(s.cfg.CORSOrigin))

	r.Get("/health", s.Health)
	r.Route("/api", func(r chi.Router) {
		r.Post("/login", s.Login)
		r.Post("/chat", s.Chat)
		r.Post("/logout", s.Logout)
		r.Delete("/sessions", s.CloseAll)
	})
	return r
}

// HTTPServer returns a configured *http.Server for the router.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

type loginRequest struct {
	AccessCode string `json:"access_code"`
	Email      string `json:"email"`
	User       string `json:"user"`
}

func (l loginRequest) identifier() string {
	if v := strings.TrimSpace(l.Email); v != "" {
		return v
	}
	return strings.TrimSpace(l.User)
}

// Login checks the access code, opens a session and sets the session cookies.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		Fail(w, err)
		return
	}
	if !s.validAccessCode(req.AccessCode) {
		Fail(w, errx.Unauthorized(errBadAccessCode, "Invalid Code"))
		return
	}

	identifier := req.identifier()
	id, err := s.sessions.Create(r.Context(), identifier)
	if err != nil {
		Fail(w, err)
		return
	}

	http.SetCookie(w, s.cfg.cookie(cookieSession, id))
	http.SetCookie(w, s.cfg.cookie(cookieUser, identifier))
	JSON(w, http.StatusOK, map[string]string{"session_id": id})
}

func (s *Server) validAccessCode(code string) bool {
	if s.cfg.AccessCode == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(code), []byte(s.cfg.AccessCode)) == 1
}

type chatRequest struct {
	Prompt string `json:"prompt"`
}

type chatResponse struct {
	Prompt     string `json:"prompt"`
	Reply      string `json:"reply"`
	ReceivedAt string `json:"received_at"`
}

// Chat answers one prompt for the session in the session cookie. The
// session's own identifier scopes the graph, not the user cookie.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.StartSpan(r.Context(), "http.chat")
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	sess, err := s.sessions.Validate(ctx, sessionCookie(r))
	if err != nil {
		Fail(w, err)
		return
	}
	if err = s.sessions.Touch(ctx, sess.SessionID); err != nil {
		Fail(w, err)
		return
	}

	var req chatRequest
	if err = decode(w, r, &req); err != nil {
		Fail(w, err)
		return
	}
	query := strings.TrimSpace(req.Prompt)
	if query == "" {
		err = errx.Invalid(errMissingQuery, "Missing query")
		Fail(w, err)
		return
	}

	if s.tagger != nil {
		s.tagger.Spawn(ctx, query)
	}

	state := model.NewConversationState(sess.SessionID, sess.UserIdentifier, query)
	out, err := s.answerer.Run(ctx, state)
	if err != nil {
		logx.Error().Err(err).Str("session_id", sess.SessionID).Msg("Chat run failed")
		Fail(w, err)
		return
	}

	JSON(w, http.StatusOK, chatResponse{
		Prompt:     query,
		Reply:      out.Answer,
		ReceivedAt: s.now().UTC().Format(time.RFC3339),
	})
}

// Logout ends the session in the session cookie.
func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	id := sessionCookie(r)
	if id == "" {
		Fail(w, errx.Invalid(errNoSession, "Missing session"))
		return
	}
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		Fail(w, err)
		return
	}
	http.SetCookie(w, s.cfg.expired(cookieSession))
	JSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

type closeAllRequest struct {
	Email string `json:"email"`
	User  string `json:"user"`
}

// CloseAll ends every session of the identifier in the body.
func (s *Server) CloseAll(w http.ResponseWriter, r *http.Request) {
	var req closeAllRequest
	if err := decode(w, r, &req); err != nil {
		Fail(w, err)
		return
	}
	identifier := loginRequest{Email: req.Email, User: req.User}.identifier()
	n, err := s.sessions.DeleteAll(r.Context(), identifier)
	if err != nil {
		Fail(w, err)
		return
	}
	http.SetCookie(w, s.cfg.expired(cookieSession))
	JSON(w, http.StatusOK, map[string]any{"status": "all sessions closed", "closed": n})
}

func sessionCookie(r *http.Request) string {
	c, err := r.Cookie(cookieSession)
	if err != nil {
		return ""
	}
	return c.Value
}
