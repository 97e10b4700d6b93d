package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"airamed/internal/auth"
	"airamed/internal/dashboard"
	"airamed/internal/session"
	"airamed/internal/transport"
	"airamed/pkg/interfaces"
	"airamed/pkg/types"
)

const (
	maxBodyBytes       = 64 << 10
	defaultEventsLimit = 20
	maxEventsLimit     = 200

	// AccessKeyHeader carries the operator key on /api requests
	AccessKeyHeader = "X-Airamed-Key"
)

// Authenticator runs the login flow
type Authenticator interface {
	Login(ctx context.Context, username, password string) (types.Session, error)
	Logout(ctx context.Context) error
}

// ViewHost exposes the live dashboard
type ViewHost interface {
	Current() dashboard.ViewModel
	Frame() types.Frame
}

// HealthChecker probes the persistence backend
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ViewerStats reports viewer feed counters
type ViewerStats interface {
	Stats() map[string]int
}

// PollStats reports live poll subscriptions
type PollStats interface {
	Active() int
}

// Deps are the collaborators of the control API. Audit, Metrics and
// WebSocket are optional. An empty AccessKey leaves /api open to local
// callers; AllowedOrigins lists the only browser origins granted CORS.
type Deps struct {
	Auth      Authenticator
	Sessions  interfaces.SessionReader
	Navigator interfaces.Navigator
	Views     ViewHost
	Storage   HealthChecker
	Viewers   ViewerStats
	Polls     PollStats
	Audit     interfaces.SessionAuditLog
	Metrics   http.Handler
	WebSocket http.Handler

	AccessKey      string
	AllowedOrigins []string
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between local
// operators and the dashboard; no capacity logic lives here, only request
// decoding, dispatch to the active view, and JSON serialization
type Server struct {
	deps      Deps
	router    *mux.Router
	origins   map[string]bool
	startedAt time.Time
}

// NewServer builds the router over deps
func NewServer(deps Deps) *Server {
	s := &Server{
		deps:      deps,
		router:    mux.NewRouter(),
		origins:   make(map[string]bool, len(deps.AllowedOrigins)),
		startedAt: time.Now(),
	}
	for _, origin := range deps.AllowedOrigins {
		s.origins[origin] = true
	}
	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// CORS applies everywhere; JSON content type only to the API and health routes.
// Every /api route acts with the operator's upstream credential, so the
// access key guards all of them, login included
func (s *Server) setupRoutes() {
	s.router.Use(s.corsMiddleware)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, "Not found", http.StatusNotFound)
	})

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.jsonMiddleware, s.accessKeyMiddleware)
	api.HandleFunc("/login", s.login).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/logout", s.logout).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/session", s.getSession).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/session/events", s.sessionEvents).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/navigate", s.navigate).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/view", s.getView).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/referral", s.requestReferral).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/crisis", s.setCrisis).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/chat", s.sendChat).Methods(http.MethodPost, http.MethodOptions)

	s.router.Handle("/health", s.jsonMiddleware(http.HandlerFunc(s.healthCheck))).Methods(http.MethodGet)
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics).Methods(http.MethodGet)
	}
	if s.deps.WebSocket != nil {
		s.router.Handle("/ws", s.deps.WebSocket)
	}
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SessionResponse struct {
	Authenticated bool       `json:"authenticated"`
	Role          types.Role `json:"role,omitempty"`
	FacilityID    string     `json:"facility_id,omitempty"`
	Route         string     `json:"route"`
}

type NavigateRequest struct {
	Route string `json:"route"`
}

type ReferralRequest struct {
	Severity         types.Severity `json:"severity"`
	RequiredResource types.Resource `json:"required_resource"`
}

// CrisisRequest sets crisis mode explicitly; without Active it toggles
type CrisisRequest struct {
	Active *bool `json:"active"`
}

type CrisisResponse struct {
	CrisisMode bool `json:"crisis_mode"`
}

type ChatRequest struct {
	Message string `json:"message"`
}

type EventsResponse struct {
	Events []types.SessionAuditEntry `json:"events"`
}

type HealthResponse struct {
	Status              string                 `json:"status"`
	Timestamp           time.Time              `json:"timestamp"`
	Storage             string                 `json:"storage"`
	Viewers             map[string]int         `json:"viewers"`
	ActiveSubscriptions int                    `json:"active_subscriptions"`
	System              map[string]interface{} `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FUNCTIONAL DISCOVERY: POST /api/login accepts a form post or a JSON body
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if !s.decode(w, r, &req) {
			return
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			s.sendError(w, "Invalid form body", http.StatusBadRequest)
			return
		}
		req.Username = r.PostFormValue("username")
		req.Password = r.PostFormValue("password")
	}

	sess, err := s.deps.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		log.Printf("API: login failed: %v", err)
		s.sendFailure(w, err)
		return
	}

	json.NewEncoder(w).Encode(SessionResponse{
		Authenticated: true,
		Role:          sess.Role,
		FacilityID:    sess.FacilityID,
		Route:         s.deps.Navigator.Current(),
	})
}

// FUNCTIONAL DISCOVERY: POST /api/logout always leaves the daemon signed out
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Auth.Logout(r.Context()); err != nil {
		log.Printf("API: logout: %v", err)
		s.sendFailure(w, err)
		return
	}
	json.NewEncoder(w).Encode(SessionResponse{Route: s.deps.Navigator.Current()})
}

// FUNCTIONAL DISCOVERY: GET /api/session describes the session without its token
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess := s.deps.Sessions.CurrentSession()
	json.NewEncoder(w).Encode(SessionResponse{
		Authenticated: sess.IsAuthenticated(),
		Role:          sess.Role,
		FacilityID:    sess.FacilityID,
		Route:         s.deps.Navigator.Current(),
	})
}

// GET /api/session/events?limit=N
func (s *Server) sessionEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		s.sendError(w, "Session audit log is not configured", http.StatusNotImplemented)
		return
	}

	limit := defaultEventsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.sendError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxEventsLimit)
	}

	events, err := s.deps.Audit.RecentEvents(r.Context(), limit)
	if err != nil {
		log.Printf("API: reading session events: %v", err)
		s.sendError(w, "Failed to read session events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []types.SessionAuditEntry{}
	}
	json.NewEncoder(w).Encode(EventsResponse{Events: events})
}

// FUNCTIONAL DISCOVERY: POST /api/navigate pushes a route; the guard decides
// where the daemon ends up, which GET /api/session then reports
func (s *Server) navigate(w http.ResponseWriter, r *http.Request) {
	var req NavigateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Route) == "" {
		s.sendError(w, "route is required", http.StatusBadRequest)
		return
	}

	s.deps.Navigator.Push(req.Route)
	json.NewEncoder(w).Encode(map[string]string{"route": s.deps.Navigator.Current()})
}

// GET /api/view returns the active view's latest frame
func (s *Server) getView(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(s.deps.Views.Frame())
}

// FUNCTIONAL DISCOVERY: POST /api/referral is served only while the ambulance view is active
func (s *Server) requestReferral(w http.ResponseWriter, r *http.Request) {
	var req ReferralRequest
	if !s.decode(w, r, &req) {
		return
	}
	view, ok := s.deps.Views.Current().(dashboard.ReferralRequester)
	if !ok {
		s.sendError(w, dashboard.ErrNotSupported.Error(), http.StatusConflict)
		return
	}

	result, err := view.RequestReferral(r.Context(),
		types.Severity(strings.ToUpper(string(req.Severity))),
		types.Resource(strings.ToUpper(string(req.RequiredResource))))
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	json.NewEncoder(w).Encode(result)
}

// POST /api/crisis
func (s *Server) setCrisis(w http.ResponseWriter, r *http.Request) {
	var req CrisisRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	view, ok := s.deps.Views.Current().(dashboard.CrisisToggler)
	if !ok {
		s.sendError(w, dashboard.ErrNotSupported.Error(), http.StatusConflict)
		return
	}

	var (
		active bool
		err    error
	)
	if req.Active != nil {
		active, err = view.SetCrisis(r.Context(), *req.Active)
	} else {
		active, err = view.ToggleCrisis(r.Context())
	}
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	json.NewEncoder(w).Encode(CrisisResponse{CrisisMode: active})
}

// POST /api/chat
func (s *Server) sendChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !s.decode(w, r, &req) {
		return
	}
	view, ok := s.deps.Views.Current().(dashboard.ChatSender)
	if !ok {
		s.sendError(w, dashboard.ErrNotSupported.Error(), http.StatusConflict)
		return
	}

	if err := view.SendChat(r.Context(), req.Message); err != nil {
		s.sendFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"message": "sent"})
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	storageStatus := "healthy"
	if err := s.deps.Storage.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		storageStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:              status,
		Timestamp:           time.Now(),
		Storage:             storageStatus,
		Viewers:             s.deps.Viewers.Stats(),
		ActiveSubscriptions: s.deps.Polls.Active(),
		System: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		},
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// statusFor maps domain errors onto HTTP statuses
func statusFor(err error) int {
	var rejected *transport.RejectedRequest
	var failure *transport.TransportFailure
	switch {
	case errors.Is(err, auth.ErrMissingCredentials),
		errors.Is(err, types.ErrInvalidSeverity),
		errors.Is(err, types.ErrInvalidResource),
		errors.Is(err, types.ErrInvalidPatientID),
		errors.Is(err, types.ErrInvalidCoordinates),
		errors.Is(err, types.ErrEmptyChatMessage),
		errors.Is(err, types.ErrChatMessageTooLong):
		return http.StatusBadRequest
	case errors.Is(err, transport.ErrInvalidCredentials),
		errors.Is(err, transport.ErrAuthenticationRejected):
		return http.StatusUnauthorized
	case errors.Is(err, dashboard.ErrReferralActive),
		errors.Is(err, dashboard.ErrViewStopped),
		errors.Is(err, dashboard.ErrNotSupported):
		return http.StatusConflict
	case errors.Is(err, session.ErrPersistenceFailed):
		return http.StatusInternalServerError
	case errors.As(err, &rejected), errors.As(err, &failure), errors.Is(err, auth.ErrUnsupportedRole):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) sendFailure(w http.ResponseWriter, err error) {
	message := err.Error()
	var rejected *transport.RejectedRequest
	if errors.As(err, &rejected) && rejected.Detail != "" {
		message = rejected.Detail
	}
	s.sendError(w, message, statusFor(err))
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware lets a browser dashboard on a
// configured origin drive the local daemon. Any other origin gets no CORS
// headers, so the browser keeps the response from it, and its state-changing
// requests are refused before they reach a handler. Clients outside a
// browser send no Origin and are governed by the access key alone.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := origin != "" && s.origins[origin]
		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+AccessKeyHeader)
			w.Header().Set("Access-Control-Max-Age", "86400")
		}
		w.Header().Add("Vary", "Origin")

		if origin != "" && !allowed && r.Method != http.MethodGet && r.Method != http.MethodHead {
			s.sendError(w, "Origin not allowed", http.StatusForbidden)
			return
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) accessKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.AccessKey != "" {
			key := r.Header.Get(AccessKeyHeader)
			if subtle.ConstantTimeCompare([]byte(key), []byte(s.deps.AccessKey)) != 1 {
				s.sendError(w, "Access key required", http.StatusForbidden)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
