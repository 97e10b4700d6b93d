package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"airamed/internal/navigation"
	"airamed/internal/session"
	"airamed/pkg/interfaces"
	"airamed/pkg/types"
)

type memPersistence struct {
	mu sync.Mutex
	s  types.Session
}

func (m *memPersistence) SaveSession(_ context.Context, s types.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = s
	return nil
}
func (m *memPersistence) LoadSession(context.Context) (types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s, nil
}
func (m *memPersistence) ClearSession(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = types.Session{}
	return nil
}
func (m *memPersistence) HealthCheck(context.Context) error { return nil }
func (m *memPersistence) Close() error                      { return nil }

// countingRedirector records every replacing navigation
type countingRedirector struct {
	mu     sync.Mutex
	routes []string
}

func (c *countingRedirector) Replace(route string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes = append(c.routes, route)
}

func (c *countingRedirector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.routes)
}

type requestRecorder struct {
	interfaces.NoopMetrics
	mu       sync.Mutex
	statuses []int
	labels   []string
}

func (r *requestRecorder) ObserveRequest(method, path string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
	r.labels = append(r.labels, path)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *session.Store, *countingRedirector) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store := session.NewStore(&memPersistence{}, nil)
	redirector := &countingRedirector{}
	client := NewClient(Options{BaseURL: server.URL + "/", Timeout: 2 * time.Second}, store, redirector, nil)
	return client, store, redirector
}

func login(t *testing.T, store *session.Store, token string) {
	t.Helper()
	if err := store.Login(context.Background(), token, types.RoleFacility, "H001"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
}

// Functional Validation Tests - credential attachment

func TestClient_AttachesBearerWhenPresent(t *testing.T) {
	var gotAuth atomic.Value
	client, store, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[]`))
	})

	if _, err := client.Get(context.Background(), "/api/hospital/dashboard"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got := gotAuth.Load().(string); got != "" {
		t.Errorf("expected no Authorization without a session, got %q", got)
	}

	login(t, store, "abc123")
	if _, err := client.Get(context.Background(), "/api/hospital/dashboard"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got := gotAuth.Load().(string); got != "Bearer abc123" {
		t.Errorf("Authorization = %q, want %q", got, "Bearer abc123")
	}
}

func TestClient_ReturnsDataAndStatus(t *testing.T) {
	client, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	resp, err := client.Post(context.Background(), "/api/thing", map[string]string{"a": "b"})
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if resp.Status != http.StatusCreated {
		t.Errorf("Status = %d, want 201", resp.Status)
	}
	var body struct{ OK bool }
	if err := resp.Decode(&body); err != nil || !body.OK {
		t.Errorf("Decode = %+v, %v", body, err)
	}
}

func TestClient_Encodings(t *testing.T) {
	type seen struct {
		contentType string
		body        string
	}
	var last atomic.Value
	client, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		last.Store(seen{contentType: r.Header.Get("Content-Type"), body: string(data)})
		_, _ = w.Write([]byte(`{}`))
	})
	ctx := context.Background()

	if _, err := client.Post(ctx, "/json", map[string]string{"message": "hi"}); err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	got := last.Load().(seen)
	if got.contentType != "application/json" || got.body != `{"message":"hi"}` {
		t.Errorf("JSON request = %+v", got)
	}

	form := map[string][]string{"username": {"h1"}, "password": {"p w"}}
	if _, err := client.PostForm(ctx, "/form", form); err != nil {
		t.Fatalf("PostForm failed: %v", err)
	}
	got = last.Load().(seen)
	if got.contentType != "application/x-www-form-urlencoded" || got.body != "password=p+w&username=h1" {
		t.Errorf("form request = %+v", got)
	}

	if _, err := client.Delete(ctx, "/thing"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	got = last.Load().(seen)
	if got.contentType != "" || got.body != "" {
		t.Errorf("DELETE should carry no body, got %+v", got)
	}
}

// Functional Validation Tests - error taxonomy

func TestClient_TransportFailure(t *testing.T) {
	store := session.NewStore(&memPersistence{}, nil)
	client := NewClient(Options{BaseURL: "http://127.0.0.1:1"}, store, &countingRedirector{}, nil)

	_, err := client.Get(context.Background(), "/api/hospital/dashboard")
	var failure *TransportFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected TransportFailure, got %T %v", err, err)
	}
	if failure.Method != http.MethodGet || failure.Path != "/api/hospital/dashboard" {
		t.Errorf("unexpected failure %+v", failure)
	}
}

func TestClient_TimeoutIsTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewClient(Options{BaseURL: server.URL, Timeout: 50 * time.Millisecond}, nil, nil, nil)
	_, err := client.Get(context.Background(), "/slow")

	var failure *TransportFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected TransportFailure, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestClient_RejectedRequestCarriesDetail(t *testing.T) {
	client, store, redirector := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"detail":"Crisis mode already active"}`))
	})
	login(t, store, "abc")

	err := client.ActivateCrisis(context.Background())
	var rejected *RejectedRequest
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedRequest, got %v", err)
	}
	if rejected.Status != http.StatusConflict || rejected.Detail != "Crisis mode already active" {
		t.Errorf("unexpected rejection %+v", rejected)
	}
	if !errors.Is(err, ErrRequestRejected) || errors.Is(err, ErrAuthenticationRejected) {
		t.Errorf("ordinary rejection misclassified: %v", err)
	}
	if !store.CurrentSession().IsAuthenticated() || redirector.count() != 0 {
		t.Error("ordinary rejection must not touch the session")
	}
}

func TestExtractDetail(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		want   string
	}{
		{"detail string", `{"detail":"Not found"}`, 404, "Not found"},
		{"detail list", `{"detail":[{"loc":["body","x"],"msg":"field required"}]}`, 422, `[{"loc":["body","x"],"msg":"field required"}]`},
		{"message fallback", `{"message":"boom"}`, 500, "boom"},
		{"empty detail uses message", `{"detail":"","message":"m"}`, 500, "m"},
		{"compact body", "{ \"error\" : 1 }", 500, `{"error":1}`},
		{"plain text", "upstream connect error", 502, "Bad Gateway"},
		{"proxy html page", "<html><body><h1>502 Bad Gateway</h1></body></html>", 502, "Bad Gateway"},
		{"empty body", "", 503, "Service Unavailable"},
		{"null body", "null", 500, "Internal Server Error"},
		{"unknown status", "", 599, "HTTP 599"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractDetail([]byte(tt.body), tt.status); got != tt.want {
				t.Errorf("ExtractDetail() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractDetail_Truncates(t *testing.T) {
	long := strings.Repeat("x", maxDetailLength+50)
	got := ExtractDetail([]byte(`{"detail":"`+long+`"}`), 400)
	if len(got) != maxDetailLength+3 {
		t.Errorf("expected truncated detail, got length %d", len(got))
	}
}

func TestExtractDetail_TruncatesOnRuneBoundary(t *testing.T) {
	// The two-byte rune straddles the cut
	long := strings.Repeat("x", maxDetailLength-1) + "é" + strings.Repeat("y", 20)
	got := ExtractDetail([]byte(`{"detail":"`+long+`"}`), 400)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated detail is not valid UTF-8: %q", got[len(got)-8:])
	}
	if want := strings.Repeat("x", maxDetailLength-1) + "..."; got != want {
		t.Errorf("expected cut before the rune, got suffix %q", got[len(got)-8:])
	}
}

// Functional Validation Tests - authentication rejection

func TestClient_AuthenticationRejectedTearsDownSession(t *testing.T) {
	client, store, redirector := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Could not validate credentials"}`))
	})
	login(t, store, "abc123")

	_, err := client.NetworkSnapshot(context.Background())

	var rejected *RejectedRequest
	if !errors.As(err, &rejected) || !rejected.IsAuthenticationRejected() {
		t.Fatalf("expected authentication rejection, got %v", err)
	}
	if !errors.Is(err, ErrAuthenticationRejected) {
		t.Error("errors.Is must match ErrAuthenticationRejected")
	}
	if rejected.Detail != "Could not validate credentials" {
		t.Errorf("Detail = %q", rejected.Detail)
	}
	if !store.CurrentSession().IsZero() {
		t.Errorf("session must be absent, got %+v", store.CurrentSession())
	}
	if redirector.count() != 1 || redirector.routes[0] != navigation.RouteLogin {
		t.Errorf("expected one redirect to login, got %v", redirector.routes)
	}
}

func TestClient_ConcurrentRejectionsTearDownOnce(t *testing.T) {
	release := make(chan struct{})
	var arrived int32
	const inFlight = 12

	client, store, redirector := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Hold every request until all are in flight, then reject them together
		if atomic.AddInt32(&arrived, 1) == inFlight {
			close(release)
		}
		<-release
		w.WriteHeader(http.StatusUnauthorized)
	})
	login(t, store, "abc123")

	var notifications int32
	store.Subscribe(func(e types.SessionEvent) {
		if e.Kind == types.SessionLogout {
			atomic.AddInt32(&notifications, 1)
		}
	})

	var wg sync.WaitGroup
	var authRejected int32
	for i := 0; i < inFlight; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = client.NetworkSnapshot(context.Background())
			} else {
				_, err = client.FacilityState(context.Background(), "H001")
			}
			if errors.Is(err, ErrAuthenticationRejected) {
				atomic.AddInt32(&authRejected, 1)
			}
		}(i)
	}
	wg.Wait()

	if authRejected != inFlight {
		t.Errorf("every caller must observe the rejection, got %d of %d", authRejected, inFlight)
	}
	if notifications != 1 {
		t.Errorf("expected one teardown notification, got %d", notifications)
	}
	if redirector.count() != 1 {
		t.Errorf("expected one redirect, got %d", redirector.count())
	}
	if !store.CurrentSession().IsZero() {
		t.Error("session must be absent")
	}
}

func TestClient_StaleRejectionKeepsNewSession(t *testing.T) {
	var store *session.Store
	client, s, redirector := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// The user logs in again while the old request is in flight
		_ = store.Login(context.Background(), "fresh", types.RoleCommander, "")
		w.WriteHeader(http.StatusUnauthorized)
	})
	store = s
	login(t, store, "stale")

	_, err := client.Get(context.Background(), "/api/hospital/dashboard")
	if !errors.Is(err, ErrAuthenticationRejected) {
		t.Fatalf("expected authentication rejection, got %v", err)
	}
	if store.CurrentSession().Token != "fresh" {
		t.Errorf("rejection of a stale credential ended the new session")
	}
	if redirector.count() != 0 {
		t.Errorf("no redirect expected, got %v", redirector.routes)
	}
}

// Functional Validation Tests - credential exchange

func TestClient_ExchangeSuccess(t *testing.T) {
	client, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/token" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("credential exchange must not carry a bearer token")
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.PostForm.Get("username") != "h1" || r.PostForm.Get("password") != "secret" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"bearer","role":"hospital","facility_id":7}`))
	})

	resp, err := client.Exchange(context.Background(), "h1", "secret")
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if resp.AccessToken != "tok" || resp.Role != "hospital" || resp.FacilityIDString() != "7" {
		t.Errorf("unexpected login response %+v", resp)
	}
}

func TestClient_ExchangeInvalidCredentialsDoesNotTearDown(t *testing.T) {
	client, store, redirector := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Incorrect username or password"}`))
	})
	login(t, store, "existing")

	_, err := client.Exchange(context.Background(), "h1", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if errors.Is(err, ErrAuthenticationRejected) {
		t.Error("exchange failure must not be classified as authentication rejection")
	}
	var rejected *RejectedRequest
	if errors.As(err, &rejected) && rejected.Detail != "Incorrect username or password" {
		t.Errorf("Detail = %q", rejected.Detail)
	}
	if store.CurrentSession().Token != "existing" || redirector.count() != 0 {
		t.Error("credential exchange failure must not tear down or redirect")
	}
}

func TestClient_ExchangeMissingToken(t *testing.T) {
	client, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"role":"ambulance"}`))
	})

	_, err := client.Exchange(context.Background(), "a", "b")
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("expected ErrMalformedResponse, got %v", err)
	}
}

// Functional Validation Tests - typed endpoints

func TestClient_TypedEndpoints(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	client, store, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.EscapedPath())
		mu.Unlock()

		switch r.URL.Path {
		case "/api/hospital/dashboard":
			_, _ = w.Write([]byte(`[{"facility_id":"H001","beds_occupied":90,"beds_total":100},{"facility_id":"H002"},{"facility_id":"H003"}]`))
		case "/api/hospital/state/H 1":
			_, _ = w.Write([]byte(`{"facility_id":"H 1","oxygen_percent":25.5}`))
		case "/api/referral/request":
			var req types.ReferralRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Severity != types.SeverityCritical || req.RequiredResource != types.ResourceBed {
				t.Errorf("unexpected referral body %+v", req)
			}
			_, _ = w.Write([]byte(`{"recommended":{"facility_id":"H009","score":0.2},"alternatives":[{"facility_id":"H003","score":0.9},{"facility_id":"H001","score":0.1}]}`))
		case "/api/chat/messages":
			_, _ = w.Write([]byte(`[{"sender_name":"Ops","message_text":"hello"}]`))
		default:
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		}
	})
	login(t, store, "abc")
	ctx := context.Background()

	network, err := client.NetworkSnapshot(ctx)
	if err != nil || len(network) != 3 || network[0].BedsOccupied != 90 {
		t.Errorf("NetworkSnapshot = %+v, %v", network, err)
	}

	state, err := client.FacilityState(ctx, "H 1")
	if err != nil || state.OxygenPercent != 25.5 {
		t.Errorf("FacilityState = %+v, %v", state, err)
	}

	result, err := client.RequestReferral(ctx, types.ReferralRequest{
		PatientID: "P_1", Severity: types.SeverityCritical, RequiredResource: types.ResourceBed,
		OriginLat: 18.5204, OriginLon: 73.8567,
	})
	if err != nil {
		t.Fatalf("RequestReferral failed: %v", err)
	}
	if result.Recommended.FacilityID != "H009" || result.Alternatives[0].FacilityID != "H003" {
		t.Errorf("referral result reordered: %+v", result)
	}

	messages, err := client.ChatMessages(ctx)
	if err != nil || len(messages) != 1 || messages[0].SenderName != "Ops" {
		t.Errorf("ChatMessages = %+v, %v", messages, err)
	}

	if err := client.SendChat(ctx, " hi "); err != nil {
		t.Errorf("SendChat failed: %v", err)
	}
	if err := client.ActivateCrisis(ctx); err != nil {
		t.Errorf("ActivateCrisis failed: %v", err)
	}
	if err := client.DeactivateCrisis(ctx); err != nil {
		t.Errorf("DeactivateCrisis failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{
		"GET /api/hospital/dashboard",
		"GET /api/hospital/state/H%201",
		"POST /api/referral/request",
		"GET /api/chat/messages",
		"POST /api/chat/send",
		"POST /api/hospital/crisis",
		"POST /api/hospital/anti-crisis",
	}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("request %d = %s, want %s", i, paths[i], want[i])
		}
	}
}

func TestClient_ValidatesBeforeSending(t *testing.T) {
	var calls int32
	client, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})
	ctx := context.Background()

	if err := client.SendChat(ctx, "   "); !errors.Is(err, types.ErrEmptyChatMessage) {
		t.Errorf("SendChat blank = %v", err)
	}
	_, err := client.RequestReferral(ctx, types.ReferralRequest{PatientID: "P_1", Severity: "URGENT", RequiredResource: types.ResourceBed})
	if !errors.Is(err, types.ErrInvalidSeverity) {
		t.Errorf("RequestReferral invalid severity = %v", err)
	}
	if calls != 0 {
		t.Errorf("invalid requests reached the server %d times", calls)
	}
}

func TestClient_MalformedBody(t *testing.T) {
	client, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})

	_, err := client.NetworkSnapshot(context.Background())
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestClient_ObservesMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	recorder := &requestRecorder{}
	client := NewClient(Options{BaseURL: server.URL}, nil, nil, recorder)
	_, _ = client.FacilityState(context.Background(), "H001")

	if len(recorder.statuses) != 1 || recorder.statuses[0] != http.StatusNotFound {
		t.Errorf("statuses = %v", recorder.statuses)
	}
	if recorder.labels[0] != "/api/hospital/state/{id}" {
		t.Errorf("label = %s, want templated path", recorder.labels[0])
	}
}
