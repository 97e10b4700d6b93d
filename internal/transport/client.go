package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"airamed/internal/navigation"
	"airamed/pkg/interfaces"
	"airamed/pkg/types"
)

// Encoding selects how a request body is serialized
type Encoding int

const (
	EncodingJSON Encoding = iota
	EncodingForm
)

const (
	maxResponseBytes = 4 << 20
	maxDetailLength  = 300
)

// SessionSource is the slice of the session store the transport depends on
type SessionSource interface {
	interfaces.SessionReader
	interfaces.SessionTeardown
}

// Response is a successful exchange
type Response struct {
	Status int
	Data   json.RawMessage
}

// Decode unmarshals the response body into v
func (r *Response) Decode(v interface{}) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// Options configures a Client
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client issues requests against the capacity API on behalf of the current session
// ARCHITECTURAL DISCOVERY: The client never writes session state; on a
// rejected credential it calls the store's compare-and-clear teardown with the
// token the request carried, so concurrent rejections collapse into one
type Client struct {
	baseURL    string
	http       *http.Client
	timeout    time.Duration
	sessions   SessionSource
	redirector interfaces.Redirector
	metrics    interfaces.MetricsRecorder
}

// NewClient creates a transport client
func NewClient(opts Options, sessions SessionSource, redirector interfaces.Redirector, metrics interfaces.MetricsRecorder) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if metrics == nil {
		metrics = interfaces.NoopMetrics{}
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		http:       httpClient,
		timeout:    opts.Timeout,
		sessions:   sessions,
		redirector: redirector,
		metrics:    metrics,
	}
}

// request describes one call; label is the low-cardinality path used for metrics
type request struct {
	method    string
	path      string
	label     string
	body      interface{}
	encoding  Encoding
	anonymous bool
}

// Get issues an authenticated GET
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, request{method: http.MethodGet, path: path})
}

// Post issues an authenticated POST with a JSON body
func (c *Client) Post(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.do(ctx, request{method: http.MethodPost, path: path, body: body})
}

// PostForm issues an authenticated POST with a form-urlencoded body
func (c *Client) PostForm(ctx context.Context, path string, form url.Values) (*Response, error) {
	return c.do(ctx, request{method: http.MethodPost, path: path, body: form, encoding: EncodingForm})
}

// Delete issues an authenticated DELETE
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, request{method: http.MethodDelete, path: path})
}

func (c *Client) do(ctx context.Context, req request) (*Response, error) {
	if req.label == "" {
		req.label = req.path
	}

	// Captured once: a teardown must target the credential this request carried
	var token string
	if !req.anonymous && c.sessions != nil {
		token = c.sessions.CurrentSession().Token
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	httpReq, err := c.buildRequest(ctx, req, token)
	if err != nil {
		return nil, &TransportFailure{Method: req.method, Path: req.path, Err: err}
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.metrics.ObserveRequest(req.method, req.label, 0, time.Since(start))
		return nil, &TransportFailure{Method: req.method, Path: req.path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.metrics.ObserveRequest(req.method, req.label, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, &TransportFailure{Method: req.method, Path: req.path, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &Response{Status: resp.StatusCode, Data: data}, nil
	}

	rejected := &RejectedRequest{
		Method: req.method,
		Path:   req.path,
		Status: resp.StatusCode,
		Detail: ExtractDetail(data, resp.StatusCode),
		kind:   ErrRequestRejected,
	}

	switch {
	case req.anonymous && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest):
		rejected.kind = ErrInvalidCredentials
	case !req.anonymous && resp.StatusCode == http.StatusUnauthorized:
		rejected.kind = ErrAuthenticationRejected
		c.handleAuthenticationRejected(ctx, req, token)
	}

	return nil, rejected
}

// handleAuthenticationRejected tears the session down and redirects to login,
// both at most once per credential
func (c *Client) handleAuthenticationRejected(ctx context.Context, req request, token string) {
	if token == "" || c.sessions == nil {
		return
	}

	cleared, err := c.sessions.Teardown(ctx, token, "unauthorized")
	if err != nil {
		log.Printf("Transport: session teardown after %s %s reported: %v", req.method, req.path, err)
	}
	if !cleared {
		return
	}

	log.Printf("Transport: credential rejected by %s %s, session ended", req.method, req.path)
	if c.redirector != nil {
		c.redirector.Replace(navigation.RouteLogin)
	}
}

func (c *Client) buildRequest(ctx context.Context, req request, token string) (*http.Request, error) {
	var body io.Reader
	var contentType string

	if req.body != nil {
		switch req.encoding {
		case EncodingForm:
			form, ok := req.body.(url.Values)
			if !ok {
				return nil, fmt.Errorf("form encoding requires url.Values, got %T", req.body)
			}
			body = strings.NewReader(form.Encode())
			contentType = "application/x-www-form-urlencoded"
		default:
			payload, err := json.Marshal(req.body)
			if err != nil {
				return nil, fmt.Errorf("encode body: %w", err)
			}
			body = bytes.NewReader(payload)
			contentType = "application/json"
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	return httpReq, nil
}

// ExtractDetail derives a human-readable failure detail from a response body:
// the "detail" field (string or any JSON value), then "message", then the
// compact body. A body that is not JSON yields the status text.
func ExtractDetail(body []byte, status int) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return statusText(status)
	}

	var parsed interface{}
	if err := json.Unmarshal(trimmed, &parsed); err != nil {
		return statusText(status)
	}

	if obj, ok := parsed.(map[string]interface{}); ok {
		for _, field := range []string{"detail", "message"} {
			value, present := obj[field]
			if !present || value == nil {
				continue
			}
			if s, isString := value.(string); isString {
				if s != "" {
					return truncate(s)
				}
				continue
			}
			if encoded, err := json.Marshal(value); err == nil {
				return truncate(string(encoded))
			}
		}
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err == nil && compact.Len() > 0 && compact.String() != "null" {
		return truncate(compact.String())
	}
	return statusText(status)
}

func statusText(status int) string {
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fmt.Sprintf("HTTP %d", status)
}

// truncate cuts s to at most maxDetailLength bytes on a rune boundary
func truncate(s string) string {
	if len(s) <= maxDetailLength {
		return s
	}
	n := maxDetailLength
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// Exchange trades credentials for a token. Rejection is reported as
// ErrInvalidCredentials and never tears down the current session.
func (c *Client) Exchange(ctx context.Context, username, password string) (types.LoginResponse, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	resp, err := c.do(ctx, request{
		method:    http.MethodPost,
		path:      "/auth/token",
		body:      form,
		encoding:  EncodingForm,
		anonymous: true,
	})
	if err != nil {
		return types.LoginResponse{}, err
	}

	var login types.LoginResponse
	if err := resp.Decode(&login); err != nil {
		return types.LoginResponse{}, err
	}
	if login.AccessToken == "" {
		return types.LoginResponse{}, fmt.Errorf("%w: access_token missing", ErrMalformedResponse)
	}
	return login, nil
}

// NetworkSnapshot fetches capacity for every facility
func (c *Client) NetworkSnapshot(ctx context.Context) (types.NetworkSnapshot, error) {
	resp, err := c.Get(ctx, "/api/hospital/dashboard")
	if err != nil {
		return nil, err
	}
	var snapshot types.NetworkSnapshot
	if err := resp.Decode(&snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// FacilityState fetches one facility's capacity
func (c *Client) FacilityState(ctx context.Context, facilityID string) (types.FacilitySnapshot, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/api/hospital/state/" + url.PathEscape(facilityID),
		label:  "/api/hospital/state/{id}",
	})
	if err != nil {
		return types.FacilitySnapshot{}, err
	}
	var snapshot types.FacilitySnapshot
	if err := resp.Decode(&snapshot); err != nil {
		return types.FacilitySnapshot{}, err
	}
	return snapshot, nil
}

// ActivateCrisis switches the caller's facility into crisis mode
func (c *Client) ActivateCrisis(ctx context.Context) error {
	_, err := c.Post(ctx, "/api/hospital/crisis", nil)
	return err
}

// DeactivateCrisis leaves crisis mode
func (c *Client) DeactivateCrisis(ctx context.Context) error {
	_, err := c.Post(ctx, "/api/hospital/anti-crisis", nil)
	return err
}

// RequestReferral asks the matching service for the best facility
func (c *Client) RequestReferral(ctx context.Context, req types.ReferralRequest) (types.ReferralResult, error) {
	if err := req.Validate(); err != nil {
		return types.ReferralResult{}, err
	}
	resp, err := c.Post(ctx, "/api/referral/request", req)
	if err != nil {
		return types.ReferralResult{}, err
	}
	var result types.ReferralResult
	if err := resp.Decode(&result); err != nil {
		return types.ReferralResult{}, err
	}
	return result, nil
}

// ChatMessages fetches the shared network chat
func (c *Client) ChatMessages(ctx context.Context) ([]types.ChatMessage, error) {
	resp, err := c.Get(ctx, "/api/chat/messages")
	if err != nil {
		return nil, err
	}
	var messages []types.ChatMessage
	if err := resp.Decode(&messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// SendChat posts one message to the network chat
func (c *Client) SendChat(ctx context.Context, message string) error {
	req := types.ChatSendRequest{Message: message}
	if err := req.Validate(); err != nil {
		return err
	}
	_, err := c.Post(ctx, "/api/chat/send", req)
	return err
}
