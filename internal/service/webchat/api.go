package webchat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sppetrol/webchat/internal/logging"
	"github.com/sppetrol/webchat/internal/model/chat"
)

// SendRequest is the body of POST /api/send-question.
type SendRequest struct {
	Content   string `json:"content"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
}

// SendResponse is the reply of POST /api/send-question.
type SendResponse struct {
	SessionID string `json:"session_id,omitempty"`
	Status    string `json:"status,omitempty"`
}

// StatusError reports a non-2xx answer from the backend.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webchat: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("webchat: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Backend is what the widget needs from the chat API.
type Backend interface {
	SendQuestion(ctx context.Context, req SendRequest) (SendResponse, error)
	Poll(ctx context.Context, sessionID, since string) ([]chat.Message, error)
	LiveURL(sessionID string) string
}

// Endpoints holds the resolved API and WebSocket origins.
type Endpoints struct {
	APIOrigin string
	WSOrigin  string
}

// ResolveEndpoints fills absent origins from the site origin, mirroring a
// same-origin deployment. The WebSocket origin maps http to ws and https to wss.
func ResolveEndpoints(siteOrigin, apiOrigin, wsOrigin string) (Endpoints, error) {
	siteOrigin = strings.TrimSpace(siteOrigin)
	apiOrigin = strings.TrimSpace(apiOrigin)
	wsOrigin = strings.TrimSpace(wsOrigin)

	if apiOrigin == "" {
		apiOrigin = siteOrigin
	}
	if wsOrigin == "" {
		wsOrigin = siteOrigin
	}
	if apiOrigin == "" || wsOrigin == "" {
		return Endpoints{}, errors.New("webchat: site origin is required when api/ws origins are not set")
	}

	api, err := url.Parse(apiOrigin)
	if err != nil || api.Host == "" {
		return Endpoints{}, fmt.Errorf("webchat: invalid api origin %q", apiOrigin)
	}
	ws, err := url.Parse(wsOrigin)
	if err != nil || ws.Host == "" {
		return Endpoints{}, fmt.Errorf("webchat: invalid ws origin %q", wsOrigin)
	}
	switch ws.Scheme {
	case "http":
		ws.Scheme = "ws"
	case "https":
		ws.Scheme = "wss"
	case "ws", "wss":
	default:
		return Endpoints{}, fmt.Errorf("webchat: unsupported ws scheme %q", ws.Scheme)
	}

	return Endpoints{
		APIOrigin: strings.TrimRight(api.String(), "/"),
		WSOrigin:  strings.TrimRight(ws.String(), "/"),
	}, nil
}

// APIClient talks to the chat backend over HTTP.
type APIClient struct {
	httpClient *http.Client
	api        *url.URL
	ws         *url.URL
	logger     zerolog.Logger
}

// NewAPIClient creates a client for the given endpoints. A nil httpClient gets
// a client with a 15s timeout.
func NewAPIClient(endpoints Endpoints, httpClient *http.Client) (*APIClient, error) {
	api, err := url.Parse(endpoints.APIOrigin)
	if err != nil {
		return nil, fmt.Errorf("parse api origin: %w", err)
	}
	ws, err := url.Parse(endpoints.WSOrigin)
	if err != nil {
		return nil, fmt.Errorf("parse ws origin: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	return &APIClient{
		httpClient: httpClient,
		api:        api,
		ws:         ws,
		logger:     logging.L().With().Str(logging.FieldComponent, "webchat.api").Logger(),
	}, nil
}

// SendQuestion posts a visitor message. The backend creates a session when
// SessionID is empty or unknown and returns its id.
func (c *APIClient) SendQuestion(ctx context.Context, req SendRequest) (SendResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return SendResponse{}, fmt.Errorf("marshal send request: %w", err)
	}

	target := joinPath(c.api, false, "api", "send-question")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return SendResponse{}, fmt.Errorf("build send request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp SendResponse
	if err := c.do(httpReq, &resp); err != nil {
		return SendResponse{}, err
	}
	return resp, nil
}

// Poll fetches the session's messages newer than since. An empty since asks
// for the whole history. Entries that fail to decode are skipped.
func (c *APIClient) Poll(ctx context.Context, sessionID, since string) ([]chat.Message, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.PollURL(sessionID, since), nil)
	if err != nil {
		return nil, fmt.Errorf("build poll request: %w", err)
	}

	var raw []json.RawMessage
	if err := c.do(httpReq, &raw); err != nil {
		return nil, err
	}

	messages := make([]chat.Message, 0, len(raw))
	for _, item := range raw {
		var msg chat.Message
		if err := json.Unmarshal(item, &msg); err != nil {
			c.logger.Debug().Err(err).Str(logging.FieldSessionID, sessionID).Msg("skipping malformed poll entry")
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// PollURL builds GET /api/webchat/{sessionID}/poll/[?since=...].
func (c *APIClient) PollURL(sessionID, since string) string {
	u := joinPath(c.api, true, "api", "webchat", sessionID, "poll")
	if since != "" {
		q := url.Values{}
		q.Set("since", since)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// LiveURL builds {wsOrigin}/ws/webchat/{sessionID}/.
func (c *APIClient) LiveURL(sessionID string) string {
	return joinPath(c.ws, true, "ws", "webchat", sessionID).String()
}

func (c *APIClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

// joinPath appends escaped segments to base's path, keeping any path prefix the
// origin was configured with.
func joinPath(base *url.URL, trailingSlash bool, segments ...string) *url.URL {
	u := *base
	u.RawQuery = ""
	u.Fragment = ""

	rawParts := make([]string, 0, len(segments))
	escParts := make([]string, 0, len(segments))
	for _, s := range segments {
		rawParts = append(rawParts, s)
		escParts = append(escParts, url.PathEscape(s))
	}

	raw := strings.TrimRight(base.Path, "/") + "/" + strings.Join(rawParts, "/")
	esc := strings.TrimRight(base.EscapedPath(), "/") + "/" + strings.Join(escParts, "/")
	if trailingSlash {
		raw += "/"
		esc += "/"
	}

	u.Path = raw
	u.RawPath = esc
	return &u
}
