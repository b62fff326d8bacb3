package webchat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sppetrol/webchat/internal/model/chat"
	chatservice "github.com/sppetrol/webchat/internal/service/chat"
)

type stubResponder struct {
	answer string
}

func (s stubResponder) Reply(context.Context, string) string { return s.answer }

func setupRouter(opts Options) (*chi.Mux, *chatservice.Service) {
	chatSvc := chatservice.NewService()
	handler := New(chatSvc, opts)

	r := chi.NewRouter()
	r.Route("/api", handler.RegisterRoutes)
	handler.RegisterWebSocketRoutes(r)
	return r, chatSvc
}

func doJSON(t *testing.T, r http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func sendQuestion(t *testing.T, r http.Handler, body map[string]string) string {
	t.Helper()
	resp := doJSON(t, r, http.MethodPost, "/api/send-question", body)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var out map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	require.NotEmpty(t, out["session_id"])
	assert.Equal(t, "sent", out["status"])
	return out["session_id"]
}

func pollMessages(t *testing.T, r http.Handler, sessionID, since string) []chat.Message {
	t.Helper()
	target := "/api/webchat/" + sessionID + "/poll/"
	if since != "" {
		target += "?since=" + url.QueryEscape(since)
	}
	resp := doJSON(t, r, http.MethodGet, target, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var out []chat.Message
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func TestSendQuestionCreatesSession(t *testing.T) {
	r, chatSvc := setupRouter(Options{})

	sessionID := sendQuestion(t, r, map[string]string{"content": "Salom", "user_id": "visitor-1"})

	session, err := chatSvc.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, "visitor-1", session.UserID)

	again := sendQuestion(t, r, map[string]string{"content": "Narxi?", "user_id": "visitor-1", "session_id": sessionID})
	assert.Equal(t, sessionID, again)

	messages := pollMessages(t, r, sessionID, "")
	require.Len(t, messages, 2)
	assert.Equal(t, chat.RoleUser, messages[0].Role)
	assert.Equal(t, "Narxi?", messages[1].Content)
}

func TestSendQuestionRejectsEmptyContent(t *testing.T) {
	r, _ := setupRouter(Options{})

	resp := doJSON(t, r, http.MethodPost, "/api/send-question", map[string]string{"content": "   ", "user_id": "v"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/send-question", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPollSinceReturnsOnlyNewerMessages(t *testing.T) {
	r, chatSvc := setupRouter(Options{})
	sessionID := sendQuestion(t, r, map[string]string{"content": "Salom", "user_id": "v"})

	first, err := chatSvc.SaveMessage(context.Background(), sessionID, chat.RoleAdmin, "Assalomu alaykum")
	require.NoError(t, err)
	_, err = chatSvc.SaveMessage(context.Background(), sessionID, chat.RoleAdmin, "Qanday yordam bera olaman?")
	require.NoError(t, err)

	messages := pollMessages(t, r, sessionID, first.CreatedAt)
	require.Len(t, messages, 1)
	assert.Equal(t, "Qanday yordam bera olaman?", messages[0].Content)
	assert.NotEmpty(t, messages[0].ID)
}

func TestPollErrors(t *testing.T) {
	r, _ := setupRouter(Options{})
	sessionID := sendQuestion(t, r, map[string]string{"content": "Salom", "user_id": "v"})

	resp := doJSON(t, r, http.MethodGet, "/api/webchat/"+sessionID+"/poll/?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = doJSON(t, r, http.MethodGet, "/api/webchat/missing/poll/", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestReceiveAnswerChecksAPIKey(t *testing.T) {
	r, _ := setupRouter(Options{APIKey: "secret"})
	sessionID := sendQuestion(t, r, map[string]string{"content": "Salom", "user_id": "v"})

	resp := doJSON(t, r, http.MethodPost, "/api/receive-answer", map[string]string{
		"api_key": "wrong", "session_id": sessionID, "content": "Javob",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = doJSON(t, r, http.MethodPost, "/api/receive-answer", map[string]string{
		"api_key": "secret", "session_id": "missing", "content": "Javob",
	})
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = doJSON(t, r, http.MethodPost, "/api/receive-answer", map[string]string{
		"api_key": "secret", "session_id": sessionID, "content": "Javob",
	})
	require.Equal(t, http.StatusOK, resp.Code)

	messages := pollMessages(t, r, sessionID, "")
	require.Len(t, messages, 2)
	assert.Equal(t, chat.RoleAdmin, messages[1].Role)
	assert.Equal(t, "Javob", messages[1].Content)
}

func TestSessionEndpoints(t *testing.T) {
	r, _ := setupRouter(Options{})

	resp := doJSON(t, r, http.MethodPost, "/api/webchat/session/", map[string]string{"user_id": "v"})
	require.Equal(t, http.StatusOK, resp.Code)
	var created struct {
		ID       string         `json:"id"`
		Messages []chat.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	assert.Empty(t, created.Messages)

	resp = doJSON(t, r, http.MethodPost, "/api/webchat/"+created.ID+"/send/", map[string]string{"content": "Dizel bormi?"})
	require.Equal(t, http.StatusOK, resp.Code)
	var msg chat.Message
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &msg))
	assert.Equal(t, chat.RoleUser, msg.Role)
	assert.Equal(t, "Dizel bormi?", msg.Content)

	resp = doJSON(t, r, http.MethodPost, "/api/webchat/missing/send/", map[string]string{"content": "x"})
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestAutoReply(t *testing.T) {
	r, chatSvc := setupRouter(Options{Responder: stubResponder{answer: "Narxlar: AI-92 10 500 so'm/l."}})
	sessionID := sendQuestion(t, r, map[string]string{"content": "Narxi qancha?", "user_id": "v"})

	require.Eventually(t, func() bool {
		messages, err := chatSvc.LoadSince(context.Background(), sessionID, "")
		return err == nil && len(messages) == 2 && messages[1].Role == chat.RoleAdmin
	}, 2*time.Second, 10*time.Millisecond)
}
