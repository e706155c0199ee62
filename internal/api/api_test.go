package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/CrusoO/Rag-knowledge-system/internal/auth"
	"github.com/CrusoO/Rag-knowledge-system/internal/model"
	"github.com/CrusoO/Rag-knowledge-system/internal/ratelimit"
	"github.com/CrusoO/Rag-knowledge-system/internal/services"
	"github.com/CrusoO/Rag-knowledge-system/internal/store"
	"github.com/CrusoO/Rag-knowledge-system/internal/store/sqlite"
)

type stubAssistant struct{ failing bool }

func (a *stubAssistant) Answer(ctx context.Context, userID, message string) (*model.AssistantReply, error) {
	if a.failing {
		return nil, model.ErrBackendUnavailable
	}
	return &model.AssistantReply{
		Content: "stub answer",
		Sources: []model.Source{{DocumentName: "doc.pdf", Chunk: "c", Score: 0.5}},
	}, nil
}

type apiFixture struct {
	srv   *httptest.Server
	store store.Store
	stub  *stubAssistant
}

func newAPIFixture(t *testing.T, maxRequests int) *apiFixture {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	log := zerolog.Nop()
	stub := &stubAssistant{}

	limiter := ratelimit.New(s.RateCounters(), 15*time.Minute, maxRequests, log)
	router := NewRouter(Deps{
		Chat:          services.NewChatService(s, stub, limiter, log),
		Conversations: services.NewConversationService(s),
		Documents:     services.NewDocumentService(s, t.TempDir(), log),
		Users:         services.NewUserService(s),
		Limiter:       limiter,
		Authorizer:    auth.NewStaticAuthorizer([]string{"sk_u1=u1", "sk_u2=u2"}),
		IsHealthy:     func() bool { return true },
	})

	ctx := context.Background()
	for _, uid := range []string{"u1", "u2"} {
		_, err = s.Users().Create(ctx, &model.User{UserID: uid, Email: uid + "@example.test", PasswordHash: "x"})
		require.NoError(t, err)
	}

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &apiFixture{srv: srv, store: s, stub: stub}
}

func (f *apiFixture) do(t *testing.T, method, path, apiKey string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestHealthNoAuth(t *testing.T) {
	f := newAPIFixture(t, 100)
	resp := f.do(t, "GET", "/api/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]interface{}
	decode(t, resp, &body)
	require.Equal(t, "healthy", body["status"])
}

func TestChatRequiresAuth(t *testing.T) {
	f := newAPIFixture(t, 100)
	resp := f.do(t, "POST", "/api/chat", "", map[string]string{"message": "hi"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.do(t, "POST", "/api/chat", "sk_bogus", map[string]string{"message": "hi"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestChatTurn(t *testing.T) {
	f := newAPIFixture(t, 100)
	resp := f.do(t, "POST", "/api/chat", "sk_u1", map[string]string{"message": "What is the refund policy?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var turn services.ChatTurn
	decode(t, resp, &turn)
	require.NotEmpty(t, turn.ConversationID)
	require.Equal(t, "stub answer", turn.AssistantMessage.Content)
	require.False(t, turn.Degraded)

	// The conversation shows up in the owner's list and not the stranger's.
	resp = f.do(t, "GET", "/api/conversations", "sk_u1", nil)
	var list struct {
		Count int `json:"count"`
	}
	decode(t, resp, &list)
	require.Equal(t, 1, list.Count)

	resp = f.do(t, "GET", "/api/conversations/"+turn.ConversationID, "sk_u2", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestChatBackendDownReturnsFallback(t *testing.T) {
	f := newAPIFixture(t, 100)
	f.stub.failing = true

	resp := f.do(t, "POST", "/api/chat", "sk_u1", map[string]string{"message": "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode, "backend failure must not become an HTTP error")

	var turn services.ChatTurn
	decode(t, resp, &turn)
	require.True(t, turn.Degraded)
	require.Equal(t, services.FallbackReply, turn.AssistantMessage.Content)
}

func TestChatRateLimit(t *testing.T) {
	f := newAPIFixture(t, 2)
	for i := 0; i < 2; i++ {
		resp := f.do(t, "POST", "/api/chat", "sk_u1", map[string]string{"message": fmt.Sprintf("msg %d", i)})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		_ = resp.Body.Close()
	}
	resp := f.do(t, "POST", "/api/chat", "sk_u1", map[string]string{"message": "over"})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestChatValidation(t *testing.T) {
	f := newAPIFixture(t, 100)
	resp := f.do(t, "POST", "/api/chat", "sk_u1", map[string]string{"message": ""})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestDeleteConversationCascades(t *testing.T) {
	f := newAPIFixture(t, 100)
	resp := f.do(t, "POST", "/api/chat", "sk_u1", map[string]string{"message": "hello"})
	var turn services.ChatTurn
	decode(t, resp, &turn)

	resp = f.do(t, "DELETE", "/api/conversations/"+turn.ConversationID, "sk_u1", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.do(t, "GET", "/api/conversations/"+turn.ConversationID, "sk_u1", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestDocumentUploadAndDelete(t *testing.T) {
	f := newAPIFixture(t, 100)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("some notes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest("POST", f.srv.URL+"/api/documents", &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer sk_u1")
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var doc model.Document
	decode(t, resp, &doc)
	require.Equal(t, model.DocumentPending, doc.Status)

	// A stranger cannot delete it.
	resp = f.do(t, "DELETE", "/api/documents/"+doc.DocumentID, "sk_u2", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.do(t, "DELETE", "/api/documents/"+doc.DocumentID, "sk_u1", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestProfileAndPassword(t *testing.T) {
	f := newAPIFixture(t, 100)

	resp := f.do(t, "GET", "/api/users/me", "sk_u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var u model.User
	decode(t, resp, &u)
	require.Equal(t, "u1", u.UserID)

	resp = f.do(t, "PATCH", "/api/users/me", "sk_u1", map[string]interface{}{
		"displayName": "Robinson", "timeZone": "Europe/Berlin",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &u)
	require.NotNil(t, u.DisplayName)
	require.Equal(t, "Robinson", *u.DisplayName)

	// Stored hash is "x", so any current password fails verification.
	resp = f.do(t, "POST", "/api/users/me/password", "sk_u1", map[string]string{
		"currentPassword": "guess", "newPassword": "long-enough-password",
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()
}
