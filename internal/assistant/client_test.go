package assistant

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/CrusoO/Rag-knowledge-system/internal/model"
)

func TestAnswerSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/chat", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":"Refunds are allowed within 30 days.","sources":[{"documentName":"policy.pdf","chunk":"...","score":0.91}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, zerolog.Nop())
	reply, err := c.Answer(context.Background(), "u1", "What is the refund policy?")
	require.NoError(t, err)
	require.Equal(t, "Refunds are allowed within 30 days.", reply.Content)
	require.Len(t, reply.Sources, 1)
	require.Equal(t, "policy.pdf", reply.Sources[0].DocumentName)
}

func TestAnswerServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, zerolog.Nop())
	_, err := c.Answer(context.Background(), "u1", "hi")
	require.ErrorIs(t, err, model.ErrBackendUnavailable)
}

func TestAnswerTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 20*time.Millisecond, zerolog.Nop())
	_, err := c.Answer(context.Background(), "u1", "hi")
	require.ErrorIs(t, err, model.ErrBackendUnavailable)
}

func TestAnswerConnectionRefused(t *testing.T) {
	// Reserve a port and close it so nothing is listening.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(url, time.Second, zerolog.Nop())
	_, err := c.Answer(context.Background(), "u1", "hi")
	require.ErrorIs(t, err, model.ErrBackendUnavailable)
}

func TestAnswerMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, zerolog.Nop())
	_, err := c.Answer(context.Background(), "u1", "hi")
	require.ErrorIs(t, err, model.ErrBackendUnavailable)
}

func TestAnswerEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":"","sources":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, zerolog.Nop())
	_, err := c.Answer(context.Background(), "u1", "hi")
	require.ErrorIs(t, err, model.ErrBackendUnavailable)
}

func TestProcessDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/process-document", r.URL.Path)
		_, _ = w.Write([]byte(`{"chunkCount":12}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, zerolog.Nop())
	n, err := c.ProcessDocument(context.Background(), &model.Document{
		DocumentID: "d1", UserID: "u1", Filename: "policy.pdf", Filepath: "/tmp/policy.pdf",
	})
	require.NoError(t, err)
	require.Equal(t, 12, n)
}

func TestDeleteDocumentNotFoundIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/api/documents/d1", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, zerolog.Nop())
	require.NoError(t, c.DeleteDocument(context.Background(), "d1"))
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			_, _ = w.Write([]byte(`{"status":"healthy"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, zerolog.Nop())
	require.NoError(t, c.Ping(context.Background()))
}
