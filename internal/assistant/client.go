// Package assistant is the gateway to the document processing backend, the
// external service that runs retrieval and answer generation. Every failure
// mode of that service (refused connection, timeout, non-2xx status, garbled
// body) surfaces as model.ErrBackendUnavailable so callers handle exactly one
// error shape.
package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/CrusoO/Rag-knowledge-system/internal/model"
)

// Client calls the processing backend over HTTP.
type Client struct {
	http *resty.Client
	log  zerolog.Logger
}

// NewClient builds a gateway bound to baseURL. Timeout caps every call; there
// are no retries here, the chat orchestrator degrades instead and the document
// worker reschedules its own jobs.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)

	return &Client{
		http: c,
		log:  log.With().Str("component", "assistant").Logger(),
	}
}

type answerRequest struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

// Answer submits one user message and returns the generated reply with its
// source attributions.
func (c *Client) Answer(ctx context.Context, userID, message string) (*model.AssistantReply, error) {
	req := answerRequest{UserID: userID, Message: message}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&req).
		Post("/api/chat")
	if err != nil {
		c.log.Warn().Err(err).Msg("backend chat request failed")
		return nil, model.ErrBackendUnavailable
	}
	if resp.StatusCode() != http.StatusOK {
		c.log.Warn().Int("status", resp.StatusCode()).Msg("backend chat returned non-200")
		return nil, model.ErrBackendUnavailable
	}

	var reply model.AssistantReply
	if err := json.Unmarshal(resp.Body(), &reply); err != nil {
		c.log.Warn().Err(err).Msg("backend chat response undecodable")
		return nil, model.ErrBackendUnavailable
	}
	if reply.Content == "" {
		c.log.Warn().Msg("backend chat response missing content")
		return nil, model.ErrBackendUnavailable
	}
	return &reply, nil
}

type processDocumentRequest struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	Filename   string `json:"filename"`
	Filepath   string `json:"filepath"`
}

type processDocumentResponse struct {
	ChunkCount int `json:"chunkCount"`
}

// ProcessDocument asks the backend to chunk and index an uploaded file. It
// returns the number of chunks indexed.
func (c *Client) ProcessDocument(ctx context.Context, d *model.Document) (int, error) {
	req := processDocumentRequest{
		DocumentID: d.DocumentID,
		UserID:     d.UserID,
		Filename:   d.Filename,
		Filepath:   d.Filepath,
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&req).
		Post("/api/process-document")
	if err != nil {
		return 0, model.ErrBackendUnavailable
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, model.ErrBackendUnavailable
	}

	var out processDocumentResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return 0, model.ErrBackendUnavailable
	}
	return out.ChunkCount, nil
}

// DeleteDocument removes a document's chunks from the backend index. A 404
// from the backend counts as success: the chunks are already gone.
func (c *Client) DeleteDocument(ctx context.Context, documentID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete("/api/documents/" + documentID)
	if err != nil {
		return model.ErrBackendUnavailable
	}
	switch resp.StatusCode() {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return model.ErrBackendUnavailable
	}
}

// Ping probes the backend health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/health")
	if err != nil {
		return errors.Wrap(err, "backend health probe")
	}
	if resp.StatusCode() != http.StatusOK {
		return errors.Errorf("backend health status %d", resp.StatusCode())
	}
	return nil
}
