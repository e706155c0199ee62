package main

import (
	"fmt"
	"io"
	"time"

	"github.com/go-resty/resty/v2"
)

func newClient(apiURL, apiKey string) *resty.Client {
	c := resty.New().
		SetBaseURL(apiURL).
		SetTimeout(60 * time.Second)
	if apiKey != "" {
		c.SetAuthToken(apiKey)
	}
	return c
}

func writeBody(out io.Writer, resp *resty.Response) error {
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("http %d: %s", resp.StatusCode(), resp.String())
	}
	_, err := fmt.Fprintln(out, resp.String())
	return err
}

func runHealth(apiURL string, out io.Writer) error {
	resp, err := newClient(apiURL, "").R().Get("/api/health")
	if err != nil {
		return err
	}
	return writeBody(out, resp)
}

func runChat(apiURL, apiKey, conversationID, message string, out io.Writer) error {
	body := map[string]string{"message": message}
	if conversationID != "" {
		body["conversationId"] = conversationID
	}
	resp, err := newClient(apiURL, apiKey).R().
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("/api/chat")
	if err != nil {
		return err
	}
	return writeBody(out, resp)
}

func runListConversations(apiURL, apiKey string, out io.Writer) error {
	resp, err := newClient(apiURL, apiKey).R().Get("/api/conversations")
	if err != nil {
		return err
	}
	return writeBody(out, resp)
}

func runListDocuments(apiURL, apiKey string, out io.Writer) error {
	resp, err := newClient(apiURL, apiKey).R().Get("/api/documents")
	if err != nil {
		return err
	}
	return writeBody(out, resp)
}

func runUpload(apiURL, apiKey, path string, out io.Writer) error {
	resp, err := newClient(apiURL, apiKey).R().
		SetFile("file", path).
		Post("/api/documents")
	if err != nil {
		return err
	}
	return writeBody(out, resp)
}
