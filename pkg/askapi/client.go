// Package askapi is a client for the answer backend's HTTP interface.
//
// The backend exposes a single /ask endpoint with two request shapes: a GET
// with the query in the URL for short text-only questions, and a multipart
// POST for anything carrying an image or a long prompt.
package askapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// heavyQueryRunes is the query length above which a request is sent as a
// multipart POST instead of being packed into the URL.
const heavyQueryRunes = 600

// Request is one question for the backend.
type Request struct {
	// UID identifies the conversation; the backend keys its context on it.
	UID string
	// Query is the user's question. May be empty when Image is set.
	Query string
	// Image is an optional JPEG-compatible attachment.
	Image []byte
}

// Client talks to one answer backend.
type Client struct {
	baseURL string
	httpc   *http.Client
	log     *slog.Logger
}

// New creates a client for the backend at baseURL. The timeout caps every
// individual request.
func New(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
		log:     log.With("component", "askapi"),
	}
}

// Ask sends the request and returns the backend's answer text.
func (c *Client) Ask(ctx context.Context, req Request) (string, error) {
	start := time.Now()

	var (
		httpReq *http.Request
		err     error
	)
	if len(req.Image) > 0 || utf8.RuneCountInString(req.Query) > heavyQueryRunes {
		httpReq, err = c.newMultipartRequest(ctx, req)
	} else {
		httpReq, err = c.newQueryRequest(ctx, req)
	}
	if err != nil {
		return "", err
	}

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ask request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read ask response: %w", err)
	}

	c.log.Debug("Ask completed",
		"uid", req.UID,
		"method", httpReq.Method,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("ask returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	answer := extractAnswer(body)
	if answer == "" {
		return "", fmt.Errorf("ask returned an empty answer")
	}
	return answer, nil
}

func (c *Client) newQueryRequest(ctx context.Context, req Request) (*http.Request, error) {
	values := url.Values{}
	values.Set("q", req.Query)
	values.Set("uid", req.UID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ask?"+values.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build ask request: %w", err)
	}
	return httpReq, nil
}

func (c *Client) newMultipartRequest(ctx context.Context, req Request) (*http.Request, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("uid", req.UID); err != nil {
		return nil, fmt.Errorf("failed to build ask form: %w", err)
	}
	if req.Query != "" {
		if err := writer.WriteField("q", req.Query); err != nil {
			return nil, fmt.Errorf("failed to build ask form: %w", err)
		}
	}
	if len(req.Image) > 0 {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", `form-data; name="image"; filename="image.jpg"`)
		header.Set("Content-Type", "image/jpeg")
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("failed to build ask form: %w", err)
		}
		if _, err := part.Write(req.Image); err != nil {
			return nil, fmt.Errorf("failed to build ask form: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to build ask form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ask", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to build ask request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	return httpReq, nil
}

// extractAnswer pulls the answer out of a JSON body with a "text" or
// "output" field, falling back to the raw body for backends that reply in
// plain text.
func extractAnswer(body []byte) string {
	var parsed struct {
		Text   string `json:"text"`
		Output string `json:"output"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Text != "" {
			return parsed.Text
		}
		if parsed.Output != "" {
			return parsed.Output
		}
	}
	return strings.TrimSpace(string(body))
}
