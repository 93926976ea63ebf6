// Package aiclient talks to the off-chain AI jury service: it builds the
// evaluation payload from a resolved manifest, calls the service's
// rank-and-justify endpoint, and maps the response back.
package aiclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/verdikta/arbiter-adapter/internal/manifest"
	"github.com/verdikta/arbiter-adapter/internal/werrors"
)

// Request is the fully-resolved input to one AI jury evaluation.
type Request struct {
	Prompt     string
	Models     []manifest.ModelSpec
	Outcomes   []string
	Iterations int
	ClassID    *int
	Additional []manifest.AdditionalFile
}

// Response is the AI jury's verdict: one integer score per outcome plus a
// justification narrative. The adapter does not interpret these values
// semantically — it only encodes and hashes them.
type Response struct {
	Scores        []int64
	Justification string
}

type requestModel struct {
	Provider string  `json:"provider"`
	Model    string  `json:"model"`
	Weight   float64 `json:"weight"`
	Count    int     `json:"count"`
}

type requestAttachment struct {
	Name    string `json:"name"`
	MIME    string `json:"mime"`
	Content string `json:"content"`
}

type wirePayload struct {
	Prompt      string              `json:"prompt"`
	Models      []requestModel      `json:"models"`
	Outcomes    []string            `json:"outcomes"`
	Iterations  int                 `json:"iterations"`
	Hash        *int                `json:"hash,omitempty"`
	Attachments []requestAttachment `json:"attachments,omitempty"`
}

type wireResponse struct {
	Scores        []int64 `json:"scores"`
	Justification string  `json:"justification"`
}

// Client issues evaluation requests against one AI jury service endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient constructs a Client. baseURL is the AI node's root URL (e.g.
// "http://localhost:9000"); timeout bounds each individual HTTP call.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Evaluate submits req to the AI jury's /api/rank-and-justify endpoint and
// maps the result back. Transport errors and 5xx responses are retried
// once; 4xx responses are never retried.
func (c *Client) Evaluate(ctx context.Context, req Request) (*Response, error) {
	payload, err := buildPayload(req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, werrors.New(werrors.KindInternal, "marshal AI request", err)
	}

	var resp *Response
	err = werrors.Do(ctx, c.logger, "ai_evaluate", 1, 500*time.Millisecond, werrors.TransportOr5xx, func() error {
		r, callErr := c.call(ctx, body)
		if callErr != nil {
			return callErr
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Scores) != len(req.Outcomes) {
		return nil, werrors.New(werrors.KindAIServiceRefused,
			fmt.Sprintf("AI response returned %d scores for %d outcomes", len(resp.Scores), len(req.Outcomes)), nil)
	}
	return resp, nil
}

func buildPayload(req Request) (*wirePayload, error) {
	models := make([]requestModel, len(req.Models))
	for i, m := range req.Models {
		models[i] = requestModel{Provider: m.Provider, Model: m.Model, Weight: m.Weight, Count: m.Count}
	}

	attachments := make([]requestAttachment, 0, len(req.Additional))
	for _, a := range req.Additional {
		content, mime, err := encodeAttachment(a)
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, requestAttachment{Name: a.Name, MIME: mime, Content: content})
	}

	return &wirePayload{
		Prompt:      req.Prompt,
		Models:      models,
		Outcomes:    req.Outcomes,
		Iterations:  req.Iterations,
		Hash:        req.ClassID,
		Attachments: attachments,
	}, nil
}

// encodeAttachment reads the attachment's local file and encodes it for
// the wire payload: text content types are sent as-is, everything else as
// base64. MIME is the manifest's declared type when present; otherwise it
// is sniffed from content (see internal/manifest.detectMIME), never
// hardcoded — a known defect in the source this adapter replaces.
func encodeAttachment(a manifest.AdditionalFile) (content, mime string, err error) {
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return "", "", werrors.New(werrors.KindInternal, fmt.Sprintf("read attachment %q", a.Name), err)
	}
	mime = a.Type
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	if isTextMIME(mime) {
		return string(data), mime, nil
	}
	return base64.StdEncoding.EncodeToString(data), mime, nil
}

func isTextMIME(mime string) bool {
	return (len(mime) >= 5 && mime[:5] == "text/") || mime == "application/json"
}

func (c *Client) call(ctx context.Context, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/rank-and-justify", bytes.NewReader(body))
	if err != nil {
		return nil, werrors.New(werrors.KindInternal, "build AI request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, werrors.New(werrors.KindAIServiceUnavailable, "AI request transport error", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, werrors.New(werrors.KindAIServiceRefused, fmt.Sprintf("AI service status %d: %s", resp.StatusCode, string(b)), nil)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, werrors.New(werrors.KindAIServiceUnavailable, fmt.Sprintf("AI service status %d: %s", resp.StatusCode, string(b)), nil)
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, werrors.New(werrors.KindAIServiceRefused, "decode AI response", err)
	}
	return &Response{Scores: wire.Scores, Justification: wire.Justification}, nil
}
