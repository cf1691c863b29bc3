package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"medevent/internal/types"
)

// RenderRequest is the payload sent to the rendering service: the template to
// composite and the attendee/event fields stamped onto it.
type RenderRequest struct {
	TemplateID    string `json:"template_id"`
	EventID       string `json:"event_id"`
	UserID        string `json:"user_id"`
	AttendeeName  string `json:"attendee_name"`
	EventTitle    string `json:"event_title"`
	EventDate     string `json:"event_date,omitempty"`
	CertificateID string `json:"certificate_id"`
}

// RendererClient calls the external artifact-rendering service, which
// composites the certificate and stores it, answering with a stable URL.
type RendererClient struct {
	base    *BaseClient
	baseURL string
}

// NewRendererClient builds the renderer adapter.
func NewRendererClient(baseURL string, httpClient *http.Client) *RendererClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &RendererClient{
		base:    NewBaseClient(httpClient, "certificate-renderer", DefaultRetryPolicy()),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Render requests one certificate artifact and returns its URL.
func (r *RendererClient) Render(ctx context.Context, req RenderRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to encode render request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/render", bytes.NewReader(payload))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to build render request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.base.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxDiagnosticBody))
		return "", types.NewAppError(types.ErrCodeUpstreamRenderer,
			fmt.Sprintf("renderer returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamRenderer,
			"failed to decode render response", err)
	}
	if result.URL == "" {
		return "", types.NewAppError(types.ErrCodeUpstreamRenderer,
			"renderer returned an empty artifact URL", nil)
	}
	return result.URL, nil
}
