package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"medevent/internal/config"
	"medevent/internal/types"
)

// generatePath is the internal generation endpoint on the platform itself.
const generatePath = "/internal/certificates/generate"

// bypassHeader lets the self-call skip the interactive session check.
const bypassHeader = "x-service-bypass"

// maxDiagnosticBody caps how much of an upstream error body is carried into
// the task's error message.
const maxDiagnosticBody = 4 << 10

// GenerationClient invokes the certificate-generation endpoint. The call goes
// back to the platform's own public address because the worker runs outside
// the web process and the generation logic sits behind its HTTP surface.
type GenerationClient struct {
	base    *BaseClient
	baseURL string
	bypass  types.SecretString
	logger  *slog.Logger
}

// ResolveBaseURL picks the first non-empty candidate. The configured chain
// always ends with a hardcoded production fallback, so the result is never
// empty; misconfigured environments fail loudly at the first call rather
// than silently targeting the wrong host.
func ResolveBaseURL(candidates []string) string {
	for _, c := range candidates {
		if c != "" {
			return strings.TrimRight(c, "/")
		}
	}
	return ""
}

// NewGenerationClient builds the callback client. The base URL is resolved
// once here, not per call.
func NewGenerationClient(cfg config.GenerationConfig, httpClient *http.Client, logger *slog.Logger) *GenerationClient {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	baseURL := ResolveBaseURL(cfg.BaseURLCandidates())
	logger.Info("generation callback configured", "base_url", baseURL)

	return &GenerationClient{
		base:    NewBaseClient(httpClient, "certificate-generation", DefaultRetryPolicy()),
		baseURL: baseURL,
		bypass:  cfg.BypassSecret,
		logger:  logger,
	}
}

// Generate performs one generation call and decodes the result. A non-2xx
// response is returned as an error carrying the response body verbatim, so
// the upstream diagnostic lands unaltered in the failed task's error message.
func (g *GenerationClient) Generate(ctx context.Context, req types.GenerateRequest) (*types.GenerateResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to encode generation request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+generatePath, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to build generation request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if secret := g.bypass.Unmask(); secret != "" {
		httpReq.Header.Set(bypassHeader, secret)
	}

	resp, err := g.base.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxDiagnosticBody))
		return nil, types.NewAppError(types.ErrCodeUpstreamGeneration,
			fmt.Sprintf("generation endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	// The endpoint answers with the standard API envelope.
	var envelope struct {
		Data types.GenerateResult `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamGeneration,
			"failed to decode generation response", err)
	}
	return &envelope.Data, nil
}
