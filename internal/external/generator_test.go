package external

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medevent/internal/config"
	"medevent/internal/types"
)

func TestResolveBaseURL(t *testing.T) {
	tests := []struct {
		name       string
		candidates []string
		want       string
	}{
		{
			name:       "first non-empty wins",
			candidates: []string{"", "https://auth.medevent.io", "https://app.medevent.io"},
			want:       "https://auth.medevent.io",
		},
		{
			name:       "deployment url outranks the rest",
			candidates: []string{"https://preview-42.medevent.io", "https://auth.medevent.io"},
			want:       "https://preview-42.medevent.io",
		},
		{
			name:       "trailing slash is trimmed",
			candidates: []string{"https://app.medevent.io/"},
			want:       "https://app.medevent.io",
		},
		{
			name:       "all empty yields empty",
			candidates: []string{"", ""},
			want:       "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveBaseURL(tt.candidates))
		})
	}
}

func TestGenerationConfigChainEndsWithFallback(t *testing.T) {
	var cfg config.GenerationConfig
	resolved := ResolveBaseURL(cfg.BaseURLCandidates())
	assert.Equal(t, "https://app.medevent.io", resolved,
		"an unconfigured environment still resolves to the production host")
}

func newGenerationClient(t *testing.T, srv *httptest.Server, bypass string) *GenerationClient {
	t.Helper()
	return NewGenerationClient(config.GenerationConfig{
		DeploymentURL: srv.URL,
		BypassSecret:  types.SecretString(bypass),
		Timeout:       5 * time.Second,
	}, srv.Client(), nil)
}

func TestGenerateSuccess(t *testing.T) {
	var gotPath, gotBypass string
	var gotReq types.GenerateRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBypass = r.Header.Get("x-service-bypass")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": types.GenerateResult{
				CertificateID:  "cert_1",
				CertificateURL: "https://cdn.medevent.io/certs/cert_1.pdf",
				EmailSent:      true,
			},
		})
	}))
	defer srv.Close()

	client := newGenerationClient(t, srv, "svc-secret")
	result, err := client.Generate(context.Background(), types.GenerateRequest{
		EventID:    "evt_1",
		UserID:     "usr_1",
		BookingID:  "bkg_1",
		TemplateID: "tpl_1",
		SendEmail:  true,
	})
	require.NoError(t, err)

	assert.Equal(t, "/internal/certificates/generate", gotPath)
	assert.Equal(t, "svc-secret", gotBypass)
	assert.Equal(t, "evt_1", gotReq.EventID)
	assert.Equal(t, "cert_1", result.CertificateID)
	assert.True(t, result.EmailSent)
}

func TestGenerateNoBypassHeaderWhenUnset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present := r.Header["X-Service-Bypass"]
		assert.False(t, present)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": types.GenerateResult{}})
	}))
	defer srv.Close()

	client := newGenerationClient(t, srv, "")
	_, err := client.Generate(context.Background(), types.GenerateRequest{})
	require.NoError(t, err)
}

func TestGenerateCarriesUpstreamDiagnostic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"conflict_certificate_exists","message":"certificate already issued"}}`))
	}))
	defer srv.Close()

	client := newGenerationClient(t, srv, "")
	_, err := client.Generate(context.Background(), types.GenerateRequest{EventID: "evt_1"})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamGeneration, appErr.Code)
	assert.Contains(t, appErr.Message, "409")
	assert.Contains(t, appErr.Message, "certificate already issued",
		"the response body travels into the error verbatim")
}

func TestGenerateCarriesServerErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("template render failed: font missing"))
	}))
	defer srv.Close()

	client := newGenerationClient(t, srv, "")
	_, err := client.Generate(context.Background(), types.GenerateRequest{EventID: "evt_1"})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Message, "font missing",
		"retried 5xx responses keep the final body for the task diagnostic")
}
