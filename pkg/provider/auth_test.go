package provider

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyAuth(t *testing.T) {
	tests := []struct {
		baseURL string
		want    authScheme
	}{
		{"https://api.anthropic.com/v1", authKeyHeader},
		{"https://myresource.openai.azure.com/v1", authBearerAndKey},
		{"http://localhost:11434/v1", authNone},
		{"http://127.0.0.1:8080/v1", authNone},
		{"https://api.openai.com/v1", authBearer},
		{"https://openrouter.ai/api/v1", authBearer},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, classifyAuth(tc.baseURL), tc.baseURL)
	}
}

func TestAuthScheme_Apply(t *testing.T) {
	newReq := func() *http.Request {
		req, err := http.NewRequest(http.MethodPost, "http://example.test", nil)
		require.NoError(t, err)
		return req
	}

	t.Run("should set bearer header", func(t *testing.T) {
		req := newReq()
		authBearer.apply(req, "sk-test")
		assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))
		assert.Empty(t, req.Header.Get("x-api-key"))
	})

	t.Run("should set key header with version", func(t *testing.T) {
		req := newReq()
		authKeyHeader.apply(req, "sk-ant")
		assert.Equal(t, "sk-ant", req.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, req.Header.Get("anthropic-version"))
		assert.Empty(t, req.Header.Get("Authorization"))
	})

	t.Run("should set both headers", func(t *testing.T) {
		req := newReq()
		authBearerAndKey.apply(req, "key")
		assert.Equal(t, "Bearer key", req.Header.Get("Authorization"))
		assert.Equal(t, "key", req.Header.Get("api-key"))
	})

	t.Run("should set nothing", func(t *testing.T) {
		req := newReq()
		authNone.apply(req, "ignored")
		assert.Empty(t, req.Header.Get("Authorization"))
		assert.Empty(t, req.Header.Get("x-api-key"))
		assert.Empty(t, req.Header.Get("api-key"))
	})
}

func TestClassifyAuth_FixedAtConstruction(t *testing.T) {
	adapter := newDeltaAdapter(Config{Type: KindAnthropic, BaseURL: "https://api.anthropic.com/v1", APIKey: "k"})
	assert.Equal(t, authKeyHeader, adapter.auth)

	// Mutating the config copy after construction never re-derives auth.
	adapter.cfg.BaseURL = "https://api.openai.com/v1"
	assert.Equal(t, authKeyHeader, adapter.auth)
}
