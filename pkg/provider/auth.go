package provider

import (
	"net/http"
	"strings"
)

// authScheme is the header scheme a delta endpoint expects. Classified
// once from the base URL at adapter construction and fixed for the
// adapter's lifetime.
type authScheme int

const (
	authBearer authScheme = iota
	authKeyHeader
	authBearerAndKey
	authNone
)

const anthropicVersion = "2023-06-01"

// classifyAuth picks the scheme by static substring match on known
// host patterns.
func classifyAuth(baseURL string) authScheme {
	host := strings.ToLower(baseURL)
	switch {
	case strings.Contains(host, "anthropic"):
		return authKeyHeader
	case strings.Contains(host, "azure"):
		return authBearerAndKey
	case strings.Contains(host, "localhost"), strings.Contains(host, "127.0.0.1"):
		return authNone
	default:
		return authBearer
	}
}

func (a authScheme) apply(req *http.Request, apiKey string) {
	switch a {
	case authBearer:
		req.Header.Set("Authorization", "Bearer "+apiKey)
	case authKeyHeader:
		req.Header.Set("x-api-key", apiKey)
		req.Header.Set("anthropic-version", anthropicVersion)
	case authBearerAndKey:
		req.Header.Set("Authorization", "Bearer "+apiKey)
		req.Header.Set("api-key", apiKey)
	case authNone:
	}
}

func (a authScheme) String() string {
	switch a {
	case authBearer:
		return "bearer"
	case authKeyHeader:
		return "key-header"
	case authBearerAndKey:
		return "bearer+key"
	default:
		return "none"
	}
}
