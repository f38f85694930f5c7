package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRESTIntegrator_Integrate_FormGrant(t *testing.T) {
	var tokenCalls, resourceCalls int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/token":
			tokenCalls++
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "tok-123",
				"instance_url": "https://example.test",
				"id":           "user-1",
				"token_type":   "Bearer",
				"issued_at":    "1700000000000",
				"signature":    "sig",
				"expires_in":   1800,
			})
		case "/resource":
			resourceCalls++
			require.Equal(t, "Bearer tok-123", req.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	cfg := RESTConfig{
		ClientID: "id", ClientSecret: "secret", Username: "u", Password: "p",
		TokenResource: "/token", APIURL: server.URL,
	}
	mapper := func(record any) (any, error) { return map[string]any{"name": "Ada"}, nil }
	integrator := NewRESTIntegrator(cfg, http.MethodPost, "/resource", mapper, nil)

	result, err := integrator.Integrate(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 1, tokenCalls)
	require.Equal(t, 1, resourceCalls)

	// Second call reuses the cached token.
	_, err = integrator.Integrate(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, tokenCalls, "token must be cached across calls")
}

func TestRESTIntegrator_Integrate_URLParamGrant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/token":
			require.Equal(t, "password", req.URL.Query().Get("grant_type"))
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "tok-456",
				"issued_at":    1700000000,
			})
		case "/resource":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
		}
	}))
	defer server.Close()

	cfg := RESTConfig{
		ClientID: "id", ClientSecret: "secret", Username: "u", Password: "p",
		TokenResource: "/token", APIURL: server.URL, UseURLParamsForAuth: true,
	}
	mapper := func(record any) (any, error) { return map[string]any{"name": "Grace"}, nil }
	integrator := NewRESTIntegrator(cfg, http.MethodPost, "/resource", mapper, nil)

	result, err := integrator.Integrate(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, result.Success)
}

func TestRESTIntegrator_Integrate_ReauthenticatesOn4xx(t *testing.T) {
	var tokenCalls, resourceCalls int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/token":
			tokenCalls++
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": fmt.Sprintf("tok-call-%d", tokenCalls),
				"issued_at":    1700000000,
			})
		case "/resource":
			resourceCalls++
			if resourceCalls == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
		}
	}))
	defer server.Close()

	cfg := RESTConfig{
		ClientID: "id", ClientSecret: "secret", Username: "u", Password: "p",
		TokenResource: "/token", APIURL: server.URL,
	}
	mapper := func(record any) (any, error) { return map[string]any{"name": "Ada"}, nil }
	integrator := NewRESTIntegrator(cfg, http.MethodPost, "/resource", mapper, nil)

	result, err := integrator.Integrate(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 2, tokenCalls, "a 4xx must trigger exactly one re-authentication")
	require.Equal(t, 2, resourceCalls)
}

func TestRESTIntegrator_Integrate_ProactivelyRefreshesNearExpiry(t *testing.T) {
	var tokenCalls, resourceCalls int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/token":
			tokenCalls++
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": fmt.Sprintf("tok-call-%d", tokenCalls),
				"issued_at":    1700000000,
				// expires_in is well inside the 30s refresh window, so every
				// call must be treated as near-expiry and refreshed.
				"expires_in": 1,
			})
		case "/resource":
			resourceCalls++
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
		}
	}))
	defer server.Close()

	cfg := RESTConfig{
		ClientID: "id", ClientSecret: "secret", Username: "u", Password: "p",
		TokenResource: "/token", APIURL: server.URL,
	}
	mapper := func(record any) (any, error) { return map[string]any{"name": "Ada"}, nil }
	integrator := NewRESTIntegrator(cfg, http.MethodPost, "/resource", mapper, nil)

	_, err := integrator.Integrate(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, tokenCalls)

	_, err = integrator.Integrate(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 2, tokenCalls, "a token within the refresh window must be proactively refreshed, not reused")
	require.Equal(t, 2, resourceCalls)
}

func TestNewIntegrationResult_RejectsEmptyFields(t *testing.T) {
	_, err := NewIntegrationResult(true, nil, map[string]any{"x": 1})
	require.Error(t, err)

	_, err = NewIntegrationResult(true, map[string]any{"x": 1}, nil)
	require.Error(t, err)

	result, err := NewIntegrationResult(true, map[string]any{"ok": true}, map[string]any{"sent": true})
	require.NoError(t, err)
	require.NotNil(t, result)
}
