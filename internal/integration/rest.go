package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"clientflow.io/flow/internal/pkg/apperrors"
)

// RESTConfig is the concrete OAuth2-password-grant REST strategy's
// configuration (spec.md §4.6.4, §6).
type RESTConfig struct {
	ClientID            string
	ClientSecret        string
	Username            string
	Password            string
	TokenResource       string
	APIURL              string
	UseURLParamsForAuth bool
}

// DefaultTokenExpiresIn is used when the token response omits expires_in.
const DefaultTokenExpiresIn = 1800 * time.Second

// tokenResponse is the raw token-endpoint response shape this
// integration was modeled on: access_token plus a handful of
// provider-specific extras (instance_url, id, signature) alongside the
// usual OAuth2 fields. issued_at arrives as either a string or a number
// depending on provider — both are accepted and coerced to int64.
type tokenResponse struct {
	AccessToken string          `json:"access_token"`
	InstanceURL string          `json:"instance_url"`
	ID          string          `json:"id"`
	TokenType   string          `json:"token_type"`
	IssuedAt    json.RawMessage `json:"issued_at"`
	Signature   string          `json:"signature"`
	ExpiresIn   int64           `json:"expires_in"`
}

func (t *tokenResponse) issuedAt() (int64, error) {
	if len(t.IssuedAt) == 0 {
		return 0, nil
	}
	var n int64
	if err := json.Unmarshal(t.IssuedAt, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(t.IssuedAt, &s); err != nil {
		return 0, fmt.Errorf("issued_at is neither int nor string: %w", err)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("issued_at %q is not an integer: %w", s, err)
	}
	return n, nil
}

// toOAuth2Token folds the provider extras into an *oauth2.Token's Extra
// map, the idiomatic x/oauth2 way to carry fields the library itself
// doesn't model.
func (t *tokenResponse) toOAuth2Token() *oauth2.Token {
	issuedAt, _ := t.issuedAt()
	expiresIn := t.ExpiresIn
	if expiresIn == 0 {
		expiresIn = int64(DefaultTokenExpiresIn.Seconds())
	}
	tok := &oauth2.Token{
		AccessToken: t.AccessToken,
		TokenType:   t.TokenType,
		Expiry:      time.Now().Add(time.Duration(expiresIn) * time.Second),
	}
	return tok.WithExtra(map[string]any{
		"instance_url": t.InstanceURL,
		"id":           t.ID,
		"issued_at":    issuedAt,
		"signature":    t.Signature,
	})
}

// ResponseProcessor maps an HTTP response plus the output model that was
// sent into the IntegrationResult.Response payload. The default
// implementation parses the response body as JSON.
type ResponseProcessor func(resp *http.Response, outputModel any) (any, error)

func defaultResponseProcessor(resp *http.Response, _ any) (any, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if len(body) == 0 {
		return map[string]any{}, nil
	}
	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}
	return parsed, nil
}

// BodyMapper maps a decoded unified record to the JSON body that is sent
// to the resource endpoint. Null/zero-value fields should be excluded by
// the mapper, per spec.md §4.6.4 step 3.
type BodyMapper func(record any) (any, error)

// RESTIntegrator is the OAuth2-password-grant concrete Integrator
// strategy: it owns the token cache and refreshes it under a
// singleflight guard so concurrent Run calls refresh at most once
// (spec.md §5(iii)).
type RESTIntegrator struct {
	cfg               RESTConfig
	method            string
	resource          string
	bodyMapper        BodyMapper
	responseProcessor ResponseProcessor
	httpClient        *http.Client

	mu     sync.Mutex
	token  *oauth2.Token
	flight singleflight.Group
}

// NewRESTIntegrator wires a RESTIntegrator. method is the HTTP verb used
// for the resource call (POST, PATCH, ...); resource is appended to
// cfg.APIURL. A nil responseProcessor falls back to parsing JSON.
func NewRESTIntegrator(cfg RESTConfig, method, resource string, bodyMapper BodyMapper, responseProcessor ResponseProcessor) *RESTIntegrator {
	if responseProcessor == nil {
		responseProcessor = defaultResponseProcessor
	}
	return &RESTIntegrator{
		cfg:               cfg,
		method:            method,
		resource:          resource,
		bodyMapper:        bodyMapper,
		responseProcessor: responseProcessor,
		httpClient:        &http.Client{Timeout: 300 * time.Second},
	}
}

// Integrate implements Integrator: authenticate (refreshing the cached
// token on first use, proactively within tokenRefreshWindow of expiry, or
// reactively after a 4xx), POST/PATCH/... the mapped body, and report the
// outcome through response_processor.
func (r *RESTIntegrator) Integrate(ctx context.Context, record any) (*IntegrationResult, error) {
	body, err := r.bodyMapper(record)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrIntegrationValidation, "INTEGRATION_VALIDATION",
			fmt.Sprintf("failed to map record to output model: %v", err))
	}

	tok, err := r.getToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtain oauth token: %w", err)
	}

	resp, err := r.callResource(ctx, tok, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		// Renewal policy: re-authenticate on the first 4xx and retry once.
		r.evictToken()
		tok, err = r.getToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("re-authenticate after 4xx: %w", err)
		}
		resp, err = r.callResource(ctx, tok, body)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.Wrap(apperrors.ErrHTTP, "HTTP_ERROR",
			fmt.Sprintf("resource call returned status %d", resp.StatusCode))
	}

	parsed, err := r.responseProcessor(resp, body)
	if err != nil {
		return nil, fmt.Errorf("process response: %w", err)
	}

	return NewIntegrationResult(true, parsed, body)
}

func (r *RESTIntegrator) callResource(ctx context.Context, tok *oauth2.Token, body any) (*http.Response, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}

	resourceCtx, cancel := context.WithTimeout(ctx, 300*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(resourceCtx, r.method, r.cfg.APIURL+r.resource, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build resource request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)

	return r.httpClient.Do(req)
}

// tokenRefreshWindow is how far ahead of expiry a cached token is
// proactively refreshed. Expiry is the time the token was fetched plus
// expires_in; issued_at is not used for it.
const tokenRefreshWindow = 30 * time.Second

// getToken returns the cached token, refreshing it exactly once across
// concurrent callers via singleflight when absent or within
// tokenRefreshWindow of its expiry.
func (r *RESTIntegrator) getToken(ctx context.Context) (*oauth2.Token, error) {
	r.mu.Lock()
	tok := r.token
	r.mu.Unlock()
	if tok != nil && time.Now().Add(tokenRefreshWindow).Before(tok.Expiry) {
		return tok, nil
	}

	v, err, _ := r.flight.Do("token", func() (any, error) {
		return r.fetchToken(ctx)
	})
	if err != nil {
		return nil, err
	}
	fresh := v.(*oauth2.Token)

	r.mu.Lock()
	r.token = fresh
	r.mu.Unlock()
	return fresh, nil
}

func (r *RESTIntegrator) evictToken() {
	r.mu.Lock()
	r.token = nil
	r.mu.Unlock()
}

func (r *RESTIntegrator) fetchToken(ctx context.Context) (*oauth2.Token, error) {
	tokenCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var raw *tokenResponse
	var err error
	if r.cfg.UseURLParamsForAuth {
		raw, err = r.fetchTokenViaURLParams(tokenCtx)
	} else {
		raw, err = r.fetchTokenViaPasswordGrant(tokenCtx)
	}
	if err != nil {
		return nil, err
	}
	return raw.toOAuth2Token(), nil
}

// fetchTokenViaPasswordGrant uses x/oauth2's own password-grant exchange
// (form-encoded body), then copies the provider extras out of Token.Extra,
// where oauth2.Config.PasswordCredentialsToken keeps the response fields it
// does not model itself.
func (r *RESTIntegrator) fetchTokenViaPasswordGrant(ctx context.Context) (*tokenResponse, error) {
	cfg := &oauth2.Config{
		ClientID:     r.cfg.ClientID,
		ClientSecret: r.cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: r.cfg.APIURL + r.cfg.TokenResource},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	tok, err := cfg.PasswordCredentialsToken(ctx, r.cfg.Username, r.cfg.Password)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrHTTP, "HTTP_ERROR",
			fmt.Sprintf("password grant failed: %v", err))
	}

	resp := &tokenResponse{AccessToken: tok.AccessToken, TokenType: tok.TokenType}
	if v, ok := tok.Extra("instance_url").(string); ok {
		resp.InstanceURL = v
	}
	if v, ok := tok.Extra("id").(string); ok {
		resp.ID = v
	}
	if v, ok := tok.Extra("signature").(string); ok {
		resp.Signature = v
	}
	if v := tok.Extra("issued_at"); v != nil {
		if raw, err := json.Marshal(v); err == nil {
			resp.IssuedAt = raw
		}
	}
	if !tok.Expiry.IsZero() {
		resp.ExpiresIn = int64(time.Until(tok.Expiry).Round(time.Second).Seconds())
	}
	if _, err := resp.issuedAt(); err != nil {
		return nil, fmt.Errorf("token response: %w", err)
	}
	return resp, nil
}

// fetchTokenViaURLParams handles use_url_params_for_auth=true, which
// golang.org/x/oauth2 has no built-in support for: the grant fields go on
// the query string instead of the form body.
func (r *RESTIntegrator) fetchTokenViaURLParams(ctx context.Context) (*tokenResponse, error) {
	grant := url.Values{
		"grant_type":    {"password"},
		"client_id":     {r.cfg.ClientID},
		"client_secret": {r.cfg.ClientSecret},
		"username":      {r.cfg.Username},
		"password":      {r.cfg.Password},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.cfg.APIURL+r.cfg.TokenResource+"?"+grant.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.Wrap(apperrors.ErrHTTP, "HTTP_ERROR",
			fmt.Sprintf("token endpoint returned status %d", resp.StatusCode))
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if _, err := tok.issuedAt(); err != nil {
		return nil, fmt.Errorf("token response: %w", err)
	}
	return &tok, nil
}
