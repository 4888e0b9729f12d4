// Package dataconnect is a client for the Enedis Data Connect API: consent
// URL building, OAuth2 code and refresh-token exchanges, and metering data
// retrieval. It is stateless apart from per-environment endpoints and
// credentials; one Client exists per environment.
package dataconnect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	productionAuthorizeEndpoint = "https://mon-compte-particulier.enedis.fr"
	productionAPIEndpoint       = "https://gw.prd.api.enedis.fr"
	sandboxEndpoint             = "https://gw.hml.api.enedis.fr"
)

// Config carries the credentials and endpoints for one environment.
// AuthorizeEndpoint and APIEndpoint override the defaults, which is only
// useful in tests.
type Config struct {
	ClientID          string
	ClientSecret      string
	RedirectURI       string
	Sandbox           bool
	AuthorizeEndpoint string
	APIEndpoint       string
	HTTPClient        *http.Client
}

// Client calls the Data Connect API for a single environment.
type Client struct {
	clientID          string
	clientSecret      string
	redirectURI       string
	authorizeEndpoint string
	apiEndpoint       string
	httpClient        *http.Client
}

// NewClient creates a Data Connect client from cfg.
func NewClient(cfg Config) *Client {
	c := &Client{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURI:  cfg.RedirectURI,
		httpClient:   cfg.HTTPClient,
	}
	if cfg.Sandbox {
		c.authorizeEndpoint = sandboxEndpoint
		c.apiEndpoint = sandboxEndpoint
	} else {
		c.authorizeEndpoint = productionAuthorizeEndpoint
		c.apiEndpoint = productionAPIEndpoint
	}
	if cfg.AuthorizeEndpoint != "" {
		c.authorizeEndpoint = cfg.AuthorizeEndpoint
	}
	if cfg.APIEndpoint != "" {
		c.apiEndpoint = cfg.APIEndpoint
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return c
}

// AuthorizeURL builds the provider consent URL for a pending request.
// duration is an ISO 8601 duration; the provider caps it at three years and
// rejects excessive values itself.
func (c *Client) AuthorizeURL(duration, state string) string {
	params := url.Values{}
	params.Set("client_id", c.clientID)
	params.Set("response_type", "code")
	params.Set("state", state)
	params.Set("duration", duration)
	return c.authorizeEndpoint + "/dataconnect/v1/oauth2/authorize?" + params.Encode()
}

// TokenResponse is the provider's answer to a code or refresh exchange.
// usage_points_id is only present on code exchanges and lists the granted
// points comma-separated.
type TokenResponse struct {
	AccessToken   string `json:"access_token"`
	RefreshToken  string `json:"refresh_token"`
	TokenType     string `json:"token_type"`
	ExpiresIn     int    `json:"expires_in"`
	UsagePointsID string `json:"usage_points_id"`
}

// UsagePoints splits the comma-separated usage point list.
func (r *TokenResponse) UsagePoints() []string {
	if r.UsagePointsID == "" {
		return nil
	}
	return strings.Split(r.UsagePointsID, ",")
}

// ExchangeCode trades an authorization code for an access/refresh pair.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	payload := url.Values{}
	payload.Set("grant_type", "authorization_code")
	payload.Set("code", code)
	return c.token(ctx, payload)
}

// RefreshToken trades a refresh token for a fresh access/refresh pair.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	payload := url.Values{}
	payload.Set("grant_type", "refresh_token")
	payload.Set("refresh_token", refreshToken)
	return c.token(ctx, payload)
}

// token posts to the provider token endpoint. The endpoint is not a textbook
// OAuth2 one: redirect_uri travels as a query parameter while the
// credentials go in the form body.
func (c *Client) token(ctx context.Context, payload url.Values) (*TokenResponse, error) {
	payload.Set("client_id", c.clientID)
	payload.Set("client_secret", c.clientSecret)

	endpoint := c.apiEndpoint + "/v1/oauth2/token?" + url.Values{"redirect_uri": {c.redirectURI}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, parseError(body)
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	return &tokenResp, nil
}
