// Package proxy holds the authorization broker: it correlates outbound
// consent requests with opaque state values, exchanges authorization codes
// for token pairs, refreshes expired access tokens in place, and scopes
// every data fetch to the usage points a JID was actually granted.
package proxy

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/consometers/data-connect-proxy/dataconnect"
	"github.com/consometers/data-connect-proxy/models"
	"github.com/consometers/data-connect-proxy/store"
)

// Notifier pushes the unsolicited "authorization completed" message to the
// requester once the end user has consented. Implemented by the messaging
// transport; injected so the broker never reaches back into it.
type Notifier interface {
	NotifyAuthorizeComplete(jid string, usagePoints []string, userState string)
}

// dateFormat is the day precision the provider expects for start/end bounds.
const dateFormat = "2006-01-02"

// Proxy brokers delegated access to the Data Connect API. All operations
// serialize behind one mutex: a refresh is a read-call-write sequence over
// the token store and must not interleave with a second resolution of the
// same token.
type Proxy struct {
	mu         sync.Mutex
	production *dataconnect.Client
	sandbox    *dataconnect.Client
	stores     *store.Stores
	notifier   Notifier
	baseURL    string
	logger     *zap.Logger
}

// New creates the broker. baseURL is the public address of the web
// collaborator, used to format browsable consent description URLs. notifier
// may be nil when no messaging transport is attached.
func New(production, sandbox *dataconnect.Client, stores *store.Stores, notifier Notifier, baseURL string, logger *zap.Logger) *Proxy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Proxy{
		production: production,
		sandbox:    sandbox,
		stores:     stores,
		notifier:   notifier,
		baseURL:    baseURL,
		logger:     logger,
	}
}

func (p *Proxy) clientFor(env models.Environment) *dataconnect.Client {
	if env == models.EnvironmentSandbox {
		return p.sandbox
	}
	return p.production
}

// RegisterAuthorizeRequest records a pending consent flow and returns the
// provider consent URL the end user must visit. duration is an ISO 8601
// duration passed through to the provider, which enforces its own cap.
func (p *Proxy) RegisterAuthorizeRequest(redirectURI, duration, jid, userState string, env models.Environment) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := p.stores.AuthorizeRequests.Add(jid, userState, redirectURI, env)
	p.logger.Info("registered authorize request",
		zap.String("jid", jid),
		zap.String("state", state),
		zap.String("environment", string(env)))
	return p.clientFor(env).AuthorizeURL(duration, state)
}

// RegisterAuthorizeDescription stores a reusable consent page description
// and returns its browsable URL.
func (p *Proxy) RegisterAuthorizeDescription(jid, name, descriptionHTML, logoURL string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.stores.AuthorizeDescriptions.Add(jid, name, descriptionHTML, logoURL)
	p.logger.Info("registered authorize description",
		zap.String("jid", jid),
		zap.String("id", id))
	return p.baseURL + "/authorize?id=" + url.QueryEscape(id)
}

// AuthorizeDescription returns a stored consent description; the web
// collaborator renders it before starting a consent flow.
func (p *Proxy) AuthorizeDescription(id string) (models.AuthorizeDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stores.AuthorizeDescriptions.Get(id)
}

// AuthorizeResult tells the redirect collaborator how to finish a browser
// flow that just completed.
type AuthorizeResult struct {
	JID         string
	RedirectURI string
	UsagePoints []string
}

// HandleAuthorizeCallback resolves a provider redirect. An unknown state
// value returns (nil, nil): replays and foreign probes are nothing to act
// on, not server errors. On success the code is exchanged, the token stored
// under a fresh id, every granted usage point recorded for the requesting
// JID, and the requester notified asynchronously.
func (p *Proxy) HandleAuthorizeCallback(ctx context.Context, code, state string) (*AuthorizeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	req, err := p.stores.AuthorizeRequests.Get(state)
	if err != nil {
		p.logger.Info("callback with unknown state", zap.String("state", state))
		return nil, nil
	}

	res, err := p.clientFor(req.Environment).ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	tokenID := p.stores.Tokens.Put(res.AccessToken, res.RefreshToken, res.ExpiresIn, req.Environment, "")
	usagePoints := res.UsagePoints()
	for _, usagePoint := range usagePoints {
		p.stores.UsagePoints.Set(req.JID, usagePoint, tokenID)
	}

	p.logger.Info("authorization completed",
		zap.String("jid", req.JID),
		zap.String("token_id", tokenID),
		zap.Strings("usage_points", usagePoints))

	if p.notifier != nil {
		// fire and forget; the browser flow must not wait on the transport
		go p.notifier.NotifyAuthorizeComplete(req.JID, usagePoints, req.UserState)
	}

	return &AuthorizeResult{
		JID:         req.JID,
		RedirectURI: req.RedirectURI,
		UsagePoints: usagePoints,
	}, nil
}

// ResolveAccessToken returns a valid access token for (jid, usagePointID),
// refreshing it first when expired. The refreshed pair is stored under the
// same token id so existing grants keep resolving. A failed refresh leaves
// the stale token in place for a later attempt.
func (p *Proxy) ResolveAccessToken(ctx context.Context, jid, usagePointID string) (string, models.Environment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.resolveAccessToken(ctx, jid, usagePointID)
}

// resolveAccessToken implements ResolveAccessToken; callers hold p.mu.
func (p *Proxy) resolveAccessToken(ctx context.Context, jid, usagePointID string) (string, models.Environment, error) {
	points := p.stores.UsagePoints.Get(jid)
	if points == nil {
		return "", "", ErrAccessDenied
	}
	tokenID, ok := points[usagePointID]
	if !ok {
		return "", "", ErrAccessDenied
	}

	token, err := p.stores.Tokens.Get(tokenID)
	if err != nil {
		// grant pointing at a missing token, an internal inconsistency
		return "", "", fmt.Errorf("grant for %s references token %s: %w", usagePointID, tokenID, err)
	}

	if !token.IsExpired() {
		return token.AccessToken, token.Environment, nil
	}

	p.logger.Info("refreshing expired access token",
		zap.String("jid", jid),
		zap.String("token_id", tokenID))

	res, err := p.clientFor(token.Environment).RefreshToken(ctx, token.RefreshToken)
	if err != nil {
		return "", "", err
	}
	p.stores.Tokens.Put(res.AccessToken, res.RefreshToken, res.ExpiresIn, token.Environment, tokenID)
	return res.AccessToken, token.Environment, nil
}

// FetchLoadCurve returns the load curve for a granted usage point.
func (p *Proxy) FetchLoadCurve(ctx context.Context, direction dataconnect.Direction, jid, usagePointID, start, end string) (*dataconnect.MeterReading, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := validateFetchArgs(direction, start, end); err != nil {
		return nil, err
	}
	accessToken, env, err := p.resolveAccessToken(ctx, jid, usagePointID)
	if err != nil {
		return nil, err
	}
	return p.clientFor(env).LoadCurve(ctx, direction, usagePointID, start, end, accessToken)
}

// FetchDaily returns daily aggregates for a granted usage point.
func (p *Proxy) FetchDaily(ctx context.Context, direction dataconnect.Direction, jid, usagePointID, start, end string) (*dataconnect.MeterReading, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := validateFetchArgs(direction, start, end); err != nil {
		return nil, err
	}
	accessToken, env, err := p.resolveAccessToken(ctx, jid, usagePointID)
	if err != nil {
		return nil, err
	}
	return p.clientFor(env).Daily(ctx, direction, usagePointID, start, end, accessToken)
}

// validateFetchArgs rejects malformed input before any network call.
func validateFetchArgs(direction dataconnect.Direction, start, end string) error {
	if !direction.Valid() {
		return fmt.Errorf("%w: direction must be consumption or production, got %q", ErrInvalidArgument, direction)
	}
	if _, err := time.Parse(dateFormat, start); err != nil {
		return fmt.Errorf("%w: start date %q is not YYYY-MM-DD", ErrInvalidArgument, start)
	}
	if _, err := time.Parse(dateFormat, end); err != nil {
		return fmt.Errorf("%w: end date %q is not YYYY-MM-DD", ErrInvalidArgument, end)
	}
	return nil
}

// Save writes the broker's durable state while holding the operation lock,
// so a snapshot never captures a half-applied refresh.
func (p *Proxy) Save(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stores.Save(path)
}
