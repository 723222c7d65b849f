package platform

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/tbourn/persona-engine/internal/config"
)

// ErrNoCredentials is returned when no token is cached and none can be fetched.
var ErrNoCredentials = errors.New("platform: no credentials available to obtain an access token")

// TokenProvider caches the platform access token process-wide and refreshes
// it shortly before it expires. Reads take a shared lock; a refresh runs
// outside the lock and concurrent refreshes collapse into one request.
//
// A token seeded from the login flow is renewed with its refresh token.
// Otherwise the client-credentials grant is used.
type TokenProvider struct {
	mu     sync.RWMutex
	tok    *oauth2.Token
	margin time.Duration
	now    func() time.Time

	fetch   func(ctx context.Context) (*oauth2.Token, error)
	refresh func(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	flight  singleflight.Group
}

// NewTokenProvider builds a provider for cfg. oauth may be nil when the login
// flow is not used.
func NewTokenProvider(cfg config.PlatformConfig, oauth *OAuth, httpClient *http.Client) *TokenProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	p := &TokenProvider{margin: cfg.TokenMargin, now: time.Now}

	if cfg.ClientID != "" && cfg.ClientSecret != "" && cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		p.fetch = func(ctx context.Context) (*oauth2.Token, error) {
			return cc.Token(context.WithValue(ctx, oauth2.HTTPClient, httpClient))
		}
	}
	if oauth != nil {
		p.refresh = oauth.Refresh
	}
	return p
}

// Token returns a valid access token, refreshing it when it is missing or
// within the configured margin of expiry.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.RLock()
	tok := p.tok
	p.mu.RUnlock()
	if p.fresh(tok) {
		return tok.AccessToken, nil
	}

	v, err, _ := p.flight.Do("token", func() (any, error) {
		// Another caller may have refreshed while we waited.
		p.mu.RLock()
		cur := p.tok
		p.mu.RUnlock()
		if p.fresh(cur) {
			return cur, nil
		}
		next, err := p.renew(ctx, cur)
		if err != nil {
			return nil, err
		}
		p.store(next)
		log.Info().Time("expires_at", next.Expiry).Msg("platform access token refreshed")
		return next, nil
	})
	if err != nil {
		return "", err
	}
	return v.(*oauth2.Token).AccessToken, nil
}

// Seed installs a token obtained elsewhere (login callback or manual refresh).
func (p *TokenProvider) Seed(t *oauth2.Token) {
	if t == nil || t.AccessToken == "" {
		return
	}
	p.store(t)
}

// Invalidate drops the cached access token, keeping any refresh token so the
// next call can renew it.
func (p *TokenProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tok == nil {
		return
	}
	p.tok = &oauth2.Token{RefreshToken: p.tok.RefreshToken}
}

func (p *TokenProvider) store(t *oauth2.Token) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Token endpoints may omit the refresh token on renewal; keep the old one.
	if t.RefreshToken == "" && p.tok != nil {
		cp := *t
		cp.RefreshToken = p.tok.RefreshToken
		t = &cp
	}
	p.tok = t
}

func (p *TokenProvider) fresh(t *oauth2.Token) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	if t.Expiry.IsZero() {
		return true
	}
	return p.now().Add(p.margin).Before(t.Expiry)
}

func (p *TokenProvider) renew(ctx context.Context, cur *oauth2.Token) (*oauth2.Token, error) {
	if cur != nil && cur.RefreshToken != "" && p.refresh != nil {
		t, err := p.refresh(ctx, cur.RefreshToken)
		if err == nil {
			return t, nil
		}
		if p.fetch == nil {
			return nil, err
		}
		log.Warn().Err(err).Msg("refresh token grant failed; falling back to client credentials")
	}
	if p.fetch == nil {
		return nil, ErrNoCredentials
	}
	return p.fetch(ctx)
}
