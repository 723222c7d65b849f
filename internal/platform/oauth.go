// Package platform integrates with the creator platform's REST API: sending
// chat replies, obtaining access tokens, and running the PKCE login flow.
package platform

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/tbourn/persona-engine/internal/config"
)

// ErrOAuthNotConfigured is returned when the login flow is used without a
// client id or redirect URI.
var ErrOAuthNotConfigured = errors.New("platform: oauth client id and redirect uri are required")

// Login is a freshly started authorization-code flow. Verifier must be kept
// server-side until the callback arrives with State.
type Login struct {
	State    string
	Verifier string
	URL      string
}

// OAuth wraps the authorization-code + PKCE flow.
type OAuth struct {
	conf oauth2.Config
	http *http.Client
}

// NewOAuth configures the flow from cfg. Client credentials are posted in the
// request body, which is what the platform's token endpoint expects.
func NewOAuth(cfg config.PlatformConfig, httpClient *http.Client) *OAuth {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &OAuth{
		conf: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.LoginScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		http: httpClient,
	}
}

// Configured reports whether the login flow can be started.
func (o *OAuth) Configured() bool {
	return strings.TrimSpace(o.conf.ClientID) != "" && strings.TrimSpace(o.conf.RedirectURL) != ""
}

// Begin generates a state and PKCE verifier and returns the URL the operator
// should open.
func (o *OAuth) Begin() (Login, error) {
	if !o.Configured() {
		return Login{}, ErrOAuthNotConfigured
	}
	state := oauth2.GenerateVerifier()
	verifier := oauth2.GenerateVerifier()
	return Login{State: state, Verifier: verifier, URL: o.AuthURL(state, verifier)}, nil
}

// AuthURL builds the authorization URL with an S256 code challenge.
func (o *OAuth) AuthURL(state, verifier string) string {
	return o.conf.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// Exchange trades an authorization code for tokens.
func (o *OAuth) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	if !o.Configured() {
		return nil, ErrOAuthNotConfigured
	}
	return o.conf.Exchange(o.ctx(ctx), code, oauth2.VerifierOption(verifier))
}

// Refresh obtains a new access token using a refresh token.
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, errors.New("platform: refresh token required")
	}
	src := o.conf.TokenSource(o.ctx(ctx), &oauth2.Token{RefreshToken: refreshToken})
	return src.Token()
}

func (o *OAuth) ctx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, o.http)
}
