// OAuth login HTTP handlers.
//
// The operator authorizes the service once through the platform's
// authorization-code + PKCE flow:
//   - GET /auth/login     (start; returns the authorization URL)
//   - GET /auth/callback  (finish; exchanges the code and seeds the token cache)
//   - GET /auth/refresh   (manual refresh with a known refresh token)
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/tbourn/persona-engine/internal/http/middleware"
	"github.com/tbourn/persona-engine/internal/platform"
	"github.com/tbourn/persona-engine/internal/repo"
)

// OAuthFlow is the authorization-code + PKCE client.
type OAuthFlow interface {
	Configured() bool
	Begin() (platform.Login, error)
	Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// TokenSeeder receives tokens obtained through the login flow.
type TokenSeeder interface {
	Seed(t *oauth2.Token)
}

// ProfileFetcher loads the authenticated creator's profile.
type ProfileFetcher interface {
	Profile(ctx context.Context, accessToken string) (map[string]any, error)
}

// AuthHandler serves the OAuth login endpoints. Pending logins are stored
// in the database so the callback can be served by any replica.
type AuthHandler struct {
	db       *gorm.DB
	flow     OAuthFlow
	tokens   TokenSeeder
	profiles ProfileFetcher
	stateTTL time.Duration
	now      func() time.Time
}

// NewAuthHandler wires the login endpoints. profiles may be nil, in which
// case the callback omits the user profile.
func NewAuthHandler(db *gorm.DB, flow OAuthFlow, tokens TokenSeeder, profiles ProfileFetcher, stateTTL time.Duration) *AuthHandler {
	if stateTTL <= 0 {
		stateTTL = 10 * time.Minute
	}
	return &AuthHandler{
		db:       db,
		flow:     flow,
		tokens:   tokens,
		profiles: profiles,
		stateTTL: stateTTL,
		now:      time.Now,
	}
}

// LoginResponse carries the URL the operator must open.
type LoginResponse struct {
	AuthURL string `json:"auth_url" example:"https://auth.fanvue.com/oauth2/auth?client_id=..."`
}

// TokenInfo is the token metadata returned to the operator.
type TokenInfo struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// CallbackResponse is returned after a successful login.
type CallbackResponse struct {
	Status  string         `json:"status" example:"success"`
	Message string         `json:"message" example:"Login successful"`
	User    map[string]any `json:"user,omitempty"`
	Tokens  TokenInfo      `json:"tokens"`
}

// RefreshResponse is returned after a manual token refresh.
type RefreshResponse struct {
	Status string    `json:"status" example:"success"`
	Tokens TokenInfo `json:"tokens"`
}

// Login godoc
// @ID          oauthLogin
// @Summary     Start the platform OAuth login
// @Description Creates a PKCE verifier and state, stores them for the callback and returns the authorization URL.
// @Tags        Auth
// @Produce     json
// @Success     200  {object}  handlers.LoginResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Failure     503  {object}  handlers.ErrorResponse  "OAuth not configured"
// @Router      /auth/login [get]
func (h *AuthHandler) Login(c *gin.Context) {
	if !h.flow.Configured() {
		fail(c, http.StatusServiceUnavailable, ErrCodeOAuthNotConfigured, "oauth client id and redirect uri are required")
		return
	}
	login, err := h.flow.Begin()
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	if _, err := repo.CreateOAuthState(c.Request.Context(), h.db, login.State, login.Verifier, h.stateTTL); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not store login state")
		return
	}
	ok(c, http.StatusOK, LoginResponse{AuthURL: login.URL})
}

// Callback godoc
// @ID          oauthCallback
// @Summary     Finish the platform OAuth login
// @Description Consumes the stored state, exchanges the authorization code and caches the tokens for outbound delivery.
// @Tags        Auth
// @Produce     json
// @Param       code   query  string  true  "Authorization code"
// @Param       state  query  string  true  "State returned by /auth/login"
// @Param       error  query  string  false "Error reported by the authorization server"
// @Success     200  {object}  handlers.CallbackResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     502  {object}  handlers.ErrorResponse  "Token endpoint unavailable"
// @Router      /auth/callback [get]
func (h *AuthHandler) Callback(c *gin.Context) {
	ctx := c.Request.Context()
	lg := middleware.LoggerFrom(c)

	if e := strings.TrimSpace(c.Query("error")); e != "" {
		fail(c, http.StatusBadRequest, ErrCodeOAuthDenied, "authorization failed: "+e)
		return
	}
	code := strings.TrimSpace(c.Query("code"))
	state := strings.TrimSpace(c.Query("state"))
	if code == "" || state == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "missing code or state parameter")
		return
	}

	pending, err := repo.ConsumeOAuthState(ctx, h.db, state, h.now().UTC())
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusBadRequest, ErrCodeInvalidState, "unknown or expired state")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load login state")
		return
	}

	tok, err := h.flow.Exchange(ctx, code, pending.Verifier)
	if err != nil {
		lg.Warn().Err(err).Msg("oauth code exchange failed")
		fail(c, tokenErrorStatus(err), ErrCodeTokenExchange, "token exchange failed")
		return
	}
	h.tokens.Seed(tok)

	var profile map[string]any
	if h.profiles != nil {
		if profile, err = h.profiles.Profile(ctx, tok.AccessToken); err != nil {
			lg.Warn().Err(err).Msg("profile lookup failed after login")
			profile = nil
		}
	}

	lg.Info().Time("expires_at", tok.Expiry).Bool("has_refresh", tok.RefreshToken != "").Msg("platform login completed")
	ok(c, http.StatusOK, CallbackResponse{
		Status:  "success",
		Message: "Login successful",
		User:    profile,
		Tokens:  h.tokenInfo(tok),
	})
}

// Refresh godoc
// @ID          oauthRefresh
// @Summary     Refresh the platform access token
// @Tags        Auth
// @Produce     json
// @Param       refresh_token  query  string  true  "Refresh token"
// @Success     200  {object}  handlers.RefreshResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Router      /auth/refresh [get]
func (h *AuthHandler) Refresh(c *gin.Context) {
	rt := strings.TrimSpace(c.Query("refresh_token"))
	if rt == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "missing refresh_token parameter")
		return
	}
	tok, err := h.flow.Refresh(c.Request.Context(), rt)
	if err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("oauth refresh failed")
		fail(c, http.StatusBadRequest, ErrCodeTokenRefresh, "token refresh failed")
		return
	}
	h.tokens.Seed(tok)
	ok(c, http.StatusOK, RefreshResponse{Status: "success", Tokens: h.tokenInfo(tok)})
}

func (h *AuthHandler) tokenInfo(t *oauth2.Token) TokenInfo {
	info := TokenInfo{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken}
	if !t.Expiry.IsZero() {
		if secs := int64(t.Expiry.Sub(h.now()).Seconds()); secs > 0 {
			info.ExpiresIn = secs
		}
	}
	return info
}

// tokenErrorStatus maps a rejected grant to 400 and transport failures to 502.
func tokenErrorStatus(err error) int {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return http.StatusBadRequest
	}
	if errors.Is(err, platform.ErrOAuthNotConfigured) {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}
