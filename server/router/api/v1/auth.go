package v1

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"
)

const (
	sessionCookieName = "issueradar_session"
	stateCookieName   = "issueradar_oauth_state"

	sessionMaxAge = 24 * time.Hour
	stateMaxAge   = 10 * time.Minute
	// userInfoTTL bounds how long /auth/me serves cached user info before
	// re-checking the token against the provider.
	userInfoTTL = 5 * time.Minute

	githubUserURL = "https://api.github.com/user"
)

// sessionClaims is the signed session cookie payload: the GitHub token plus
// a short-lived user info cache.
type sessionClaims struct {
	jwt.RegisteredClaims
	GitHubToken string `json:"github_token,omitempty"`
	Username    string `json:"username,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	UserInfoAt  int64  `json:"user_info_at,omitempty"`
}

// sessionManager signs and verifies the session cookie.
type sessionManager struct {
	secret []byte
}

func newSessionManager(secret string) *sessionManager {
	return &sessionManager{secret: []byte(secret)}
}

func (m *sessionManager) issue(c echo.Context, claims *sessionClaims) error {
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(sessionMaxAge))
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return err
	}
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// read returns the verified session, or nil when absent or invalid.
func (m *sessionManager) read(c echo.Context) *sessionClaims {
	cookie, err := c.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(cookie.Value, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil
	}
	return claims
}

func (m *sessionManager) clear(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *APIV1Service) oauthConfig(c echo.Context) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     s.Profile.GitHubClientID,
		ClientSecret: s.Profile.GitHubClientSecret,
		Endpoint:     oauthgithub.Endpoint,
		RedirectURL:  c.Scheme() + "://" + c.Request().Host + "/auth/github/callback",
	}
}

func (s *APIV1Service) handleGitHubLogin(c echo.Context) error {
	if s.Profile.GitHubClientID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "GitHub OAuth is not configured"})
	}

	state := uuid.NewString()
	c.SetCookie(&http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   int(stateMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return c.Redirect(http.StatusFound, s.oauthConfig(c).AuthCodeURL(state))
}

func (s *APIV1Service) handleGitHubCallback(c echo.Context) error {
	stateCookie, err := c.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || c.QueryParam("state") != stateCookie.Value {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "OAuth state mismatch"})
	}
	c.SetCookie(&http.Cookie{Name: stateCookieName, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})

	token, err := s.oauthConfig(c).Exchange(c.Request().Context(), c.QueryParam("code"))
	if err != nil || token.AccessToken == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Failed to obtain access token"})
	}

	if err := s.sessions.issue(c, &sessionClaims{GitHubToken: token.AccessToken}); err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Message: "failed to create session"})
	}
	return c.Redirect(http.StatusFound, "/")
}

// meResponse is the login-status body.
type meResponse struct {
	LoggedIn  bool   `json:"logged_in"`
	Username  string `json:"username,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

func (s *APIV1Service) handleMe(c echo.Context) error {
	session := s.sessions.read(c)
	if session == nil || session.GitHubToken == "" {
		return c.JSON(http.StatusOK, meResponse{})
	}

	if session.Username != "" && time.Since(time.Unix(session.UserInfoAt, 0)) < userInfoTTL {
		return c.JSON(http.StatusOK, meResponse{
			LoggedIn:  true,
			Username:  session.Username,
			AvatarURL: session.AvatarURL,
		})
	}

	req, err := http.NewRequestWithContext(c.Request().Context(), http.MethodGet, s.userInfoURL(), nil)
	if err != nil {
		return c.JSON(http.StatusOK, meResponse{})
	}
	req.Header.Set("Authorization", "Bearer "+session.GitHubToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return c.JSON(http.StatusOK, meResponse{})
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		s.sessions.clear(c)
		return c.JSON(http.StatusOK, meResponse{})
	}
	if resp.StatusCode != http.StatusOK {
		return c.JSON(http.StatusOK, meResponse{})
	}

	var user struct {
		Login     string `json:"login"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil || user.Login == "" {
		return c.JSON(http.StatusOK, meResponse{})
	}

	session.Username = user.Login
	session.AvatarURL = user.AvatarURL
	session.UserInfoAt = time.Now().Unix()
	if err := s.sessions.issue(c, session); err != nil {
		return c.JSON(http.StatusOK, meResponse{})
	}
	return c.JSON(http.StatusOK, meResponse{
		LoggedIn:  true,
		Username:  user.Login,
		AvatarURL: user.AvatarURL,
	})
}

func (s *APIV1Service) userInfoURL() string {
	if s.userAPIBase != "" {
		return s.userAPIBase
	}
	return githubUserURL
}

func (s *APIV1Service) handleLogout(c echo.Context) error {
	s.sessions.clear(c)
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}
