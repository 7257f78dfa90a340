package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nfcunha/vpsmanager/core/auth"
	"nfcunha/vpsmanager/core/models"
	"nfcunha/vpsmanager/utils/apperr"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuthenticator struct {
	err error
}

func (f *fakeAuthenticator) Login(ctx context.Context, username, password string) (*models.User, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	if username != "root" || password != "secret" {
		return nil, "", &apperr.UnauthorizedError{Reason: "invalid credentials"}
	}
	return &models.User{ID: "u1", Username: "root", Name: "Root", Role: "ADMIN"}, "signed-token", nil
}

func setupAuthRouter(a Authenticator) *gin.Engine {
	h := NewAuthHandler(a, CookieConfig{Name: "auth_token"})
	r := newRouter(nil)
	r.POST("/api/auth/login", h.Login)
	r.POST("/api/auth/logout", h.Logout)
	return r
}

func TestLogin_SetsCookie(t *testing.T) {
	r := setupAuthRouter(&fakeAuthenticator{})

	w := perform(t, r, http.MethodPost, "/api/auth/login", gin.H{"username": "root", "password": "secret"})
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[struct {
		Success bool              `json:"success"`
		User    map[string]string `json:"user"`
	}](t, w)
	assert.True(t, body.Success)
	assert.Equal(t, map[string]string{"id": "u1", "username": "root", "name": "Root", "role": "ADMIN"}, body.User)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	cookie := cookies[0]
	assert.Equal(t, "auth_token", cookie.Name)
	assert.Equal(t, "signed-token", cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, int((24 * time.Hour).Seconds()), cookie.MaxAge)
	assert.Equal(t, "/", cookie.Path)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	r := setupAuthRouter(&fakeAuthenticator{})

	w := perform(t, r, http.MethodPost, "/api/auth/login", gin.H{"username": "root", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid credentials", decode[map[string]string](t, w)["error"])
	assert.Empty(t, w.Result().Cookies())
}

func TestLogin_BadRequestAndStoreFailure(t *testing.T) {
	r := setupAuthRouter(&fakeAuthenticator{})
	w := perform(t, r, http.MethodPost, "/api/auth/login", gin.H{"username": "root"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	r = setupAuthRouter(&fakeAuthenticator{err: errors.New("database is locked")})
	w = perform(t, r, http.MethodPost, "/api/auth/login", gin.H{"username": "root", "password": "secret"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestLogout_ClearsCookie(t *testing.T) {
	r := setupAuthRouter(&fakeAuthenticator{})

	w := perform(t, r, http.MethodPost, "/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "auth_token", cookies[0].Name)
	assert.Empty(t, cookies[0].Value)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestRequireAuth(t *testing.T) {
	issuer := auth.NewIssuer("test-secret", time.Hour)
	token, err := issuer.Issue("u1", "root", "ADMIN")
	require.NoError(t, err)

	h := NewAuthHandler(&fakeAuthenticator{}, CookieConfig{})
	r := gin.New()
	r.GET("/api/auth/me", RequireAuth(issuer, "auth_token"), h.Me)

	tests := []struct {
		name    string
		prepare func(r *http.Request)
		want    int
	}{
		{"missing", func(r *http.Request) {}, http.StatusUnauthorized},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "auth_token", Value: token}) }, http.StatusOK},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusOK},
		{"garbage", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
		{"wrong scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic "+token) }, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			tt.prepare(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				body := decode[map[string]string](t, w)
				assert.Equal(t, "root", body["username"])
				assert.Equal(t, "ADMIN", body["role"])
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer abc"))
	assert.Empty(t, bearerToken("Bearer "))
	assert.Empty(t, bearerToken("Token abc"))
	assert.Empty(t, bearerToken(""))
}
