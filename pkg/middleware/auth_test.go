package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ICShapy/shapy/pkg/jwt"
)

func newRouter(t *testing.T) (*gin.Engine, *jwt.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m, err := jwt.NewManager("s3cret", time.Hour, "shapy")
	require.NoError(t, err)

	auth := NewAuthMiddleware(m)
	r := gin.New()
	r.GET("/optional", auth.OptionalAuth(), func(c *gin.Context) {
		c.String(http.StatusOK, "user=%s", GetUserID(c))
	})
	return r, m
}

func TestOptionalAuthCookie(t *testing.T) {
	r, m := newRouter(t)
	token, err := m.Issue("7")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/optional", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieKey, Value: token})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user=7", rec.Body.String())
}

func TestOptionalAuthAnonymous(t *testing.T) {
	r, _ := newRouter(t)

	for _, cookie := range []string{"", "garbage"} {
		req := httptest.NewRequest(http.MethodGet, "/optional", nil)
		if cookie != "" {
			req.AddCookie(&http.Cookie{Name: SessionCookieKey, Value: cookie})
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "user=", rec.Body.String())
	}
}

func TestOptionalAuthBearer(t *testing.T) {
	r, m := newRouter(t)
	token, err := m.Issue("9")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/optional", nil)
	req.Header.Set(AuthHeaderKey, BearerPrefix+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "user=9", rec.Body.String())
}
