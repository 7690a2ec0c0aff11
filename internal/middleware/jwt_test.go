package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/studyroom-signaling/internal/middleware"
)

const secret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func router(mw gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.GET("/", mw, func(c *gin.Context) {
		c.String(http.StatusOK, "user=%s", middleware.UserID(c))
	})
	return r
}

func do(r http.Handler, target, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	r := router(middleware.JWTAuth(secret))
	token, err := middleware.SignToken("u1", "Ada", secret)
	require.NoError(t, err)

	t.Run("ValidToken", func(t *testing.T) {
		w := do(r, "/", "Bearer "+token)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "user=u1", w.Body.String())
	})

	t.Run("MissingHeader", func(t *testing.T) {
		w := do(r, "/", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "Authorization header required")
	})

	t.Run("QueryTokenNotAccepted", func(t *testing.T) {
		w := do(r, "/?token="+token, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("BadFormat", func(t *testing.T) {
		w := do(r, "/", "Token "+token)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid authorization header format")
	})

	t.Run("WrongSecret", func(t *testing.T) {
		other, err := middleware.SignToken("u1", "", "other-secret")
		require.NoError(t, err)
		w := do(r, "/", "Bearer "+other)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Expired", func(t *testing.T) {
		claims := middleware.JWTClaims{
			UserID: "u1",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			},
		}
		expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		w := do(r, "/", "Bearer "+expired)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("NoneAlgorithm", func(t *testing.T) {
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, middleware.JWTClaims{UserID: "u1"}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		w := do(r, "/", "Bearer "+unsigned)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("MissingUserID", func(t *testing.T) {
		empty, err := middleware.SignToken("", "", secret)
		require.NoError(t, err)
		w := do(r, "/", "Bearer "+empty)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestOptionalJWT(t *testing.T) {
	r := router(middleware.OptionalJWT(secret))
	token, err := middleware.SignToken("u2", "", secret)
	require.NoError(t, err)

	w := do(r, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user=", w.Body.String())

	w = do(r, "/?token="+token, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user=u2", w.Body.String())

	w = do(r, "/", "Bearer "+token)
	assert.Equal(t, "user=u2", w.Body.String())

	w = do(r, "/?token=garbage", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestParseToken(t *testing.T) {
	token, err := middleware.SignToken("u3", "Grace", secret)
	require.NoError(t, err)

	claims, err := middleware.ParseToken(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "u3", claims.UserID)
	assert.Equal(t, "Grace", claims.Name)

	_, err = middleware.ParseToken("not-a-token", secret)
	assert.ErrorIs(t, err, middleware.ErrInvalidToken)
}
