package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubValidator map[string]*service.Claims

func (s stubValidator) ValidateToken(tok string) (*service.Claims, error) {
	if c, ok := s[tok]; ok {
		return c, nil
	}
	return nil, errors.New("bad token")
}

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequireUserJWT(t *testing.T) {
	auth := stubValidator{
		"good":  {TokenType: service.TokenTypeStudent, UserID: 7},
		"admin": {TokenType: service.TokenType("admin"), UserID: 1},
	}

	tests := []struct {
		name   string
		header string
		status int
		code   response.ErrCode
	}{
		{name: "missing", header: "", status: http.StatusUnauthorized, code: response.ErrTokenRequired},
		{name: "not bearer", header: "Basic good", status: http.StatusUnauthorized, code: response.ErrTokenRequired},
		{name: "invalid", header: "Bearer nope", status: http.StatusUnauthorized, code: response.ErrTokenInvalid},
		{name: "wrong token type", header: "Bearer admin", status: http.StatusUnauthorized, code: response.ErrTokenInvalid},
		{name: "valid", header: "bearer good", status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/", RequireUserJWT(auth), func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"user_id": GetClaims(c).UserID})
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.code != "" {
				var body response.Response
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				require.NotNil(t, body.Error)
				assert.Equal(t, tt.code, body.Error.Code)
			} else {
				assert.JSONEq(t, `{"user_id":7}`, w.Body.String())
			}
		})
	}
}

func TestRequireWSAuth_QueryThenHeader(t *testing.T) {
	auth := stubValidator{"good": {TokenType: service.TokenTypeStudent, UserID: 7}}
	r := gin.New()
	r.GET("/ws", RequireWSAuth(auth), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/ws?token=good", nil),
		func() *http.Request {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			req.Header.Set("Authorization", "Bearer good")
			return req
		}(),
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws?token=bad", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetClaims_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, GetClaims(c))
}
