package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(ClientMiddleware())
	r.GET("/whoami", func(c *gin.Context) {
		id, _ := GetClientID(c)
		c.String(http.StatusOK, id)
	})

	return r
}

func TestClientMiddleware_Header(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(ClientIDHeader, "tab-1234abcd")
	w := httptest.NewRecorder()

	newTestRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tab-1234abcd", w.Body.String())
}

func TestClientMiddleware_Query(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/whoami?client_id=browser_0001", nil)
	w := httptest.NewRecorder()

	newTestRouter().ServeHTTP(w, req)

	assert.Equal(t, "browser_0001", w.Body.String())
}

func TestClientMiddleware_FallsBackToAddress(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	w := httptest.NewRecorder()

	newTestRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ip-203-0-113-7", w.Body.String())
}

func TestClientMiddleware_RejectsInvalid(t *testing.T) {
	for _, id := range []string{"short", "has spaces in it", "../../etc/passwd", "lessonforge:other-client"} {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set(ClientIDHeader, id)
		w := httptest.NewRecorder()

		newTestRouter().ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code, id)
	}
}

func TestAddressID(t *testing.T) {
	assert.Equal(t, "ip-2001-db8--1", addressID("2001:db8::1"))
	assert.Equal(t, "ip-unknown", addressID(""))
}
