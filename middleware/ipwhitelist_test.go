package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newWhitelistRouter(entries []string) *gin.Engine {
	r := gin.New()
	r.Use(IPWhitelist(entries))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func pingFrom(r *gin.Engine, ip string) int {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Real-IP", ip)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestIPWhitelist_Empty_AllowsAll(t *testing.T) {
	r := newWhitelistRouter(nil)
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "1.2.3.4:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIPWhitelist(t *testing.T) {
	r := newWhitelistRouter([]string{"192.168.1.1", " 10.0.0.0/24 ", "::1"})

	cases := map[string]int{
		"192.168.1.1": http.StatusOK,
		"192.168.1.2": http.StatusForbidden,
		"10.0.0.77":   http.StatusOK,
		"10.0.1.1":    http.StatusForbidden,
		"::1":         http.StatusOK,
	}
	for ip, want := range cases {
		assert.Equal(t, want, pingFrom(r, ip), ip)
	}
}

func TestIPWhitelist_MalformedEntriesMatchNothing(t *testing.T) {
	r := newWhitelistRouter([]string{"not-an-ip", "10.0.0.0/99"})
	assert.Equal(t, http.StatusForbidden, pingFrom(r, "10.0.0.1"))
}
