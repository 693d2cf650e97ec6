package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTenantRequiresHeader(t *testing.T) {
	r := gin.New()
	r.Use(Tenant())
	r.GET("/x", func(c *gin.Context) {
		c.String(http.StatusOK, TenantID(c))
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "MISSING_TENANT") {
		t.Fatalf("expected MISSING_TENANT, got %s", w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(TenantHeader, " t1 ")
	w = serve(r, req)
	if w.Code != http.StatusOK || w.Body.String() != "t1" {
		t.Fatalf("expected tenant t1, got %d %q", w.Code, w.Body.String())
	}
}

func TestRateLimitPerKey(t *testing.T) {
	r := gin.New()
	r.POST("/hook/:id", RateLimit(0.001, 2, ByParam("id")), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		if w := serve(r, httptest.NewRequest(http.MethodPost, "/hook/a", nil)); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}
	w := serve(r, httptest.NewRequest(http.MethodPost, "/hook/a", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w := serve(r, httptest.NewRequest(http.MethodPost, "/hook/b", nil)); w.Code != http.StatusOK {
		t.Fatalf("other key should not be limited, got %d", w.Code)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	r := gin.New()
	r.GET("/x", RateLimit(0, 1, ByParam("id")), func(c *gin.Context) { c.Status(http.StatusOK) })
	for i := 0; i < 5; i++ {
		if w := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil)); w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	}
}

func TestAdminKey(t *testing.T) {
	r := gin.New()
	r.GET("/x", AdminKey("secret"), func(c *gin.Context) { c.Status(http.StatusOK) })

	if w := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil)); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(AdminKeyHeader, "secret")
	if w := serve(r, req); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRequestIDEchoesOrGenerates(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	if got := w.Header().Get(RequestIDHeader); !strings.HasPrefix(got, "req_") {
		t.Fatalf("expected generated id, got %q", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "abc")
	w = serve(r, req)
	if got := w.Header().Get(RequestIDHeader); got != "abc" {
		t.Fatalf("expected echoed id, got %q", got)
	}
}
