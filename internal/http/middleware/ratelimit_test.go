package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestRateLimiter_BlocksAfterBurst(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), NewRateLimiter(0.0001, 2, nil).Handler())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests && w.Header().Get("Retry-After") != "1" {
			t.Fatal("missing Retry-After")
		}
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
}

func TestRateLimiter_ExemptRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewRateLimiter(0.0001, 1, KeyByIP()).Exempt("/webhooks/:platform").Handler())
	r.POST("/webhooks/:platform", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/fanvue", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d limited: %d", i, w.Code)
		}
	}
}

func TestRateLimiter_SeparateKeys(t *testing.T) {
	rl := NewRateLimiter(0.0001, 1, nil)
	if !rl.getVisitor("ip:a").Allow() || !rl.getVisitor("ip:b").Allow() {
		t.Fatal("independent keys must have independent buckets")
	}
	if rl.getVisitor("ip:a").Allow() {
		t.Fatal("ip:a should be exhausted")
	}
}

func TestRateLimiter_EvictsIdle(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	rl.ttl = time.Nanosecond
	rl.getVisitor("old")
	time.Sleep(time.Millisecond)

	rl.cleanupN = 4999
	rl.getVisitor("new")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.visitors["old"]; ok {
		t.Fatal("idle visitor not evicted")
	}
	if _, ok := rl.visitors["new"]; !ok {
		t.Fatal("requested visitor missing")
	}
}
