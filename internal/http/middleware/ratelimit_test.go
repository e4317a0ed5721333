package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func TestKeyByClientIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = req

	key := KeyByClientIP()(c)
	if !strings.HasPrefix(key, "ip:") || !strings.Contains(key, "203.0.113.9") {
		t.Fatalf("key = %q", key)
	}
}

func TestRateLimiter_BucketReuseAndBurstCoercion(t *testing.T) {
	rl := NewRateLimiter(2.0, 0, KeyByClientIP())
	if rl.burst != 1 {
		t.Fatalf("burst = %d, want coerced 1", rl.burst)
	}

	lim := rl.bucketFor("k1")
	if lim == nil {
		t.Fatal("no limiter created")
	}
	if got := rl.bucketFor("k1"); got != lim {
		t.Fatal("second lookup created a new bucket")
	}
}

func TestRateLimiter_IdleSweep(t *testing.T) {
	rl := NewRateLimiter(1.0, 1, KeyByClientIP())
	rl.ttl = time.Nanosecond

	rl.mu.Lock()
	rl.buckets["stale"] = &bucket{
		limiter:  rate.NewLimiter(1, 1),
		lastSeen: time.Now().Add(-time.Hour),
	}
	rl.lookups = 4999 // next lookup triggers the sweep
	rl.mu.Unlock()

	_ = rl.bucketFor("fresh")

	rl.mu.Lock()
	_, staleExists := rl.buckets["stale"]
	_, freshExists := rl.buckets["fresh"]
	rl.mu.Unlock()

	if staleExists {
		t.Fatal("stale bucket survived the sweep")
	}
	if !freshExists {
		t.Fatal("fresh bucket missing after sweep")
	}
}

func TestIsRateBypass(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	if IsRateBypass(c) {
		t.Fatal("bypass true by default")
	}
	c.Set(ctxKeyRateBypass, true)
	if !IsRateBypass(c) {
		t.Fatal("bypass mark ignored")
	}
	c.Set(ctxKeyRateBypass, "yes")
	if IsRateBypass(c) {
		t.Fatal("non-bool mark treated as true")
	}
}

func TestRateLimiter_Handler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl := NewRateLimiter(1.0, 1, KeyByClientIP())

	r := gin.New()
	r.Use(func(c *gin.Context) { c.Header("X-Request-ID", "rid-1"); c.Next() })
	r.Use(rl.Handler())
	r.GET("/admin/families", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, httptest.NewRequest(http.MethodGet, "/admin/families", nil))
	if w1.Code != http.StatusOK {
		t.Fatalf("first request: %d", w1.Code)
	}

	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/admin/families", nil))
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d", w2.Code)
	}
	if got := w2.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("Retry-After = %q", got)
	}
	var body map[string]any
	if err := json.Unmarshal(w2.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body["code"] != "too_many_requests" || body["request_id"] != "rid-1" {
		t.Fatalf("body = %v", body)
	}

	// Exhausted bucket, but the bypass mark still lets webhooks through.
	rBypass := gin.New()
	rBypass.Use(func(c *gin.Context) { c.Set(ctxKeyRateBypass, true); c.Next() })
	rBypass.Use(rl.Handler())
	rBypass.GET("/admin/families", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w3 := httptest.NewRecorder()
	rBypass.ServeHTTP(w3, httptest.NewRequest(http.MethodGet, "/admin/families", nil))
	if w3.Code != http.StatusOK {
		t.Fatalf("bypassed request: %d", w3.Code)
	}
}

func TestRateBypassForPrefixes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RateBypassForPrefixes("/webhooks/"))
	r.POST("/webhooks/twilio/sms", func(c *gin.Context) {
		if !IsRateBypass(c) {
			t.Errorf("webhook path should carry the bypass mark")
		}
		c.String(http.StatusOK, "ok")
	})
	r.GET("/admin/families", func(c *gin.Context) {
		if IsRateBypass(c) {
			t.Errorf("non-webhook path must not be bypassed")
		}
		c.String(http.StatusOK, "ok")
	})

	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, httptest.NewRequest(http.MethodPost, "/webhooks/twilio/sms", nil))
	if w1.Code != http.StatusOK {
		t.Fatalf("status = %d", w1.Code)
	}

	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/admin/families", nil))
	if w2.Code != http.StatusOK {
		t.Fatalf("status = %d", w2.Code)
	}
}
