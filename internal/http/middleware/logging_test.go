package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("reuses the caller's header", func(t *testing.T) {
		r := gin.New()
		r.Use(RequestID())
		var seen string
		r.POST("/hook", func(c *gin.Context) {
			v, _ := c.Get(requestIDKey)
			seen = asString(v)
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/hook", nil)
		req.Header.Set("X-Request-ID", "twilio-retry-7")
		r.ServeHTTP(w, req)

		if seen != "twilio-retry-7" || w.Header().Get("X-Request-ID") != "twilio-retry-7" {
			t.Fatalf("seen=%q header=%q", seen, w.Header().Get("X-Request-ID"))
		}
	})

	t.Run("generates a uuid otherwise", func(t *testing.T) {
		r := gin.New()
		r.Use(RequestID())
		r.POST("/hook", func(c *gin.Context) { c.Status(http.StatusOK) })

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/hook", nil))

		rid := w.Header().Get("X-Request-ID")
		if _, err := uuid.Parse(rid); err != nil {
			t.Fatalf("X-Request-ID %q is not a uuid: %v", rid, err)
		}
	})
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("panic becomes a json 500", func(t *testing.T) {
		r := gin.New()
		r.Use(RequestID(), Recovery())
		r.POST("/hook", func(c *gin.Context) { panic("boom") })

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/hook", nil)
		req.Header.Set("X-Request-ID", "rid-panic")
		r.ServeHTTP(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("status=%d", w.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("body %q: %v", w.Body.String(), err)
		}
		if body["code"] != "internal_error" || body["request_id"] != "rid-panic" {
			t.Fatalf("body = %v", body)
		}
	})

	t.Run("no envelope after a partial write", func(t *testing.T) {
		r := gin.New()
		r.Use(Recovery())
		r.POST("/hook", func(c *gin.Context) {
			c.String(http.StatusOK, "partial")
			panic("late")
		})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/hook", nil))
		if w.Body.String() != "partial" {
			t.Fatalf("body = %q", w.Body.String())
		}
	})
}

func TestLoggerFrom(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("fallback when nothing attached", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		if lg := LoggerFrom(c); lg == nil {
			t.Fatal("nil logger")
		}
	})

	t.Run("returns the attached logger", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		want := zerolog.Nop()
		c.Set(loggerKey, &want)
		if got := LoggerFrom(c); got != &want {
			t.Fatal("did not return the attached logger")
		}
	})

	t.Run("redacting logger attaches one", func(t *testing.T) {
		r := gin.New()
		r.Use(RequestID(), RedactingLogger(RedactOptions{}))
		var attached bool
		r.POST("/hook", func(c *gin.Context) {
			_, attached = c.Get(loggerKey)
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/hook", nil))
		if !attached {
			t.Fatal("no request-scoped logger in context")
		}
	})
}

func TestAsString(t *testing.T) {
	if asString("x") != "x" || asString(nil) != "" || asString(42) != "" {
		t.Fatal("asString type narrowing broken")
	}
}
