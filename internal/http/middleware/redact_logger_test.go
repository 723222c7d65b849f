package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRedact(t *testing.T) {
	cases := map[string]string{
		"": "",
		"id=3f2504e0-4f89-41d3-9a0c-0305e82c3301": "id=[REDACTED:id]",
		"mail=jay@example.com":                    "mail=[REDACTED:email]",
		"call 212-555-1212":                       "call [REDACTED:phone]",
		"code=abc&state=xyz&page=2":               "code=[REDACTED]&state=[REDACTED]&page=2",
		"refresh_token=r1":                        "refresh_token=[REDACTED]",
	}
	for in, want := range cases {
		if got := redact(in); got != want {
			t.Fatalf("redact(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestRedactingLogger_MasksHeadersAndLevels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), RedactingLogger(RedactOptions{
		MaskHeaders: []string{"X-Fanvue-Signature"},
		SkipPaths:   []string{"/health"},
	}))
	r.POST("/hook", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("inside")
		c.Status(http.StatusUnauthorized)
	})
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/hook?code=secret", nil)
	req.Header.Set("Authorization", "Bearer t0ken")
	req.Header.Set("X-Fanvue-Signature", "t=1,v0=abc")
	req.Header.Set(requestIDHeader, "rid-9")
	r.ServeHTTP(httptest.NewRecorder(), req)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	out := buf.String()
	for _, leaked := range []string{"t0ken", "v0=abc", "code=secret"} {
		if strings.Contains(out, leaked) {
			t.Fatalf("log leaked %q:\n%s", leaked, out)
		}
	}

	lines := logLines(t, buf)
	if len(lines) != 2 {
		t.Fatalf("want scoped line + access line (health skipped), got %d:\n%s", len(lines), out)
	}
	if lines[0]["message"] != "inside" || lines[0]["request_id"] != "rid-9" {
		t.Fatalf("scoped logger missing request fields: %v", lines[0])
	}
	access := lines[1]
	if access["level"] != "warn" || access["path"] != "/hook" || access["status"] != float64(401) {
		t.Fatalf("access line = %v", access)
	}
}

func TestRedactingLogger_ErrorLevelFor5xx(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RedactingLogger(RedactOptions{}))
	r.GET("/fail", func(c *gin.Context) { c.Status(http.StatusBadGateway) })
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fail", nil))

	lines := logLines(t, buf)
	if len(lines) != 1 || lines[0]["level"] != "error" {
		t.Fatalf("lines = %v", lines)
	}
}
