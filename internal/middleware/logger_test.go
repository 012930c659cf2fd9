package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.ReleaseMode)

	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	server := gin.New()
	server.Use(RequestLogger(logger))
	server.GET("/ping", func(gctx *gin.Context) {
		zerolog.Ctx(gctx.Request.Context()).Info().Msg("inside handler")
		gctx.Status(http.StatusNoContent)
	})

	testCases := []struct {
		name      string
		requestID string
	}{
		{name: "GeneratedID"},
		{name: "ForwardedID", requestID: "req-42"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf.Reset()

			req, err := http.NewRequest(http.MethodGet, "/ping", nil)
			if err != nil {
				t.Fatalf("Creating request error: %v", err)
			}

			if tc.requestID != "" {
				req.Header.Set(RequestIDHeader, tc.requestID)
			}

			recorder := httptest.NewRecorder()
			server.ServeHTTP(recorder, req)

			got := recorder.Header().Get(RequestIDHeader)
			if got == "" {
				t.Fatalf("response has no %s header", RequestIDHeader)
			}

			if tc.requestID != "" && got != tc.requestID {
				t.Errorf("request id = %q, want %q", got, tc.requestID)
			}

			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			if len(lines) != 2 {
				t.Fatalf("got %d log lines, want 2: %s", len(lines), buf.String())
			}

			for _, line := range lines {
				if !strings.Contains(line, `"request_id":"`+got+`"`) {
					t.Errorf("log line %s misses request id %q", line, got)
				}
			}

			if !strings.Contains(lines[1], `"status_code":204`) {
				t.Errorf("access log %s misses status code", lines[1])
			}
		})
	}
}
