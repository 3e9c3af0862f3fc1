package log

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"off":     zerolog.Disabled,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestWithSessionTagsLogger(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Level: "debug", ServiceName: "shapy-edit", Output: &buf})

	ctx := WithSession(WithLogger(context.Background(), base), "7", "s-1", "")
	l := Ctx(ctx)
	l.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "7", entry[FieldSceneID])
	assert.Equal(t, "s-1", entry[FieldSessionID])
	assert.Equal(t, "shapy-edit", entry[FieldService])
	assert.NotContains(t, entry, FieldUserID)
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	logger := New(Config{Output: &buf})

	r := gin.New()
	r.Use(GinMiddleware(logger))
	r.GET("/ping", func(c *gin.Context) {
		c.Set(FieldUserID, "42")
		l := Ctx(c.Request.Context())
		l.Debug().Msg("inside")
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(headerRequestID, "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-1", w.Header().Get(headerRequestID))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "request completed", entry["message"])
	assert.Equal(t, "req-1", entry[FieldRequestID])
	assert.Equal(t, "42", entry[FieldUserID])
	assert.EqualValues(t, http.StatusNoContent, entry[FieldStatus])
}
