package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLoggerOutput(t *testing.T) {
	t.Run("structured json with fields", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(WithOutput(&buf))

		logger.Info("credential checked", "credential_id", "42", "ratio", 0.5)

		entry := decodeEntry(t, &buf)
		assert.Equal(t, "info", entry["level"])
		assert.Equal(t, "droidpool", entry["service"])
		assert.Equal(t, "credential checked", entry["message"])

		fields := entry["fields"].(map[string]interface{})
		assert.Equal(t, "42", fields["credential_id"])
		assert.Equal(t, 0.5, fields["ratio"])
	})

	t.Run("level filtering", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(WithOutput(&buf), WithLevel(LevelWarn))

		logger.Debug("hidden")
		logger.Info("hidden too")
		assert.Zero(t, buf.Len())

		logger.Warn("visible")
		assert.NotZero(t, buf.Len())
	})

	t.Run("correlation id from fields", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(WithOutput(&buf))

		logger.Info("with correlation", "correlation_id", "abc-123")

		entry := decodeEntry(t, &buf)
		assert.Equal(t, "abc-123", entry["correlation_id"])
	})

	t.Run("custom service name", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(WithOutput(&buf), WithService("other"))
		logger.Info("hi")
		entry := decodeEntry(t, &buf)
		assert.Equal(t, "other", entry["service"])
	})
}

func TestContextCorrelation(t *testing.T) {
	t.Run("correlation id round trip", func(t *testing.T) {
		ctx := WithCorrelationID(context.Background(), "cid-1")
		assert.Equal(t, "cid-1", GetCorrelationID(ctx))
	})

	t.Run("absent id reads empty", func(t *testing.T) {
		assert.Empty(t, GetCorrelationID(context.Background()))
	})

	t.Run("must get generates when absent", func(t *testing.T) {
		id := MustGetCorrelationID(context.Background())
		assert.NotEmpty(t, id)
	})

	t.Run("generated ids are unique", func(t *testing.T) {
		assert.NotEqual(t, GenerateCorrelationID(), GenerateCorrelationID())
	})

	t.Run("logging with context", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(WithOutput(&buf))
		ctx := WithCorrelationID(context.Background(), "cid-2")

		logger.InfoWithContext(ctx, "hello")

		entry := decodeEntry(t, &buf)
		assert.Equal(t, "cid-2", entry["correlation_id"])
	})
}
