package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"thumbnail-service/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithAttachesContextIDs(t *testing.T) {
	var buf bytes.Buffer
	base := newWithWriter(config.LogConfig{Level: "debug", Format: "json"}, false, &buf)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithOwnerID(ctx, "user-1")
	ctx = WithJobID(ctx, "job-1")
	With(ctx, base).Info().Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "trace-1", line["trace_id"])
	assert.Equal(t, "user-1", line["owner_id"])
	assert.Equal(t, "job-1", line["job_id"])
	assert.Equal(t, "trace-1", TraceID(ctx))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	base := newWithWriter(config.LogConfig{Level: "warn", Format: "json"}, false, &buf)
	base.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	Component(base, "router").Warn().Msg("kept")
	assert.Contains(t, buf.String(), `"component":"router"`)
}
