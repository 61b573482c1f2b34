package shared

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndGetTraceID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))

	withTrace := SetTraceID(ctx)
	traceID := GetTraceID(withTrace)
	assert.Len(t, traceID, TraceIDLength)
	_, err := hex.DecodeString(traceID)
	require.NoError(t, err)

	assert.Empty(t, GetTraceID(ctx), "parent context must stay unchanged")
}

func TestGetTraceIDWithInvalidContext(t *testing.T) {
	t.Parallel()
	ctx := context.WithValue(context.Background(), TraceIDKey, 123)
	assert.Empty(t, GetTraceID(ctx))
}

func TestGenerateTraceIDUniqueness(t *testing.T) {
	t.Parallel()
	const iterations = 1000
	seen := make(map[string]bool, iterations)
	for i := 0; i < iterations; i++ {
		id := generateTraceID()
		assert.False(t, seen[id], "duplicate trace ID %s", id)
		seen[id] = true
	}
}

func TestAdminSubject(t *testing.T) {
	t.Parallel()
	_, ok := GetAdminSubject(context.Background())
	assert.False(t, ok)

	subject, ok := GetAdminSubject(SetAdminSubject(context.Background(), "ops"))
	assert.True(t, ok)
	assert.Equal(t, "ops", subject)
}
