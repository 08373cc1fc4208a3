package tracing

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestInitNone(t *testing.T) {
	shutdown, err := Init("autotriage", "none", nil)
	require.NoError(t, err)
	defer shutdown(context.Background())

	_, span := StartSpan(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
}

func TestInitStdout(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init("autotriage", "stdout", &buf)
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "runner.plan", attribute.Int64("job.id", 7))
	EndSpan(span, errors.New("boom"))
	require.NoError(t, shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "runner.plan")
	assert.Contains(t, out, "boom")

	_, err = Init("autotriage", "none", nil)
	require.NoError(t, err)
}

func TestInitUnknown(t *testing.T) {
	_, err := Init("autotriage", "zipkin", nil)
	assert.ErrorContains(t, err, "unknown trace exporter")
}
