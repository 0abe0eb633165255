package trace

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupehq/troupe/pkg/config"
)

func TestResolveName(t *testing.T) {
	vars := map[string]string{"chat_id": "c1", "role": "coordinator"}

	assert.Equal(t, "agent.run c1/coordinator",
		ResolveName("agent.run ${context.chat_id}/${context.role}", vars))
	assert.Equal(t, "static name", ResolveName("static name", vars))
	assert.Equal(t, "missing ", ResolveName("missing ${context.unknown}", vars))
}

func TestNilTracerIsSafe(t *testing.T) {
	var tr *Tracer

	ctx, span := tr.Start(context.Background(), "op ${context.x}", nil)
	assert.NotNil(t, ctx)
	span.End()

	tr.RecordError(span, errors.New("ignored"))
	assert.NoError(t, tr.Shutdown(context.Background()))
}

func TestNewDisabledReturnsNil(t *testing.T) {
	tr, err := New(context.Background(), config.TracingConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, tr)
}

func TestNewStdoutExporter(t *testing.T) {
	tr, err := New(context.Background(), config.TracingConfig{
		Enabled:     true,
		Exporter:    "stdout",
		ServiceName: "troupe-test",
		SampleRatio: 0.5,
	})
	require.NoError(t, err)
	require.NotNil(t, tr)
	t.Cleanup(func() { _ = tr.Shutdown(context.Background()) })

	ctx, span := tr.Start(context.Background(), "chat.run ${context.chat_id}", map[string]string{"chat_id": "c9"})
	assert.NotNil(t, ctx)
	span.End()
}

func TestNewUnknownExporter(t *testing.T) {
	_, err := New(context.Background(), config.TracingConfig{Enabled: true, Exporter: "jaeger"})
	assert.Error(t, err)
}
