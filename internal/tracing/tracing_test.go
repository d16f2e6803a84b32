package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartEnd_RecordsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	require.NoError(t, InitWithExporter("merchantops-test", "test", exporter))

	_, span := Start(context.Background(), "execute", map[string]string{"action_type": "refund.issue"})
	End(span, errors.New("boom"))

	spans := exporter.GetSpans()
	require.NotEmpty(t, spans)
	last := spans[len(spans)-1]
	assert.Equal(t, "execute", last.Name)
	assert.Equal(t, codes.Error, last.Status.Code)
}

func TestStart_WithoutAttributes(t *testing.T) {
	ctx, span := Start(context.Background(), "noop", nil)
	assert.NotNil(t, ctx)
	End(span, nil)
}
