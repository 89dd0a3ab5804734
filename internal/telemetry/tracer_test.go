package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitTracerExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	tp, err := InitTracer("catalog-test", "test", &buf, false)
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}

	_, span := otel.Tracer(ServiceName).Start(context.Background(), "handleListWorks")
	span.End()

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatal(err)
	}
	ShutdownTracer(context.Background())

	if !strings.Contains(buf.String(), "handleListWorks") {
		t.Errorf("exported spans missing handleListWorks: %s", buf.String())
	}
}
