package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/judgment"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestReadLayersFromStdin(t *testing.T) {
	in := strings.NewReader(`[{"role":"system","content":"Be brief.","sequence_index":0},{"role":"user","content":"Hi","sequence_index":1}]`)
	layers, err := readLayers("-", in)
	if err != nil {
		t.Fatalf("readLayers: %v", err)
	}
	if len(layers) != 2 || layers[1].Role != judgment.RoleUser || layers[1].Index != 1 {
		t.Fatalf("unexpected layers: %+v", layers)
	}
	if _, err := readLayers("", strings.NewReader("{")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestReplayCommand(t *testing.T) {
	out, err := run(t, "replay", "--fixture", filepath.Join("..", "..", "internal", "replay", "testdata", "session.json"))
	if err != nil {
		t.Fatalf("replay: %v\n%s", err, out)
	}
	if !strings.Contains(out, "4 turns: 2 accept, 1 reject, 1 error") {
		t.Fatalf("missing summary:\n%s", out)
	}
}

func TestInspectEmptyStore(t *testing.T) {
	out, err := run(t, "inspect", "--db", filepath.Join(t.TempDir(), "empty.db"))
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if !strings.Contains(out, "no evaluations found") || !strings.Contains(out, "no sessions found") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestStartTracingExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := startTracing(&buf)
	if err != nil {
		t.Fatalf("startTracing: %v", err)
	}
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	_, span := otel.Tracer("ayni/test").Start(context.Background(), "circle.Round")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), `"circle.Round"`) {
		t.Fatalf("span not exported: %s", buf.String())
	}
}

func TestOpenTraceFileEmptyPathIsNoop(t *testing.T) {
	stop, err := openTraceFile("")
	if err != nil {
		t.Fatalf("openTraceFile: %v", err)
	}
	if err := stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
