package metrics

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(nil) })
	return &buf
}

func TestNew_FunctionNameDimension(t *testing.T) {
	fnOnce.Do(func() {})
	old := fnName
	fnName = "claim-lambda"
	defer func() { fnName = old }()

	r := New(Namespace)
	if r.dimensions["FunctionName"] != "claim-lambda" {
		t.Errorf("expected FunctionName dimension, got %q", r.dimensions["FunctionName"])
	}
}

func TestRecorder_FlushOutput(t *testing.T) {
	buf := captureOutput(t)
	fnOnce.Do(func() {})
	fnName = ""

	Claims().
		Dimension("Outcome", "completed").
		Duration("AnalysisLatencyMs", 1500*time.Millisecond).
		Metric("PartCount", 3, UnitCount).
		Property("sessionId", "abc-123").
		Flush()

	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("failed to parse EMF output: %v\n%s", err, buf.String())
	}

	aws, ok := doc["_aws"].(map[string]any)
	if !ok {
		t.Fatal("missing _aws directive")
	}
	if _, ok := aws["Timestamp"]; !ok {
		t.Error("missing Timestamp")
	}
	cw := aws["CloudWatchMetrics"].([]any)[0].(map[string]any)
	if cw["Namespace"] != Namespace {
		t.Errorf("Namespace = %v", cw["Namespace"])
	}
	defs := cw["Metrics"].([]any)
	if len(defs) != 2 || defs[0].(map[string]any)["Name"] != "AnalysisLatencyMs" {
		t.Errorf("metric definitions not sorted: %v", defs)
	}

	if doc["Outcome"] != "completed" {
		t.Errorf("Outcome = %v", doc["Outcome"])
	}
	if doc["AnalysisLatencyMs"] != float64(1500) {
		t.Errorf("AnalysisLatencyMs = %v", doc["AnalysisLatencyMs"])
	}
	if doc["PartCount"] != float64(3) {
		t.Errorf("PartCount = %v", doc["PartCount"])
	}
	if doc["sessionId"] != "abc-123" {
		t.Errorf("sessionId = %v", doc["sessionId"])
	}
	if !bytes.HasSuffix(buf.Bytes(), []byte("\n")) || bytes.Count(buf.Bytes(), []byte("\n")) != 1 {
		t.Error("EMF document must be exactly one line")
	}
}

func TestRecorder_FlushEmpty(t *testing.T) {
	buf := captureOutput(t)
	New("Test").Dimension("Op", "noop").Flush()
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %s", buf.String())
	}
}

func TestRecorder_Count(t *testing.T) {
	rec := New("Test").Count("Errors")
	if rec.values["Errors"] != 1 {
		t.Errorf("Errors = %v", rec.values["Errors"])
	}
	if rec.metrics["Errors"].Unit != UnitCount {
		t.Errorf("unit = %v", rec.metrics["Errors"].Unit)
	}
}
