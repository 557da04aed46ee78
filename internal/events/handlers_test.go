package events

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestLogHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	handler := LogHandler(LogConfig{Writer: &buf})

	event := NewEvent(RunUpdated).WithRun(1)
	handler(event)

	output := buf.String()
	if !strings.Contains(output, "[run.updated]") {
		t.Errorf("expected output to contain [run.updated], got: %s", output)
	}
	if !strings.Contains(output, "run=1") {
		t.Errorf("expected output to contain run=1, got: %s", output)
	}
}

func TestLogHandler_DefaultWriter(t *testing.T) {
	// When Writer is nil, it should default to os.Stderr. We can't easily
	// assert on os.Stderr output, but we can verify no panic.
	handler := LogHandler(LogConfig{})
	handler(NewEvent(EvaluationNew))
}

func TestLogHandler_IncludePayload(t *testing.T) {
	var buf bytes.Buffer
	handler := LogHandler(LogConfig{
		Writer:         &buf,
		IncludePayload: true,
	})

	event := NewEvent(EvaluationUpdated).WithPayload(map[string]string{"key": "value"})
	handler(event)

	output := buf.String()
	if !strings.Contains(output, "payload=") {
		t.Errorf("expected output to contain payload=, got: %s", output)
	}
}

func TestLogHandler_OmitsPayloadByDefault(t *testing.T) {
	var buf bytes.Buffer
	handler := LogHandler(LogConfig{Writer: &buf})

	event := NewEvent(EvaluationUpdated).WithPayload(map[string]string{"key": "value"})
	handler(event)

	output := buf.String()
	if strings.Contains(output, "payload=") {
		t.Errorf("expected output to omit payload by default, got: %s", output)
	}
}

func TestLogHandler_BareEvent(t *testing.T) {
	var buf bytes.Buffer
	handler := LogHandler(LogConfig{Writer: &buf})

	handler(NewEvent(ActionNew))

	output := strings.TrimSpace(buf.String())
	if output != "[action.new]" {
		t.Errorf("expected output to be [action.new], got: %q", output)
	}
}

func TestLogHandler_WithError(t *testing.T) {
	var buf bytes.Buffer
	handler := LogHandler(LogConfig{Writer: &buf})

	event := NewEvent(BuildUpdated).WithBuild(9).WithError(errors.New("drv failed"))
	handler(event)

	output := buf.String()
	if !strings.Contains(output, "build=9") {
		t.Errorf("expected output to contain build=9, got: %s", output)
	}
	if !strings.Contains(output, "error=drv failed") {
		t.Errorf("expected output to contain error=drv failed, got: %s", output)
	}
}
