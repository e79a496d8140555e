package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("gateway")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("request sent", KeyEndpoint, "core/check")

	out := buf.String()
	if strings.Contains(out, `msg="INFO request`) {
		t.Fatalf("unexpected nested severity prefix in message: %s", out)
	}
	if !strings.Contains(out, `msg="request sent"`) {
		t.Fatalf("expected plain message, got: %s", out)
	}
	if !strings.Contains(out, "component=gateway") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "endpoint=core/check") {
		t.Fatalf("expected endpoint field, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("negotiator")

	var buf bytes.Buffer
	Init("text", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn log should be emitted: %s", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Init("json", "info", &buf)
	t.Cleanup(func() { Init("text", "info", nil) })

	L("migrate").Info("batch applied", "batch", 3)

	out := buf.String()
	if !strings.Contains(out, `"component":"migrate"`) {
		t.Fatalf("expected JSON component field, got: %s", out)
	}
	if !strings.Contains(out, `"batch":3`) {
		t.Fatalf("expected JSON batch field, got: %s", out)
	}
}

func TestReinitSwitchesBetweenFormats(t *testing.T) {
	logger := L("gateway")

	var text bytes.Buffer
	Init("text", "info", &text)
	logger.Info("as text")

	var json bytes.Buffer
	Init("json", "info", &json)
	logger.Info("as json")

	var textAgain bytes.Buffer
	Init("text", "info", &textAgain)
	logger.Info("as text again")

	if !strings.Contains(text.String(), "msg=") {
		t.Fatalf("expected text output, got: %s", text.String())
	}
	if !strings.Contains(json.String(), `"msg":"as json"`) {
		t.Fatalf("expected JSON output, got: %s", json.String())
	}
	if !strings.Contains(textAgain.String(), "msg=") {
		t.Fatalf("expected text output after switching back, got: %s", textAgain.String())
	}
}

func TestWithUnitAttachesCode(t *testing.T) {
	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger := WithUnit(L("migrate"), "acme/blog")
	logger.Info("migration recorded")

	out := buf.String()
	if !strings.Contains(out, "unit=acme/blog") {
		t.Fatalf("expected unit field, got: %s", out)
	}
	if !strings.Contains(out, "component=migrate") {
		t.Fatalf("expected component field, got: %s", out)
	}
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	Init("text", "bogus", &buf)

	L("config").Debug("hidden")
	L("config").Info("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug log should be filtered at default level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("info log should be emitted: %s", out)
	}
}
