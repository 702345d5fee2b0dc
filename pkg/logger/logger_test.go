package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/pricewatch/server/internal/core"
)

func TestProductionLogsJSONAtInfo(t *testing.T) {
	var buf bytes.Buffer
	Init(LoggerOpts{Environment: core.Production, Output: &buf})
	defer Init(LoggerOpts{Environment: core.Testing})

	Debug().Msg("hidden")
	Info().Str("run_id", "r1").Msg("run started")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("want one line, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["message"] != "run started" || rec["run_id"] != "r1" || rec["level"] != "info" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestLevelOverride(t *testing.T) {
	var buf bytes.Buffer
	Init(LoggerOpts{Environment: core.Development, Level: "WARN", Output: &buf})
	defer Init(LoggerOpts{Environment: core.Testing})

	Info().Msg("quiet")
	Warn().Msg("loud")

	if out := buf.String(); strings.Contains(out, "quiet") || !strings.Contains(out, "loud") {
		t.Fatalf("level override not applied: %q", out)
	}
}
