package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestEntry_JSONFields(t *testing.T) {
	l := New()
	var buf bytes.Buffer
	l.SetOutput(&buf)

	l.WithComponent("keeper").WithFields(Fields{"trigger_id": 7}).Info("executed")

	var got map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if got["component"] != "keeper" {
		t.Errorf("component = %v", got["component"])
	}
	if got["message"] != "executed" {
		t.Errorf("message = %v", got["message"])
	}
	if got["trigger_id"] != float64(7) {
		t.Errorf("trigger_id = %v", got["trigger_id"])
	}
	if _, ok := got["timestamp"]; !ok {
		t.Errorf("timestamp key missing")
	}
}

func TestConfigure(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	l := New()

	if err := l.Configure("debug", "text", "stderr", 0); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if l.GetLevel() != logrus.DebugLevel {
		t.Errorf("level = %s, want debug", l.GetLevel())
	}

	if err := l.Configure("loud", "json", "stdout", 0); err == nil {
		t.Error("expected error for invalid level")
	}
	if err := l.Configure("info", "xml", "stdout", 0); err == nil {
		t.Error("expected error for invalid format")
	}

	path := filepath.Join(t.TempDir(), "keeper.log")
	if err := l.Configure("info", "json", path, 7); err != nil {
		t.Fatalf("Configure with file output failed: %v", err)
	}
}

func TestConfigure_EnvOverridesLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	l := New()

	if err := l.Configure("debug", "json", "stdout", 0); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if l.GetLevel() != logrus.WarnLevel {
		t.Errorf("level = %s, want warn", l.GetLevel())
	}
}
