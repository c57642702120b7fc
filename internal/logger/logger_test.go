package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestVerbosityFiltersLevels(t *testing.T) {
	var buf bytes.Buffer
	Configure("json", &buf)
	t.Cleanup(func() {
		Configure("console", nil)
		SetVerbosity(int(Info))
	})

	SetVerbosity(int(Info))
	Infof("event=visible n=%d", 1)
	Debugf("event=hidden")
	Warnf("event=warned")

	out := buf.String()
	if !strings.Contains(out, "event=visible n=1") {
		t.Fatalf("info message missing: %s", out)
	}
	if strings.Contains(out, "event=hidden") {
		t.Fatalf("debug message leaked at info verbosity: %s", out)
	}
	if !strings.Contains(out, `"level":"warn"`) {
		t.Fatalf("warn level not recorded: %s", out)
	}

	buf.Reset()
	SetVerbosity(int(Error))
	Infof("event=quiet")
	Errorf("event=boom")
	out = buf.String()
	if strings.Contains(out, "event=quiet") || !strings.Contains(out, "event=boom") {
		t.Fatalf("unexpected output at error verbosity: %s", out)
	}
}

func TestSetVerbosityClampsNegative(t *testing.T) {
	t.Cleanup(func() { SetVerbosity(int(Info)) })
	SetVerbosity(-3)
	if Verbosity() != Error {
		t.Fatalf("verbosity = %d, want %d", Verbosity(), Error)
	}
}
