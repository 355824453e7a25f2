package progress

import (
	"bytes"
	"testing"
)

func TestCIReporter(t *testing.T) {
	var buf bytes.Buffer
	r := &CIReporter{Out: &buf, Description: "Warming cache"}
	r.Start(2)
	r.Update(1, "/servers")
	r.Update(2, "/settings")
	r.Finish()

	want := "Warming cache: 2 pages\n[1/2] /servers\n[2/2] /settings\nWarming cache: done\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestNewReporterInCI(t *testing.T) {
	t.Setenv("CI", "true")
	if _, ok := NewReporter("x").(*CIReporter); !ok {
		t.Error("expected CIReporter when CI is set")
	}
}
