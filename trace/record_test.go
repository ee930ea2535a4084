package trace_test

import (
	"bytes"
	"strings"
	"testing"

	"github.jpl.nasa.gov/bdube/ivtrace/trace"
)

func TestPointRowFormat(t *testing.T) {
	p := trace.Point{
		Ch1: trace.PointChannel{VSet: 1, ILimit: 0.5, V: 0.9999, I: 0.1234, Limited: false},
		Ch2: trace.PointChannel{VSet: -2, ILimit: -1, V: -1.9998, I: -0.4, Limited: true}}
	row := p.Row()
	want := "1.0000 0.5000 0.9999 0.1234 0 -2.0000 -1.0000 -1.9998 -0.4000 1"
	if row != want {
		t.Errorf("row mismatch\n got %q\nwant %q", row, want)
	}
	if n := len(strings.Fields(row)); n != 10 {
		t.Errorf("expected 10 fields, got %d", n)
	}
}

func TestIdleSummaryRowMarked(t *testing.T) {
	s := trace.IdleSummary{VFixed: 1, IFixed: 0.25, VReg: 2.5, IReg: 0.1}
	row := s.Row()
	if !strings.HasPrefix(row, "# idle ") {
		t.Errorf("expected comment marker on idle summary, got %q", row)
	}
	if n := len(strings.Fields(row)); n != 6 {
		t.Errorf("expected marker plus 4 values, got %d fields", n)
	}
}

func TestWriterRecorder(t *testing.T) {
	buf := &bytes.Buffer{}
	rec := trace.NewWriterRecorder(buf)
	err := rec.WritePoint(trace.Point{})
	if err != nil {
		t.Fatal(err)
	}
	err = rec.WriteIdle(trace.IdleSummary{})
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[1], "#") {
		t.Errorf("expected idle summary line to be comment-marked, got %q", lines[1])
	}
}
