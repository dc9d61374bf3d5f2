package xeslog

import (
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"feddfg"
)

const sampleXES = `<?xml version="1.0" encoding="UTF-8"?>
<log xes.version="1.0">
  <trace>
    <string key="concept:name" value="case-1"/>
    <event>
      <string key="concept:name" value="b"/>
      <date key="time:timestamp" value="2024-01-01T10:05:00Z"/>
    </event>
    <event>
      <string key="concept:name" value="a"/>
      <date key="time:timestamp" value="2024-01-01T10:00:00Z"/>
    </event>
    <event>
      <string key="lifecycle:transition" value="complete"/>
    </event>
  </trace>
  <trace>
    <event>
      <string key="concept:name" value="a"/>
      <date key="time:timestamp" value="2024-01-02T09:00:00Z"/>
    </event>
  </trace>
  <trace>
    <string key="concept:name" value="empty"/>
    <event>
      <string key="lifecycle:transition" value="start"/>
    </event>
  </trace>
</log>`

func TestParse(t *testing.T) {
	log, err := Parse(strings.NewReader(sampleXES))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	// The third trace holds no named events and is dropped.
	if len(log.Traces) != 2 {
		t.Fatalf("Parse() kept %d traces, want 2", len(log.Traces))
	}

	first := log.Traces[0]
	if first.ID != "case-1" {
		t.Errorf("trace ID = %q, want case-1", first.ID)
	}
	// Events come back in timestamp order, the unnamed one is gone.
	want := []string{"a", "b"}
	got := make([]string, len(first.Events))
	for i, ev := range first.Events {
		got[i] = ev.Activity
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("first trace events = %v, want %v", got, want)
	}

	// A trace without a concept:name gets a positional fallback.
	if log.Traces[1].ID != "trace-1" {
		t.Errorf("fallback trace ID = %q, want trace-1", log.Traces[1].ID)
	}
}

func TestParseBadTimestamp(t *testing.T) {
	const doc = `<log><trace><event>
		<string key="concept:name" value="a"/>
		<date key="time:timestamp" value="yesterday"/>
	</event></trace></log>`

	if _, err := Parse(strings.NewReader(doc)); err == nil {
		t.Errorf("Parse() accepted a malformed timestamp")
	}
}

func TestParseEmptyLog(t *testing.T) {
	log, err := Parse(strings.NewReader(`<log/>`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(log.Traces) != 0 {
		t.Errorf("Parse() of an empty log kept %d traces", len(log.Traces))
	}
}

func TestImport(t *testing.T) {
	dir := t.TempDir()

	plain := filepath.Join(dir, "log.xes")
	if err := os.WriteFile(plain, []byte(sampleXES), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	var gzBuf bytes.Buffer
	gz := gzip.NewWriter(&gzBuf)
	if _, err := gz.Write([]byte(sampleXES)); err != nil {
		t.Fatalf("compressing fixture: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("compressing fixture: %v", err)
	}
	zipped := filepath.Join(dir, "log.xes.gz")
	if err := os.WriteFile(zipped, gzBuf.Bytes(), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	for _, path := range []string{plain, zipped} {
		log, err := Import(path)
		if err != nil {
			t.Fatalf("Import(%s) error = %v", path, err)
		}
		if len(log.Traces) != 2 {
			t.Errorf("Import(%s) kept %d traces, want 2", path, len(log.Traces))
		}
	}

	if _, err := Import(filepath.Join(dir, "missing.xes")); err == nil {
		t.Errorf("Import() of a missing file succeeded")
	}
}

func TestFrequencies(t *testing.T) {
	log := &Log{Traces: []Trace{
		{ID: "t1", Events: []Event{{Activity: "a"}, {Activity: "b"}}},
		{ID: "t2", Events: []Event{{Activity: "a"}, {Activity: "b"}}},
		{ID: "t3", Events: []Event{{Activity: "b"}}},
	}}

	want := feddfg.FrequencyTable{
		{From: feddfg.VirtualStart, To: "a"}: 2,
		{From: "a", To: "b"}:                 2,
		{From: "b", To: feddfg.VirtualEnd}:   3,
		{From: feddfg.VirtualStart, To: "b"}: 1,
	}

	got := log.Frequencies()
	if !feddfg.GlobalFrequencyTable(want).Equal(feddfg.GlobalFrequencyTable(got)) {
		t.Errorf("Frequencies() = %v, want %v", got, want)
	}
}

func TestWriteXESRoundTrip(t *testing.T) {
	log := GenTestLog(5, 4, 6)

	var buf bytes.Buffer
	if err := log.WriteXES(&buf); err != nil {
		t.Fatalf("WriteXES() error = %v", err)
	}

	back, err := Parse(&buf)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if len(back.Traces) != len(log.Traces) {
		t.Fatalf("round trip kept %d traces, want %d", len(back.Traces), len(log.Traces))
	}
	for i := range log.Traces {
		if back.Traces[i].ID != log.Traces[i].ID {
			t.Errorf("trace %d ID = %q, want %q", i, back.Traces[i].ID, log.Traces[i].ID)
		}
	}
	if !reflect.DeepEqual(back.Sequences(), log.Sequences()) {
		t.Errorf("round trip changed the sequences:\n got:  %v\n want: %v", back.Sequences(), log.Sequences())
	}
}

func TestGenTestLog(t *testing.T) {
	log := GenTestLog(20, 5, 8)

	if len(log.Traces) != 20 {
		t.Fatalf("GenTestLog() produced %d traces, want 20", len(log.Traces))
	}

	vocab := make(map[string]bool)
	ids := make(map[string]bool)
	for _, tr := range log.Traces {
		if len(tr.Events) < 1 || len(tr.Events) > 8 {
			t.Errorf("trace %s has %d events, want 1..8", tr.ID, len(tr.Events))
		}
		if ids[tr.ID] {
			t.Errorf("duplicate trace ID %q", tr.ID)
		}
		ids[tr.ID] = true
		for _, ev := range tr.Events {
			vocab[ev.Activity] = true
		}
	}
	if len(vocab) > 5 {
		t.Errorf("vocabulary has %d activities, want at most 5", len(vocab))
	}

	if len(log.Frequencies()) == 0 {
		t.Errorf("generated log counts no pairs")
	}
}
