// Package xeslog reads event logs in the XES interchange format and turns
// them into directly-follows frequency tables.
package xeslog

import (
	"bufio"
	"compress/gzip"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"feddfg"
)

const (
	conceptName   = "concept:name"
	timeTimestamp = "time:timestamp"
)

// Event is one observed process step.
type Event struct {
	Activity  string
	Timestamp time.Time
}

// Trace is the ordered event sequence of one case.
type Trace struct {
	ID     string
	Events []Event
}

// Log is a parsed event log.
type Log struct {
	Traces []Trace
}

type xesLog struct {
	XMLName xml.Name   `xml:"log"`
	Traces  []xesTrace `xml:"trace"`
}

type xesTrace struct {
	Strings []xesAttr  `xml:"string"`
	Events  []xesEvent `xml:"event"`
}

type xesEvent struct {
	Strings []xesAttr `xml:"string"`
	Dates   []xesAttr `xml:"date"`
}

type xesAttr struct {
	Key   string `xml:"key,attr"`
	Value string `xml:"value,attr"`
}

func attrValue(attrs []xesAttr, key string) string {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

// Parse reads one XES document. Events are ordered by their timestamp,
// ties and missing timestamps keeping document order; events without an
// activity name and traces without events are dropped.
func Parse(r io.Reader) (*Log, error) {
	var doc xesLog
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing xes: %w", err)
	}

	log := &Log{Traces: make([]Trace, 0, len(doc.Traces))}
	for i, xt := range doc.Traces {
		tr := Trace{ID: attrValue(xt.Strings, conceptName)}
		if tr.ID == "" {
			tr.ID = fmt.Sprintf("trace-%d", i)
		}
		for _, xe := range xt.Events {
			name := attrValue(xe.Strings, conceptName)
			if name == "" {
				continue
			}
			ev := Event{Activity: name}
			if raw := attrValue(xe.Dates, timeTimestamp); raw != "" {
				ts, err := time.Parse(time.RFC3339Nano, raw)
				if err != nil {
					return nil, fmt.Errorf("trace %s: bad timestamp %q: %w", tr.ID, raw, err)
				}
				ev.Timestamp = ts
			}
			tr.Events = append(tr.Events, ev)
		}
		if len(tr.Events) == 0 {
			continue
		}
		slices.SortStableFunc(tr.Events, func(a, b Event) int {
			return a.Timestamp.Compare(b.Timestamp)
		})
		log.Traces = append(log.Traces, tr)
	}
	return log, nil
}

// Import reads an XES file from disk, transparently ungzipping .xes.gz.
func Import(path string) (*Log, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		defer gz.Close()
		return Parse(gz)
	}
	return Parse(br)
}

// Sequences flattens the log into one activity sequence per trace.
func (l *Log) Sequences() [][]string {
	seqs := make([][]string, len(l.Traces))
	for i, tr := range l.Traces {
		seq := make([]string, len(tr.Events))
		for j, ev := range tr.Events {
			seq[j] = ev.Activity
		}
		seqs[i] = seq
	}
	return seqs
}

// Frequencies counts the directly-follows pairs of the whole log,
// including the virtual start and end observations of every trace.
func (l *Log) Frequencies() feddfg.FrequencyTable {
	return feddfg.CountTraces(l.Sequences())
}

// WriteXES serializes the log, timestamps in RFC3339.
func (l *Log) WriteXES(w io.Writer) error {
	doc := xesLog{Traces: make([]xesTrace, len(l.Traces))}
	for i, tr := range l.Traces {
		xt := xesTrace{Strings: []xesAttr{{Key: conceptName, Value: tr.ID}}}
		for _, ev := range tr.Events {
			xe := xesEvent{Strings: []xesAttr{{Key: conceptName, Value: ev.Activity}}}
			if !ev.Timestamp.IsZero() {
				xe.Dates = []xesAttr{{Key: timeTimestamp, Value: ev.Timestamp.Format(time.RFC3339Nano)}}
			}
			xt.Events = append(xt.Events, xe)
		}
		doc.Traces[i] = xt
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	return enc.Encode(doc)
}
