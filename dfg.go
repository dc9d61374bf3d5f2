package feddfg

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
)

// Virtual activities framing every trace. They are counted like regular
// activities during extraction and folded into StartActivities/EndActivities
// when the final graph is assembled.
const (
	VirtualStart Activity = "start"
	VirtualEnd   Activity = "end"
)

// Activity is an opaque label naming one process step. Equality is exact-string.
type Activity string

// Pair is an ordered directly-follows observation: From was immediately
// followed by To in some trace.
type Pair struct {
	From Activity
	To   Activity
}

func (p Pair) String() string {
	return string(p.From) + " -> " + string(p.To)
}

// FrequencyTable maps each directly-follows pair to its local observation
// count. It is private to one organization and never leaves it in plaintext.
type FrequencyTable map[Pair]uint64

// GlobalFrequencyTable is the decrypted cross-organization sum, produced once
// per protocol run by the secret-key holder.
type GlobalFrequencyTable map[Pair]uint64

// PlaintextVector is a frequency table laid out positionally along a PairIndex.
type PlaintextVector []uint64

// CountTraces builds a frequency table from activity sequences, one per case.
// Every non-empty trace contributes a virtual start pair before its first
// activity and a virtual end pair after its last one. Empty traces are skipped.
func CountTraces(traces [][]string) FrequencyTable {
	ft := make(FrequencyTable)
	for _, trace := range traces {
		if len(trace) == 0 {
			continue
		}
		prev := VirtualStart
		for _, act := range trace {
			ft[Pair{From: prev, To: Activity(act)}]++
			prev = Activity(act)
		}
		ft[Pair{From: prev, To: VirtualEnd}]++
	}
	return ft
}

// Pairs returns the table's key set in no particular order.
func (t FrequencyTable) Pairs() []Pair {
	pairs := make([]Pair, 0, len(t))
	for p := range t {
		pairs = append(pairs, p)
	}
	return pairs
}

// MergeFrequencies is the plaintext reference aggregation: the slot-wise sum
// of both tables over the union of their pairs. The protocol result must
// match it exactly.
func MergeFrequencies(a, b FrequencyTable) GlobalFrequencyTable {
	merged := make(GlobalFrequencyTable, len(a)+len(b))
	for p, c := range a {
		merged[p] += c
	}
	for p, c := range b {
		merged[p] += c
	}
	return merged
}

// Equal checks both the pair sets and the counts.
func (g GlobalFrequencyTable) Equal(other GlobalFrequencyTable) bool {
	if len(g) != len(other) {
		return false
	}
	for p, c := range g {
		oc, exists := other[p]
		if !exists || oc != c {
			return false
		}
	}
	return true
}

// DFG is the directly-follows graph assembled from a global frequency table.
// Virtual start/end pairs are folded into StartActivities and EndActivities;
// every remaining pair with a positive count becomes an edge. Activity counts
// are the maximum of each node's ingoing and outgoing frequency mass.
type DFG struct {
	Activities      map[Activity]uint64
	Edges           map[Pair]uint64
	StartActivities map[Activity]uint64
	EndActivities   map[Activity]uint64
}

// NewDFG assembles the final graph. It is pure: the only failure mode of the
// surrounding pipeline (mismatched index/value lengths) is caught before the
// table reaches this point.
func NewDFG(g GlobalFrequencyTable) *DFG {
	d := &DFG{
		Activities:      make(map[Activity]uint64),
		Edges:           make(map[Pair]uint64),
		StartActivities: make(map[Activity]uint64),
		EndActivities:   make(map[Activity]uint64),
	}

	for p, c := range g {
		if c == 0 {
			continue
		}
		switch {
		case p.From == VirtualStart && p.To == VirtualEnd:
			// a filtered-out empty trace; nothing to record
		case p.From == VirtualStart:
			d.StartActivities[p.To] += c
		case p.To == VirtualEnd:
			d.EndActivities[p.From] += c
		default:
			d.Edges[p] += c
		}
	}

	in := make(map[Activity]uint64)
	out := make(map[Activity]uint64)
	for p, c := range d.Edges {
		out[p.From] += c
		in[p.To] += c
	}
	for a, c := range d.StartActivities {
		in[a] += c
	}
	for a, c := range d.EndActivities {
		out[a] += c
	}
	for a, c := range in {
		d.Activities[a] = c
	}
	for a, c := range out {
		d.Activities[a] = max(d.Activities[a], c)
	}

	return d
}

// Equal compares activities, edges and start/end sets.
func (d *DFG) Equal(other *DFG) bool {
	if len(d.Activities) != len(other.Activities) || len(d.Edges) != len(other.Edges) ||
		len(d.StartActivities) != len(other.StartActivities) || len(d.EndActivities) != len(other.EndActivities) {
		return false
	}
	for a, c := range d.Activities {
		if other.Activities[a] != c {
			return false
		}
	}
	for p, c := range d.Edges {
		if other.Edges[p] != c {
			return false
		}
	}
	for a, c := range d.StartActivities {
		if other.StartActivities[a] != c {
			return false
		}
	}
	for a, c := range d.EndActivities {
		if other.EndActivities[a] != c {
			return false
		}
	}
	return true
}

func (d *DFG) sortedEdges() []Pair {
	pairs := make([]Pair, 0, len(d.Edges))
	for p := range d.Edges {
		pairs = append(pairs, p)
	}
	slices.SortFunc(pairs, func(a, b Pair) int {
		if c := strings.Compare(string(a.From), string(b.From)); c != 0 {
			return c
		}
		return strings.Compare(string(a.To), string(b.To))
	})
	return pairs
}

type dfgEdgeJSON struct {
	From  Activity `json:"from"`
	To    Activity `json:"to"`
	Count uint64   `json:"count"`
}

type dfgJSON struct {
	Activities      map[Activity]uint64 `json:"activities"`
	Edges           []dfgEdgeJSON       `json:"edges"`
	StartActivities map[Activity]uint64 `json:"start_activities"`
	EndActivities   map[Activity]uint64 `json:"end_activities"`
}

// MarshalJSON writes the graph with a deterministic edge order so repeated
// runs produce byte-identical output files.
func (d *DFG) MarshalJSON() ([]byte, error) {
	out := dfgJSON{
		Activities:      d.Activities,
		Edges:           make([]dfgEdgeJSON, 0, len(d.Edges)),
		StartActivities: d.StartActivities,
		EndActivities:   d.EndActivities,
	}
	for _, p := range d.sortedEdges() {
		out.Edges = append(out.Edges, dfgEdgeJSON{From: p.From, To: p.To, Count: d.Edges[p]})
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a graph written by MarshalJSON.
func (d *DFG) UnmarshalJSON(data []byte) error {
	var in dfgJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	d.Activities = in.Activities
	d.StartActivities = in.StartActivities
	d.EndActivities = in.EndActivities
	if d.Activities == nil {
		d.Activities = make(map[Activity]uint64)
	}
	if d.StartActivities == nil {
		d.StartActivities = make(map[Activity]uint64)
	}
	if d.EndActivities == nil {
		d.EndActivities = make(map[Activity]uint64)
	}
	d.Edges = make(map[Pair]uint64, len(in.Edges))
	for _, e := range in.Edges {
		d.Edges[Pair{From: e.From, To: e.To}] += e.Count
	}
	return nil
}

// WriteDOT renders the graph in Graphviz dot syntax for an external renderer.
// Start and end activities are drawn as edges from/to two synthetic marker
// nodes.
func (d *DFG) WriteDOT(w io.Writer) error {
	var b strings.Builder
	b.WriteString("digraph dfg {\n")
	b.WriteString("\trankdir=LR;\n")
	b.WriteString("\tnode [shape=box];\n")

	acts := make([]Activity, 0, len(d.Activities))
	for a := range d.Activities {
		acts = append(acts, a)
	}
	slices.Sort(acts)
	for _, a := range acts {
		fmt.Fprintf(&b, "\t%q [label=%q];\n", a, fmt.Sprintf("%s (%d)", a, d.Activities[a]))
	}

	if len(d.StartActivities) > 0 {
		b.WriteString("\t\"__start\" [shape=circle, label=\"\"];\n")
	}
	if len(d.EndActivities) > 0 {
		b.WriteString("\t\"__end\" [shape=doublecircle, label=\"\"];\n")
	}

	starts := make([]Activity, 0, len(d.StartActivities))
	for a := range d.StartActivities {
		starts = append(starts, a)
	}
	slices.Sort(starts)
	for _, a := range starts {
		fmt.Fprintf(&b, "\t\"__start\" -> %q [label=\"%d\"];\n", a, d.StartActivities[a])
	}

	for _, p := range d.sortedEdges() {
		fmt.Fprintf(&b, "\t%q -> %q [label=\"%d\"];\n", p.From, p.To, d.Edges[p])
	}

	ends := make([]Activity, 0, len(d.EndActivities))
	for a := range d.EndActivities {
		ends = append(ends, a)
	}
	slices.Sort(ends)
	for _, a := range ends {
		fmt.Fprintf(&b, "\t%q -> \"__end\" [label=\"%d\"];\n", a, d.EndActivities[a])
	}

	b.WriteString("}\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func (d *DFG) String() string {
	return fmt.Sprintf("DFG(%d activities, %d edges, %d start, %d end)",
		len(d.Activities), len(d.Edges), len(d.StartActivities), len(d.EndActivities))
}

// GenTestFrequencyTables builds two synthetic local tables sharing
// sharedPairs directly-follows pairs, with nPairs pairs each in total.
func GenTestFrequencyTables(nPairs, sharedPairs int) (FrequencyTable, FrequencyTable) {
	a := make(FrequencyTable, nPairs)
	b := make(FrequencyTable, nPairs)
	for i := 0; i < sharedPairs; i++ {
		p := Pair{
			From: Activity(fmt.Sprintf("shared_%d", i)),
			To:   Activity(fmt.Sprintf("shared_%d", i+1)),
		}
		a[p] = uint64(i + 1)
		b[p] = uint64(2*i + 1)
	}
	for i := 0; i < nPairs-sharedPairs; i++ {
		a[Pair{
			From: Activity(fmt.Sprintf("orga_%d", i)),
			To:   Activity(fmt.Sprintf("orga_%d", i+1)),
		}] = uint64(i%97 + 1)
		b[Pair{
			From: Activity(fmt.Sprintf("orgb_%d", i)),
			To:   Activity(fmt.Sprintf("orgb_%d", i+1)),
		}] = uint64(i%89 + 1)
	}
	return a, b
}
