package feddfg

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// ErrReconciliation wraps every failure of the edge reconciliation phase.
var ErrReconciliation = errors.New("reconciliation failed")

// pairKeySep separates the two activities inside a pair encoding. It may
// not occur in activity names.
const pairKeySep = "\x1f"

func pairKey(p Pair) string {
	return string(p.From) + pairKeySep + string(p.To)
}

func validatePairs(pairs []Pair) error {
	for _, p := range pairs {
		if p.From == "" || p.To == "" {
			return fmt.Errorf("%w: empty activity name in pair %q", ErrReconciliation, p)
		}
		if strings.Contains(string(p.From), pairKeySep) || strings.Contains(string(p.To), pairKeySep) {
			return fmt.Errorf("%w: activity name in pair %q contains a reserved byte", ErrReconciliation, p)
		}
	}
	return nil
}

// sortPairs orders pairs by their canonical encoding so outgoing messages
// are independent of map iteration order.
func sortPairs(pairs []Pair) {
	slices.SortFunc(pairs, func(a, b Pair) int {
		return strings.Compare(pairKey(a), pairKey(b))
	})
}

// Blinder holds one party's ephemeral DH exponent for the pair set
// reconciliation. A fresh exponent is drawn per run and discarded with it.
type Blinder struct {
	sid []byte
	a   *Scalar
}

func NewBlinder(sid []byte) *Blinder {
	return &Blinder{sid: sid, a: RandomScalar()}
}

// NewSeededBlinder derives the exponent from seed instead of fresh
// randomness, for reproducible runs.
func NewSeededBlinder(sid, seed []byte) *Blinder {
	xof, err := blake2b.NewXOF(blake2b.OutputLengthUnknown, seed)
	if err != nil {
		panic(err)
	}
	return &Blinder{sid: sid, a: scalarFromReader(xof)}
}

// BlindPairs maps each pair to H(pair)^a. The output order matches the
// input order, which the peer relies on when returning the re-blinded set.
func (bl *Blinder) BlindPairs(pairs []Pair) ([]*Point, error) {
	if err := validatePairs(pairs); err != nil {
		return nil, err
	}
	points := make([]*Point, len(pairs))
	tasks := make(chan int, len(pairs))
	var wg sync.WaitGroup
	for range runtime.NumCPU() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range tasks {
				points[i] = HashToPoint([]byte(pairKey(pairs[i])), bl.sid).ScalarExp(bl.a)
			}
		}()
	}
	for i := range pairs {
		tasks <- i
	}
	close(tasks)
	wg.Wait()
	return points, nil
}

// ReblindPoints raises the peer's blinded points to this party's exponent,
// preserving order. After both parties have re-blinded, every pair is
// encoded as H(pair)^(ab) regardless of who contributed it, so equal pairs
// collide without either side seeing the other's plaintext.
func (bl *Blinder) ReblindPoints(points []*Point) []*Point {
	out := make([]*Point, len(points))
	tasks := make(chan int, len(points))
	var wg sync.WaitGroup
	for range runtime.NumCPU() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range tasks {
				out[i] = points[i].ScalarExp(bl.a)
			}
		}()
	}
	for i := range points {
		tasks <- i
	}
	close(tasks)
	wg.Wait()
	return out
}

// PairIndex is the canonical slot assignment both parties derive
// independently after reconciliation. Slots follow the lexicographic order
// of the slot keys: pair encodings in clear mode, double-blinded curve
// points in PSI mode. Both parties hold the same key set, so they agree on
// every slot without ever exchanging the assignment itself.
type PairIndex struct {
	keys   []string
	slotOf map[string]int
	pairs  map[Pair]int // pairs this party can label
	labels map[int]Pair // inverse of pairs, by slot
}

func newPairIndex(labeled map[string]Pair, unlabeled []string) *PairIndex {
	keys := make([]string, 0, len(labeled)+len(unlabeled))
	for k := range labeled {
		keys = append(keys, k)
	}
	seen := make(map[string]bool, len(unlabeled))
	for _, k := range unlabeled {
		if _, ok := labeled[k]; ok || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	slices.Sort(keys)

	ix := &PairIndex{
		keys:   keys,
		slotOf: make(map[string]int, len(keys)),
		pairs:  make(map[Pair]int, len(labeled)),
		labels: make(map[int]Pair, len(labeled)),
	}
	for i, k := range keys {
		ix.slotOf[k] = i
	}
	for k, p := range labeled {
		slot := ix.slotOf[k]
		ix.pairs[p] = slot
		ix.labels[slot] = p
	}
	return ix
}

// NewPairIndexClear builds the index from both parties' plaintext pair
// sets. Every slot is labeled.
func NewPairIndexClear(mine, theirs []Pair) (*PairIndex, error) {
	if err := validatePairs(mine); err != nil {
		return nil, err
	}
	if err := validatePairs(theirs); err != nil {
		return nil, err
	}
	labeled := make(map[string]Pair, len(mine)+len(theirs))
	for _, p := range mine {
		labeled[pairKey(p)] = p
	}
	for _, p := range theirs {
		labeled[pairKey(p)] = p
	}
	return newPairIndex(labeled, nil), nil
}

// NewPairIndexPSI builds the index from this party's own pairs with their
// double-blinded encodings plus the peer's double-blinded encodings. Only
// own pairs carry labels; foreign-only slots stay unlabeled until the
// result is published.
func NewPairIndexPSI(own []Pair, ownEnc, foreignEnc []*Point) (*PairIndex, error) {
	if len(own) != len(ownEnc) {
		return nil, fmt.Errorf("%w: %d pairs but %d blinded encodings", ErrReconciliation, len(own), len(ownEnc))
	}
	labeled := make(map[string]Pair, len(own))
	for i, p := range own {
		k, err := pointKey(ownEnc[i])
		if err != nil {
			return nil, err
		}
		labeled[k] = p
	}
	if len(labeled) != len(own) {
		return nil, fmt.Errorf("%w: blinded encodings collide", ErrReconciliation)
	}
	unlabeled := make([]string, len(foreignEnc))
	for i, pt := range foreignEnc {
		k, err := pointKey(pt)
		if err != nil {
			return nil, err
		}
		unlabeled[i] = k
	}
	return newPairIndex(labeled, unlabeled), nil
}

func pointKey(p *Point) (string, error) {
	b, err := p.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("%w: encoding blinded point: %v", ErrReconciliation, err)
	}
	return string(b), nil
}

// Len returns the number of slots.
func (ix *PairIndex) Len() int { return len(ix.keys) }

// Slot returns the slot assigned to one of this party's labeled pairs.
func (ix *PairIndex) Slot(p Pair) (int, bool) {
	s, ok := ix.pairs[p]
	return s, ok
}

// Label returns the pair occupying a slot, when this party knows it.
func (ix *PairIndex) Label(slot int) (Pair, bool) {
	p, ok := ix.labels[slot]
	return p, ok
}

// UnknownSlots lists the slots this party cannot label, in slot order.
func (ix *PairIndex) UnknownSlots() []int {
	var slots []int
	for i := range ix.keys {
		if _, ok := ix.labels[i]; !ok {
			slots = append(slots, i)
		}
	}
	return slots
}

// KnownLabels returns a copy of the slot labels this party holds.
func (ix *PairIndex) KnownLabels() map[int]Pair {
	out := make(map[int]Pair, len(ix.labels))
	for s, p := range ix.labels {
		out[s] = p
	}
	return out
}

// LearnLabels merges labels received from the peer. A conflicting label for
// an already known slot is a contract violation.
func (ix *PairIndex) LearnLabels(labels map[int]Pair) error {
	for slot, p := range labels {
		if slot < 0 || slot >= len(ix.keys) {
			return fmt.Errorf("%w: label for slot %d outside index of length %d", ErrReconciliation, slot, len(ix.keys))
		}
		if prev, ok := ix.labels[slot]; ok {
			if prev != p {
				return fmt.Errorf("%w: slot %d labeled %q here and %q by peer", ErrReconciliation, slot, prev, p)
			}
			continue
		}
		ix.labels[slot] = p
		ix.pairs[p] = slot
	}
	return nil
}

// Vector lays a frequency table out along the index. Slots for pairs the
// table does not contain stay zero.
func (ix *PairIndex) Vector(ft FrequencyTable) (PlaintextVector, error) {
	vec := make(PlaintextVector, len(ix.keys))
	for p, c := range ft {
		slot, ok := ix.pairs[p]
		if !ok {
			return nil, fmt.Errorf("%w: pair %q missing from the index", ErrReconciliation, p)
		}
		vec[slot] = c
	}
	return vec, nil
}

// Table converts a decrypted vector back into a frequency table. Every slot
// holding a nonzero count must be labeled by then; zero slots are dropped.
func (ix *PairIndex) Table(vec PlaintextVector) (GlobalFrequencyTable, error) {
	if len(vec) != len(ix.keys) {
		return nil, fmt.Errorf("%w: %d values for %d slots", ErrLengthMismatch, len(vec), len(ix.keys))
	}
	table := make(GlobalFrequencyTable, len(vec))
	for slot, c := range vec {
		if c == 0 {
			continue
		}
		p, ok := ix.labels[slot]
		if !ok {
			return nil, fmt.Errorf("%w: nonzero count in unlabeled slot %d", ErrReconciliation, slot)
		}
		table[p] = c
	}
	return table, nil
}
