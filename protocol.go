package feddfg

import (
	"bytes"
	"context"
	"fmt"
)

// Phase names the stages of one aggregation run. Transitions are strictly
// ordered; a failure in any stage aborts the run and is reported with the
// stage it interrupted.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseReconciled
	PhaseKeysEstablished
	PhaseLocalEncrypted
	PhaseExchanged
	PhaseAggregated
	PhaseDecrypted
)

func (ph Phase) String() string {
	switch ph {
	case PhaseInit:
		return "init"
	case PhaseReconciled:
		return "reconciliation"
	case PhaseKeysEstablished:
		return "key establishment"
	case PhaseLocalEncrypted:
		return "local encryption"
	case PhaseExchanged:
		return "ciphertext exchange"
	case PhaseAggregated:
		return "aggregation"
	case PhaseDecrypted:
		return "decryption"
	default:
		return fmt.Sprintf("phase %d", int(ph))
	}
}

// ProtocolError tags a failure with the stage it interrupted. A failed run
// publishes no graph, only this error.
type ProtocolError struct {
	Phase Phase
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol failed during %s: %v", e.Phase, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// fail tags err with the phase it interrupted.
func fail(phase Phase, err error) error {
	return &ProtocolError{Phase: phase, Err: err}
}

// MsgKind discriminates protocol messages. The zero value is invalid so an
// uninitialized message is never mistaken for a real one.
type MsgKind uint8

const (
	MsgPairs MsgKind = iota + 1
	MsgBlind
	MsgReblind
	MsgPublicKey
	MsgCipher
	MsgResult
	MsgLabels
)

func (k MsgKind) String() string {
	switch k {
	case MsgPairs:
		return "pairs"
	case MsgBlind:
		return "blinded pairs"
	case MsgReblind:
		return "re-blinded pairs"
	case MsgPublicKey:
		return "public key"
	case MsgCipher:
		return "cipher vector"
	case MsgResult:
		return "result"
	case MsgLabels:
		return "labels"
	default:
		return fmt.Sprintf("unknown kind %d", uint8(k))
	}
}

// Message is one protocol message. Only the fields belonging to the kind
// are set; keys and cipher vectors travel in serialized form so every run
// exercises the same encoding a networked deployment uses.
type Message struct {
	Kind    MsgKind
	Session []byte
	Pairs   []Pair
	Points  []*Point
	Scheme  Scheme
	Key     []byte
	Cipher  []byte
	Values  PlaintextVector
	Labels  map[int]Pair
}

// Conduit is the ordered, reliable message channel between the two
// parties. Implementations own the transport; the protocol only needs a
// send and a blocking receive.
type Conduit interface {
	Send(ctx context.Context, msg *Message) error
	Recv(ctx context.Context) (*Message, error)
}

// localConduit connects both parties inside one process.
type localConduit struct {
	in  <-chan *Message
	out chan<- *Message
}

// NewLocalConduits returns a connected conduit pair for in-process runs,
// keyholder end first. The buffers are deep enough that neither party ever
// blocks on a send in the strictly alternating message order.
func NewLocalConduits() (Conduit, Conduit) {
	a := make(chan *Message, 8)
	b := make(chan *Message, 8)
	return &localConduit{in: a, out: b}, &localConduit{in: b, out: a}
}

func (c *localConduit) Send(ctx context.Context, msg *Message) error {
	select {
	case c.out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *localConduit) Recv(ctx context.Context) (*Message, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// recvKind receives the next message and checks kind and session. A kind
// mismatch usually means the parties disagree on the run configuration.
func recvKind(ctx context.Context, c Conduit, want MsgKind, sid []byte) (*Message, error) {
	msg, err := c.Recv(ctx)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("conduit closed while waiting for %s", want)
	}
	if msg.Kind != want {
		return nil, fmt.Errorf("expected %s, got %s", want, msg.Kind)
	}
	if !bytes.Equal(msg.Session, sid) {
		return nil, fmt.Errorf("message for session %x received in session %x", msg.Session, sid)
	}
	return msg, nil
}

// Config selects the run's reconciliation mode. Both parties must agree on
// it out of band; a mismatch surfaces as an unexpected message kind during
// reconciliation.
type Config struct {
	// UsePSI blinds the pair sets during reconciliation so neither party
	// learns which edges the exchanged vectors cover. Without it the pair
	// sets are exchanged in the clear and only the counts stay hidden.
	UsePSI bool

	// Seed, when set, derives the blinding exponents deterministically for
	// reproducible runs. Leave nil outside of tests and demos.
	Seed []byte
}

// RunResult is what a party takes away from a successful run.
type RunResult struct {
	Table GlobalFrequencyTable
	Graph *DFG
}

// newRunBlinder picks fresh or seeded blinding depending on the config.
// Seeded runs still derive a distinct exponent per role.
func newRunBlinder(sid []byte, cfg Config, role Role) *Blinder {
	if len(cfg.Seed) == 0 {
		return NewBlinder(sid)
	}
	seed := append([]byte(role), 0)
	seed = append(seed, cfg.Seed...)
	return NewSeededBlinder(sid, seed)
}
