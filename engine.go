package feddfg

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Scheme names a homomorphic encryption backend.
type Scheme string

const (
	// SchemePlain is the trivial backend: near-plaintext slots with key
	// tagging. It validates protocol shape and timing but provides no
	// confidentiality.
	SchemePlain Scheme = "plain"
	// SchemeBFV is the secure backend, lattice-based BFV over lattigo.
	SchemeBFV Scheme = "bfv"
)

var (
	// ErrKeyMismatch is returned when ciphertexts or keys from different
	// key pairs meet in an Add or Decrypt. Always fatal to the run.
	ErrKeyMismatch = errors.New("key mismatch")

	// ErrInvalidKey is returned by Decrypt when the secret key does not
	// correspond to the ciphertext's public key. It is a key mismatch and
	// matches ErrKeyMismatch under errors.Is.
	ErrInvalidKey = fmt.Errorf("%w: secret key does not match ciphertext", ErrKeyMismatch)

	// ErrNoiseBudget indicates the scheme parameters cannot absorb the
	// noise of the requested additions. Detected at GenerateKeys or before
	// an Add is executed, never after a corrupted decryption.
	ErrNoiseBudget = errors.New("noise budget exceeded")

	// ErrLengthMismatch indicates a vector length disagreeing with its
	// counterpart or with the pair index. Contract violation, fatal.
	ErrLengthMismatch = errors.New("length mismatch")
)

// PublicKey is the shareable half of a key pair. The contributor only ever
// holds this half.
type PublicKey interface {
	Scheme() Scheme
	KeyID() string
	MarshalBinary() ([]byte, error)
}

// KeyPair holds both key halves. It lives for exactly one protocol run and
// never leaves the keyholder.
type KeyPair interface {
	Scheme() Scheme
	KeyID() string
	Public() PublicKey
}

// CipherVector is an encrypted plaintext vector. Every vector is tagged with
// the ID of the key pair it was produced under; the tag travels with the
// serialized form.
type CipherVector interface {
	Scheme() Scheme
	KeyID() string
	Len() int
	MarshalBinary() ([]byte, error)
}

// Engine is the homomorphic encryption capability the protocol is written
// against. Implementations must guarantee that for identical plaintext
// inputs all backends decrypt to bit-identical values; backends differ only
// in timing and confidentiality.
//
// All slot arithmetic is modulo PlaintextModulus. Counts are exact as long
// as every aggregate stays below it.
type Engine interface {
	Scheme() Scheme

	// PlaintextModulus bounds every representable slot value.
	PlaintextModulus() uint64

	// GenerateKeys produces a fresh key pair. For the secure backend this
	// also verifies that the parameters leave noise headroom for at least
	// one homomorphic addition, failing with ErrNoiseBudget otherwise.
	GenerateKeys() (KeyPair, error)

	// Encrypt encrypts a whole vector slot by slot under pk.
	Encrypt(pk PublicKey, vec PlaintextVector) (CipherVector, error)

	// Add computes the slot-wise homomorphic sum. Both vectors must carry
	// the same key ID and length.
	Add(a, b CipherVector) (CipherVector, error)

	// Decrypt recovers the plaintext vector. Only the key pair the vector
	// was encrypted under may decrypt it.
	Decrypt(kp KeyPair, ct CipherVector) (PlaintextVector, error)

	UnmarshalPublicKey(data []byte) (PublicKey, error)
	UnmarshalCipherVector(data []byte) (CipherVector, error)

	// Counts reports the slot operations executed so far.
	Counts() OpCounts
}

// NewEngine selects the backend once at startup. There is no runtime
// switching mid-run.
func NewEngine(secure bool) (Engine, error) {
	if secure {
		return newBFVEngine()
	}
	return newPlainEngine(), nil
}

// OpCounts tallies slot-level homomorphic operations, mirroring the
// operation counters of the non-encrypted reference variants so runs can be
// compared by cost.
type OpCounts struct {
	Encrypts uint64
	Adds     uint64
	Decrypts uint64
}

func (c OpCounts) String() string {
	return fmt.Sprintf("enc: %d, add: %d, dec: %d", c.Encrypts, c.Adds, c.Decrypts)
}

// opCounter is embedded by both backends.
type opCounter struct {
	encrypts atomic.Uint64
	adds     atomic.Uint64
	decrypts atomic.Uint64
}

func (c *opCounter) Counts() OpCounts {
	return OpCounts{
		Encrypts: c.encrypts.Load(),
		Adds:     c.adds.Load(),
		Decrypts: c.decrypts.Load(),
	}
}
