package feddfg

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// plainEngine is the trivial backend. Slots are stored as-is next to the key
// tag, so protocol shape, key bookkeeping and operation counts can be
// validated without paying for lattice arithmetic. It reduces modulo the
// same plaintext modulus as the secure backend so both decrypt to identical
// values.
type plainEngine struct {
	opCounter
	t uint64
}

func newPlainEngine() *plainEngine {
	return &plainEngine{t: defaultPlaintextModulus}
}

type plainKeyPair struct {
	id string
}

type plainPublicKey struct {
	id string
}

type plainCipherVector struct {
	id   string
	vals []uint64
}

func (kp *plainKeyPair) Scheme() Scheme    { return SchemePlain }
func (kp *plainKeyPair) KeyID() string     { return kp.id }
func (kp *plainKeyPair) Public() PublicKey { return &plainPublicKey{id: kp.id} }

func (pk *plainPublicKey) Scheme() Scheme { return SchemePlain }
func (pk *plainPublicKey) KeyID() string  { return pk.id }
func (pk *plainPublicKey) MarshalBinary() ([]byte, error) {
	return []byte(pk.id), nil
}

func (v *plainCipherVector) Scheme() Scheme { return SchemePlain }
func (v *plainCipherVector) KeyID() string  { return v.id }
func (v *plainCipherVector) Len() int       { return len(v.vals) }

func (v *plainCipherVector) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, len(v.id)+2+10*len(v.vals))
	buf = binary.AppendUvarint(buf, uint64(len(v.id)))
	buf = append(buf, v.id...)
	buf = binary.AppendUvarint(buf, uint64(len(v.vals)))
	for _, x := range v.vals {
		buf = binary.AppendUvarint(buf, x)
	}
	return buf, nil
}

func (e *plainEngine) Scheme() Scheme           { return SchemePlain }
func (e *plainEngine) PlaintextModulus() uint64 { return e.t }

func (e *plainEngine) GenerateKeys() (KeyPair, error) {
	return &plainKeyPair{id: uuid.New().String()}, nil
}

func (e *plainEngine) Encrypt(pk PublicKey, vec PlaintextVector) (CipherVector, error) {
	ppk, ok := pk.(*plainPublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key is not a %s key", ErrKeyMismatch, SchemePlain)
	}
	for i, x := range vec {
		if x >= e.t {
			return nil, fmt.Errorf("slot %d: count %d outside plaintext space [0, %d)", i, x, e.t)
		}
	}
	e.encrypts.Add(uint64(len(vec)))
	return &plainCipherVector{id: ppk.id, vals: slices.Clone(vec)}, nil
}

func (e *plainEngine) Add(a, b CipherVector) (CipherVector, error) {
	av, ok := a.(*plainCipherVector)
	if !ok {
		return nil, fmt.Errorf("%w: operand is not a %s vector", ErrKeyMismatch, SchemePlain)
	}
	bv, ok := b.(*plainCipherVector)
	if !ok {
		return nil, fmt.Errorf("%w: operand is not a %s vector", ErrKeyMismatch, SchemePlain)
	}
	if av.id != bv.id {
		return nil, fmt.Errorf("%w: ciphertexts under keys %s and %s", ErrKeyMismatch, av.id, bv.id)
	}
	if len(av.vals) != len(bv.vals) {
		return nil, fmt.Errorf("%w: %d vs %d slots", ErrLengthMismatch, len(av.vals), len(bv.vals))
	}
	sum := make([]uint64, len(av.vals))
	for i := range av.vals {
		sum[i] = (av.vals[i] + bv.vals[i]) % e.t
	}
	e.adds.Add(uint64(len(sum)))
	return &plainCipherVector{id: av.id, vals: sum}, nil
}

func (e *plainEngine) Decrypt(kp KeyPair, ct CipherVector) (PlaintextVector, error) {
	pkp, ok := kp.(*plainKeyPair)
	if !ok {
		return nil, fmt.Errorf("%w: key pair is not a %s pair", ErrInvalidKey, SchemePlain)
	}
	v, ok := ct.(*plainCipherVector)
	if !ok {
		return nil, fmt.Errorf("%w: ciphertext is not a %s vector", ErrInvalidKey, SchemePlain)
	}
	if v.id != pkp.id {
		return nil, fmt.Errorf("%w: ciphertext under key %s, decrypting with %s", ErrInvalidKey, v.id, pkp.id)
	}
	e.decrypts.Add(uint64(len(v.vals)))
	return PlaintextVector(slices.Clone(v.vals)), nil
}

func (e *plainEngine) UnmarshalPublicKey(data []byte) (PublicKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty %s public key", SchemePlain)
	}
	return &plainPublicKey{id: string(data)}, nil
}

func (e *plainEngine) UnmarshalCipherVector(data []byte) (CipherVector, error) {
	idLen, n := binary.Uvarint(data)
	if n <= 0 || uint64(len(data)-n) < idLen {
		return nil, fmt.Errorf("truncated %s cipher vector", SchemePlain)
	}
	data = data[n:]
	id := string(data[:idLen])
	data = data[idLen:]

	count, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, fmt.Errorf("truncated %s cipher vector", SchemePlain)
	}
	data = data[n:]

	vals := make([]uint64, count)
	for i := range vals {
		x, n := binary.Uvarint(data)
		if n <= 0 {
			return nil, fmt.Errorf("truncated %s cipher vector at slot %d", SchemePlain, i)
		}
		vals[i] = x
		data = data[n:]
	}
	if len(data) != 0 {
		return nil, fmt.Errorf("%d trailing bytes after %s cipher vector", len(data), SchemePlain)
	}
	return &plainCipherVector{id: id, vals: vals}, nil
}
