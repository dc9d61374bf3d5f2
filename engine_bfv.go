package feddfg

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/heint"
)

// defaultPlaintextModulus is the plaintext space shared by both backends.
// 21*2^17 + 1 is prime and NTT-friendly up to ring degree 2^16, and leaves
// room for per-edge aggregates in the millions before a count can wrap.
const defaultPlaintextModulus uint64 = 2752513

// defaultBFVParams targets 128-bit security at ring degree 2^13. The
// modulus chain carries far more levels than the single homomorphic
// addition the aggregation consumes.
var defaultBFVParams = heint.ParametersLiteral{
	LogN:             13,
	LogQ:             []int{22, 22, 22, 22, 22, 22},
	LogP:             []int{31},
	PlaintextModulus: defaultPlaintextModulus,
}

// bfvEngine is the secure backend. Vectors are packed into batched BFV
// ciphertexts of params.N() slots each; slot-wise addition is the only
// homomorphic operation performed.
type bfvEngine struct {
	opCounter
	params   heint.Parameters
	maxDepth int
}

func newBFVEngine() (*bfvEngine, error) {
	return newBFVEngineFromLiteral(defaultBFVParams)
}

// newBFVEngineFromLiteral exists so tests can run against degraded
// parameter sets.
func newBFVEngineFromLiteral(lit heint.ParametersLiteral) (*bfvEngine, error) {
	params, err := heint.NewParametersFromLiteral(lit)
	if err != nil {
		return nil, fmt.Errorf("bfv parameters: %w", err)
	}
	return &bfvEngine{params: params, maxDepth: additionDepthBudget(params)}, nil
}

// additionDepthBudget bounds the chain of homomorphic additions the
// parameters tolerate before decryption may fail. Each addition at most
// doubles the worst-case noise, so the budget is the bit headroom between
// fresh encryption noise and the decryption threshold Q/2T.
func additionDepthBudget(params heint.Parameters) int {
	logQ := int(params.LogQ())
	logT := bits.Len64(params.PlaintextModulus())
	freshNoise := bits.Len64(uint64(2*params.N())) + 5
	return logQ - logT - freshNoise - 1
}

type bfvKeyPair struct {
	id  string
	sk  *rlwe.SecretKey
	pub *bfvPublicKey
}

func (kp *bfvKeyPair) Scheme() Scheme    { return SchemeBFV }
func (kp *bfvKeyPair) KeyID() string     { return kp.id }
func (kp *bfvKeyPair) Public() PublicKey { return kp.pub }

type bfvPublicKey struct {
	id string
	pk *rlwe.PublicKey
}

func (pk *bfvPublicKey) Scheme() Scheme { return SchemeBFV }
func (pk *bfvPublicKey) KeyID() string  { return pk.id }

func (pk *bfvPublicKey) MarshalBinary() ([]byte, error) {
	kb, err := pk.pk.MarshalBinary()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(pk.id)+len(kb)+2)
	buf = binary.AppendUvarint(buf, uint64(len(pk.id)))
	buf = append(buf, pk.id...)
	return append(buf, kb...), nil
}

// bfvCipherVector carries ceil(n/slots) ciphertexts together with the
// logical slot count and the number of chained additions already absorbed.
type bfvCipherVector struct {
	id    string
	n     int
	depth int
	cts   []*rlwe.Ciphertext
}

func (v *bfvCipherVector) Scheme() Scheme { return SchemeBFV }
func (v *bfvCipherVector) KeyID() string  { return v.id }
func (v *bfvCipherVector) Len() int       { return v.n }

func (v *bfvCipherVector) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 64)
	buf = binary.AppendUvarint(buf, uint64(len(v.id)))
	buf = append(buf, v.id...)
	buf = binary.AppendUvarint(buf, uint64(v.n))
	buf = binary.AppendUvarint(buf, uint64(v.depth))
	buf = binary.AppendUvarint(buf, uint64(len(v.cts)))
	for _, ct := range v.cts {
		cb, err := ct.MarshalBinary()
		if err != nil {
			return nil, err
		}
		buf = binary.AppendUvarint(buf, uint64(len(cb)))
		buf = append(buf, cb...)
	}
	return buf, nil
}

func (e *bfvEngine) Scheme() Scheme           { return SchemeBFV }
func (e *bfvEngine) PlaintextModulus() uint64 { return e.params.PlaintextModulus() }

func (e *bfvEngine) GenerateKeys() (KeyPair, error) {
	if e.maxDepth < 1 {
		return nil, fmt.Errorf("%w: parameters leave no headroom for a single addition (logQ %d, plaintext modulus %d)",
			ErrNoiseBudget, int(e.params.LogQ()), e.params.PlaintextModulus())
	}
	sk, pk := heint.NewKeyGenerator(e.params).GenKeyPairNew()
	id := uuid.New().String()
	return &bfvKeyPair{id: id, sk: sk, pub: &bfvPublicKey{id: id, pk: pk}}, nil
}

func (e *bfvEngine) Encrypt(pk PublicKey, vec PlaintextVector) (CipherVector, error) {
	bpk, ok := pk.(*bfvPublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key is not a %s key", ErrKeyMismatch, SchemeBFV)
	}
	t := e.params.PlaintextModulus()
	for i, x := range vec {
		if x >= t {
			return nil, fmt.Errorf("slot %d: count %d outside plaintext space [0, %d)", i, x, t)
		}
	}

	slots := e.params.N()
	cts := make([]*rlwe.Ciphertext, (len(vec)+slots-1)/slots)
	if len(cts) > 0 {
		encoder := heint.NewEncoder(e.params)
		encryptor := heint.NewEncryptor(e.params, bpk.pk)
		level := e.params.MaxLevel()

		chunks := make(chan int, len(cts))
		errCh := make(chan error, len(cts))
		var wg sync.WaitGroup
		for range min(runtime.NumCPU(), len(cts)) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ecd := encoder.ShallowCopy()
				enc := encryptor.ShallowCopy()
				buf := make([]uint64, slots)
				for i := range chunks {
					clear(buf)
					copy(buf, vec[i*slots:min((i+1)*slots, len(vec))])
					pt := heint.NewPlaintext(e.params, level)
					if err := ecd.Encode(buf, pt); err != nil {
						errCh <- fmt.Errorf("encode chunk %d: %w", i, err)
						continue
					}
					ct := heint.NewCiphertext(e.params, 1, level)
					if err := enc.Encrypt(pt, ct); err != nil {
						errCh <- fmt.Errorf("encrypt chunk %d: %w", i, err)
						continue
					}
					cts[i] = ct
				}
			}()
		}
		for i := range cts {
			chunks <- i
		}
		close(chunks)
		wg.Wait()
		close(errCh)
		if len(errCh) > 0 {
			return nil, <-errCh
		}
	}

	e.encrypts.Add(uint64(len(vec)))
	return &bfvCipherVector{id: bpk.id, n: len(vec), cts: cts}, nil
}

func (e *bfvEngine) Add(a, b CipherVector) (CipherVector, error) {
	av, ok := a.(*bfvCipherVector)
	if !ok {
		return nil, fmt.Errorf("%w: operand is not a %s vector", ErrKeyMismatch, SchemeBFV)
	}
	bv, ok := b.(*bfvCipherVector)
	if !ok {
		return nil, fmt.Errorf("%w: operand is not a %s vector", ErrKeyMismatch, SchemeBFV)
	}
	if av.id != bv.id {
		return nil, fmt.Errorf("%w: ciphertexts under keys %s and %s", ErrKeyMismatch, av.id, bv.id)
	}
	if av.n != bv.n {
		return nil, fmt.Errorf("%w: %d vs %d slots", ErrLengthMismatch, av.n, bv.n)
	}
	depth := max(av.depth, bv.depth) + 1
	if depth > e.maxDepth {
		return nil, fmt.Errorf("%w: %d chained additions, parameters tolerate %d", ErrNoiseBudget, depth, e.maxDepth)
	}

	out := make([]*rlwe.Ciphertext, len(av.cts))
	if len(out) > 0 {
		evaluator := heint.NewEvaluator(e.params, nil)

		chunks := make(chan int, len(out))
		errCh := make(chan error, len(out))
		var wg sync.WaitGroup
		for range min(runtime.NumCPU(), len(out)) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				eval := evaluator.ShallowCopy()
				for i := range chunks {
					ct := heint.NewCiphertext(e.params, 1, av.cts[i].Level())
					if err := eval.Add(av.cts[i], bv.cts[i], ct); err != nil {
						errCh <- fmt.Errorf("add chunk %d: %w", i, err)
						continue
					}
					out[i] = ct
				}
			}()
		}
		for i := range out {
			chunks <- i
		}
		close(chunks)
		wg.Wait()
		close(errCh)
		if len(errCh) > 0 {
			return nil, <-errCh
		}
	}

	e.adds.Add(uint64(av.n))
	return &bfvCipherVector{id: av.id, n: av.n, depth: depth, cts: out}, nil
}

func (e *bfvEngine) Decrypt(kp KeyPair, ct CipherVector) (PlaintextVector, error) {
	bkp, ok := kp.(*bfvKeyPair)
	if !ok {
		return nil, fmt.Errorf("%w: key pair is not a %s pair", ErrInvalidKey, SchemeBFV)
	}
	v, ok := ct.(*bfvCipherVector)
	if !ok {
		return nil, fmt.Errorf("%w: ciphertext is not a %s vector", ErrInvalidKey, SchemeBFV)
	}
	if v.id != bkp.id {
		return nil, fmt.Errorf("%w: ciphertext under key %s, decrypting with %s", ErrInvalidKey, v.id, bkp.id)
	}

	slots := e.params.N()
	out := make(PlaintextVector, v.n)
	if len(v.cts) > 0 {
		decryptor := heint.NewDecryptor(e.params, bkp.sk)
		encoder := heint.NewEncoder(e.params)

		chunks := make(chan int, len(v.cts))
		errCh := make(chan error, len(v.cts))
		var wg sync.WaitGroup
		for range min(runtime.NumCPU(), len(v.cts)) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				dec := decryptor.ShallowCopy()
				ecd := encoder.ShallowCopy()
				buf := make([]uint64, slots)
				for i := range chunks {
					pt := heint.NewPlaintext(e.params, v.cts[i].Level())
					dec.Decrypt(v.cts[i], pt)
					if err := ecd.Decode(pt, buf); err != nil {
						errCh <- fmt.Errorf("decode chunk %d: %w", i, err)
						continue
					}
					copy(out[i*slots:min((i+1)*slots, v.n)], buf)
				}
			}()
		}
		for i := range v.cts {
			chunks <- i
		}
		close(chunks)
		wg.Wait()
		close(errCh)
		if len(errCh) > 0 {
			return nil, <-errCh
		}
	}

	e.decrypts.Add(uint64(v.n))
	return out, nil
}

func (e *bfvEngine) UnmarshalPublicKey(data []byte) (PublicKey, error) {
	idLen, nr := binary.Uvarint(data)
	if nr <= 0 || uint64(len(data)-nr) < idLen {
		return nil, fmt.Errorf("truncated %s public key", SchemeBFV)
	}
	id := string(data[nr : nr+int(idLen)])
	pk := rlwe.NewPublicKey(e.params)
	if err := pk.UnmarshalBinary(data[nr+int(idLen):]); err != nil {
		return nil, fmt.Errorf("%s public key: %w", SchemeBFV, err)
	}
	return &bfvPublicKey{id: id, pk: pk}, nil
}

func (e *bfvEngine) UnmarshalCipherVector(data []byte) (CipherVector, error) {
	idLen, nr := binary.Uvarint(data)
	if nr <= 0 || uint64(len(data)-nr) < idLen {
		return nil, fmt.Errorf("truncated %s cipher vector", SchemeBFV)
	}
	data = data[nr:]
	id := string(data[:idLen])
	data = data[idLen:]

	var header [3]uint64
	for i := range header {
		x, nr := binary.Uvarint(data)
		if nr <= 0 {
			return nil, fmt.Errorf("truncated %s cipher vector", SchemeBFV)
		}
		header[i] = x
		data = data[nr:]
	}
	n, depth, count := header[0], header[1], header[2]

	slots := uint64(e.params.N())
	if count != (n+slots-1)/slots {
		return nil, fmt.Errorf("%s cipher vector: %d ciphertexts cannot hold %d slots", SchemeBFV, count, n)
	}

	cts := make([]*rlwe.Ciphertext, count)
	for i := range cts {
		clen, nr := binary.Uvarint(data)
		if nr <= 0 || uint64(len(data)-nr) < clen {
			return nil, fmt.Errorf("truncated %s cipher vector at ciphertext %d", SchemeBFV, i)
		}
		data = data[nr:]
		ct := new(rlwe.Ciphertext)
		if err := ct.UnmarshalBinary(data[:clen]); err != nil {
			return nil, fmt.Errorf("%s cipher vector ciphertext %d: %w", SchemeBFV, i, err)
		}
		cts[i] = ct
		data = data[clen:]
	}
	if len(data) != 0 {
		return nil, fmt.Errorf("%d trailing bytes after %s cipher vector", len(data), SchemeBFV)
	}
	return &bfvCipherVector{id: id, n: int(n), depth: int(depth), cts: cts}, nil
}
