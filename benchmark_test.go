package feddfg

import (
	"context"
	"fmt"
	"testing"
)

type benchParam struct {
	numPairs    int
	sharedPairs int
	secure      bool
	usePSI      bool
}

func (p benchParam) String() string {
	scheme := SchemePlain
	if p.secure {
		scheme = SchemeBFV
	}
	mode := "clear"
	if p.usePSI {
		mode = "psi"
	}
	return fmt.Sprintf("%s-%s-%dPairs", scheme, mode, p.numPairs)
}

func BenchmarkBlindPairs(b *testing.B) {
	table, _ := GenTestFrequencyTables(1000, 200)
	pairs := table.Pairs()
	blinder := NewBlinder(NewSessionID("orga", "orgb"))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := blinder.BlindPairs(pairs); err != nil {
			b.Fatalf("BlindPairs failed: %v", err)
		}
	}
}

func BenchmarkReblindPoints(b *testing.B) {
	table, _ := GenTestFrequencyTables(1000, 200)
	blinder := NewBlinder(NewSessionID("orga", "orgb"))
	points, err := blinder.BlindPairs(table.Pairs())
	if err != nil {
		b.Fatalf("BlindPairs failed: %v", err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		blinder.ReblindPoints(points)
	}
}

func BenchmarkEngineOps(b *testing.B) {
	for _, secure := range []bool{false, true} {
		e, err := NewEngine(secure)
		if err != nil {
			b.Fatalf("NewEngine failed: %v", err)
		}
		kp, err := e.GenerateKeys()
		if err != nil {
			b.Fatalf("GenerateKeys failed: %v", err)
		}

		vec := make(PlaintextVector, 8192)
		for i := range vec {
			vec[i] = uint64(i) % e.PlaintextModulus()
		}
		ct, err := e.Encrypt(kp.Public(), vec)
		if err != nil {
			b.Fatalf("Encrypt failed: %v", err)
		}

		b.Run(fmt.Sprintf("Encrypt/%s", e.Scheme()), func(b *testing.B) {
			for b.Loop() {
				if _, err := e.Encrypt(kp.Public(), vec); err != nil {
					b.Fatalf("Encrypt failed: %v", err)
				}
			}
		})

		b.Run(fmt.Sprintf("Add/%s", e.Scheme()), func(b *testing.B) {
			for b.Loop() {
				if _, err := e.Add(ct, ct); err != nil {
					b.Fatalf("Add failed: %v", err)
				}
			}
		})

		b.Run(fmt.Sprintf("Decrypt/%s", e.Scheme()), func(b *testing.B) {
			for b.Loop() {
				if _, err := e.Decrypt(kp, ct); err != nil {
					b.Fatalf("Decrypt failed: %v", err)
				}
			}
		})
	}
}

var benchParams = []benchParam{
	{numPairs: 100, sharedPairs: 20, secure: false, usePSI: false},
	{numPairs: 100, sharedPairs: 20, secure: false, usePSI: true},
	{numPairs: 100, sharedPairs: 20, secure: true, usePSI: false},
	{numPairs: 100, sharedPairs: 20, secure: true, usePSI: true},
	{numPairs: 1000, sharedPairs: 200, secure: true, usePSI: true},
}

func BenchmarkFullRun(b *testing.B) {
	for _, param := range benchParams {
		b.Run(param.String(), func(b *testing.B) {
			tableA, tableB := GenTestFrequencyTables(param.numPairs, param.sharedPairs)
			sid := NewSessionID("orga", "orgb")
			cfg := Config{UsePSI: param.usePSI}

			engineA, err := NewEngine(param.secure)
			if err != nil {
				b.Fatalf("NewEngine failed: %v", err)
			}
			engineB, err := NewEngine(param.secure)
			if err != nil {
				b.Fatalf("NewEngine failed: %v", err)
			}
			kh := NewKeyholder(sid, engineA, tableA)
			ct := NewContributor(sid, engineB, tableB)

			b.ResetTimer()

			for b.Loop() {
				khConduit, ctConduit := NewLocalConduits()

				// The contributor drives its end concurrently:

				ctErr := make(chan error, 1)
				go func() {
					_, err := ct.Run(context.Background(), ctConduit, cfg)
					ctErr <- err
				}()

				// The keyholder's run covers the whole protocol:

				if _, err := kh.Run(context.Background(), khConduit, cfg); err != nil {
					b.Fatalf("keyholder run failed: %v", err)
				}
				if err := <-ctErr; err != nil {
					b.Fatalf("contributor run failed: %v", err)
				}
			}
		})
	}
}
