package feddfg

import (
	"math/big"
	"testing"

	"go.dedis.ch/kyber/v4/suites"
	"go.dedis.ch/kyber/v4/util/random"
)

func BenchmarkPairEncoding(b *testing.B) {
	msg := []byte("register patient\x1fadmit patient")
	sid := NewSessionID("orga", "orgb")

	suite := suites.MustFind("P256")
	rnd := random.New()
	b.Run("Kyber", func(b *testing.B) {
		for b.Loop() {
			p := suite.Point()
			p.Embed(msg[:p.EmbedLen()], rnd)
		}
	})

	b.Run("Ours", func(b *testing.B) {
		for b.Loop() {
			HashToPoint(msg, sid)
		}
	})
}

func TestScalarMul(t *testing.T) {
	tests := []struct {
		name string
		a    *Point
		b    *Scalar
		want *Point
	}{
		{
			name: "Scalar multiplication with base point",
			a:    Gen(),
			b:    NewScalar(big.NewInt(2)),
			want: Gen().ScalarExp(NewScalar(big.NewInt(2))),
		},
		{
			name: "Scalar multiplication with one",
			a:    Gen(),
			b:    NewScalar(big.NewInt(1)),
			want: Gen(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.a.ScalarExp(tt.b)
			if !got.Equals(tt.want) {
				t.Errorf("ScalarExp() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetRandomPoint(t *testing.T) {
	point := RandomPoint()

	if point == nil {
		t.Fatalf("RandomPoint() returned nil point")
	}
}

func TestAdd(t *testing.T) {
	tests := []struct {
		name string
		a, b *Point
		want *Point
	}{
		{
			name: "Add base point to itself",
			a:    Gen(),
			b:    Gen(),
			want: Mul(Gen(), Gen()),
		},
		{
			name: "Add base point to zero point",
			a:    Gen(),
			b:    Identity(),
			want: Gen(),
		},
		{
			name: "Add zero point to base point",
			a:    Identity(),
			b:    Gen(),
			want: Gen(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Mul(tt.a, tt.b); !got.Equals(tt.want) {
				t.Errorf("Mul() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInvert(t *testing.T) {
	tests := []struct {
		name  string
		point *Point
		want  *Point
	}{
		{
			name:  "Invert base point",
			point: Gen(),
			want:  BaseExp(NewScalar(big.NewInt(1)).Neg()),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.point.Invert(); !got.Equals(tt.want) {
				t.Errorf("Invert() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInvert2(t *testing.T) {
	point := RandomPoint()

	inverted := point.Invert()
	if inverted == nil {
		t.Fatalf("Invert() returned nil point")
	}

	if !Mul(Mul(point, inverted), Gen()).Equals(Gen()) {
		t.Errorf("Invert() failed to invert point")
	}
}

func TestEqual(t *testing.T) {
	a := Gen()
	b := Gen()
	if !a.Equals(b) {
		t.Errorf("Equals() = false, want true")
	}
}

func TestSerializeDeserializePoint(t *testing.T) {
	point := RandomPoint()

	serializedPoint, err := point.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	if len(serializedPoint) != PointLen() {
		t.Errorf("MarshalBinary() produced %d bytes, want %d", len(serializedPoint), PointLen())
	}

	deserializedPoint := NewPoint()
	if err := deserializedPoint.UnmarshalBinary(serializedPoint); err != nil {
		t.Fatalf("UnmarshalBinary() error = %v", err)
	}

	if !point.Equals(deserializedPoint) {
		t.Errorf("UnmarshalBinary() = %v, want %v", deserializedPoint, point)
	}
}

func TestScalarAddition(t *testing.T) {
	s1 := RandomScalar()

	s2 := RandomScalar()

	s3 := s1.Add(s2)

	if !s3.Equals(s1.Add(s2)) {
		t.Errorf("Addition failed: %v + %v != %v", s1, s2, s3)
	}
}

func TestScalarAdditionExp(t *testing.T) {
	for i := 0; i < 100; i++ {
		s1 := RandomScalar()
		s2 := RandomScalar()

		s3 := s1.Add(s2)

		if !BaseExp(s3).Equals(Mul(BaseExp(s2), BaseExp(s1))) {
			t.Errorf("Addition %d failed: %v + %v != %v", i, BaseExp(s3), BaseExp(s2), BaseExp(s1))
		}
	}
}

func TestScalarInvertExp(t *testing.T) {
	for i := 0; i < 100; i++ {
		s := RandomScalar()
		p := RandomPoint()

		if !p.ScalarExp(s).ScalarExp(s.Invert()).Equals(p) {
			t.Errorf("Inversion %d failed to undo the exponent", i)
		}
	}
}

func TestHashToPointDeterministic(t *testing.T) {
	sid := NewSessionID("orga", "orgb")
	msg := []byte("a\x1fb")

	if !HashToPoint(msg, sid).Equals(HashToPoint(msg, sid)) {
		t.Errorf("HashToPoint() is not deterministic")
	}
	if HashToPoint(msg, sid).Equals(HashToPoint([]byte("a\x1fc"), sid)) {
		t.Errorf("distinct messages hashed to the same point")
	}
}

func TestHashToPointSessionSeparation(t *testing.T) {
	msg := []byte("a\x1fb")
	sidA := NewSessionID("orga", "orgb")
	sidB := NewSessionID("orga", "other")

	if HashToPoint(msg, sidA).Equals(HashToPoint(msg, sidB)) {
		t.Errorf("the same pair hashed identically across sessions")
	}
}

// The whole reconciliation rests on H(m)^(ab) == H(m)^(ba).
func TestExponentiationCommutes(t *testing.T) {
	sid := NewSessionID("orga", "orgb")

	for i := 0; i < 50; i++ {
		a := RandomScalar()
		b := RandomScalar()
		h := HashToPoint([]byte{byte(i)}, sid)

		ab := h.ScalarExp(a).ScalarExp(b)
		ba := h.ScalarExp(b).ScalarExp(a)
		if !ab.Equals(ba) {
			t.Fatalf("iteration %d: H^ab != H^ba", i)
		}
	}
}
