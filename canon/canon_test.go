package canon

import (
	"testing"
)

func TestHashDeterminism(t *testing.T) {
	type payload struct {
		B string `cbor:"b"`
		A int    `cbor:"a"`
	}

	p1 := payload{A: 1, B: "x"}
	p2 := payload{A: 1, B: "x"}

	h1, err := HashOf(p1)
	if err != nil {
		t.Fatalf("HashOf(p1): %v", err)
	}
	h2, err := HashOf(p2)
	if err != nil {
		t.Fatalf("HashOf(p2): %v", err)
	}

	if !h1.Equal(h2) {
		t.Fatalf("equal structures produced different hashes: %s vs %s", h1, h2)
	}

	p3 := payload{A: 2, B: "x"}
	h3, err := HashOf(p3)
	if err != nil {
		t.Fatalf("HashOf(p3): %v", err)
	}
	if h1.Equal(h3) {
		t.Fatalf("different structures produced the same hash")
	}
}

func TestEncodeMapKeyOrderIsStable(t *testing.T) {
	m1 := map[string]int{"z": 1, "a": 2, "m": 3}
	m2 := map[string]int{"a": 2, "m": 3, "z": 1}

	b1, err := Encode(m1)
	if err != nil {
		t.Fatalf("Encode(m1): %v", err)
	}
	b2, err := Encode(m2)
	if err != nil {
		t.Fatalf("Encode(m2): %v", err)
	}

	if string(b1) != string(b2) {
		t.Fatalf("map encoding is not key-order independent")
	}
}

func TestDigestStringRoundTrip(t *testing.T) {
	d, err := HashOf("some payload")
	if err != nil {
		t.Fatalf("HashOf: %v", err)
	}
	if d.IsZero() {
		t.Fatalf("expected non-zero digest")
	}
	parsed, err := ParseDigestString(d.String())
	if err != nil {
		t.Fatalf("ParseDigestString: %v", err)
	}
	if !parsed.Equal(d) {
		t.Fatalf("parsed digest does not match original")
	}
}

func TestCanonicalizationErrorOnCycle(t *testing.T) {
	type node struct {
		Next *node
	}
	n := &node{}
	n.Next = n

	_, err := Encode(n)
	if err == nil {
		t.Fatalf("expected canonicalization error for cyclic structure")
	}
}
