package manifest

import (
	"testing"

	"github.com/GoCodeAlone/pipeforge/canon"
)

func TestManifestHashStableAcrossConfigKeyOrder(t *testing.T) {
	m1 := Manifest{ModuleType: "logic.and", ModuleConfig: map[string]any{"a": 1, "b": 2}}
	m2 := Manifest{ModuleType: "logic.and", ModuleConfig: map[string]any{"b": 2, "a": 1}}

	h1, err := m1.Hash()
	if err != nil {
		t.Fatalf("hash 1: %v", err)
	}
	h2, err := m2.Hash()
	if err != nil {
		t.Fatalf("hash 2: %v", err)
	}
	if !h1.Equal(h2) {
		t.Fatalf("expected equal hashes regardless of map key order")
	}
}

func TestManifestHashDiffersOnConfig(t *testing.T) {
	m1 := Manifest{ModuleType: "logic.and", ModuleConfig: map[string]any{"a": 1}}
	m2 := Manifest{ModuleType: "logic.and", ModuleConfig: map[string]any{"a": 2}}

	h1, _ := m1.Hash()
	h2, _ := m2.Hash()
	if h1.Equal(h2) {
		t.Fatalf("expected different hashes for different configs")
	}
}

func TestBuildProducesDeterministicJobHash(t *testing.T) {
	m := Manifest{ModuleType: "logic.not", ModuleConfig: map[string]any{}}
	va, err := canon.HashOf("value-a")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	inputs := map[string]canon.Digest{"a": va}

	_, _, job1, err := Build(m, inputs)
	if err != nil {
		t.Fatalf("build 1: %v", err)
	}
	_, _, job2, err := Build(m, inputs)
	if err != nil {
		t.Fatalf("build 2: %v", err)
	}
	if !job1.Equal(job2) {
		t.Fatalf("expected identical job hashes for identical (manifest, inputs)")
	}
}

func TestBuildJobHashChangesWithInputs(t *testing.T) {
	m := Manifest{ModuleType: "logic.not", ModuleConfig: map[string]any{}}
	va, _ := canon.HashOf("value-a")
	vb, _ := canon.HashOf("value-b")

	_, _, job1, _ := Build(m, map[string]canon.Digest{"a": va})
	_, _, job2, _ := Build(m, map[string]canon.Digest{"a": vb})
	if job1.Equal(job2) {
		t.Fatalf("expected different job hashes for different inputs")
	}
}
