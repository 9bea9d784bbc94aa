package manifest

import (
	"context"
	"testing"
	"time"

	"github.com/GoCodeAlone/pipeforge/archive/fsstore"
	"github.com/GoCodeAlone/pipeforge/canon"
)

func TestCacheLookupMissThenRecordThenHit(t *testing.T) {
	store, err := fsstore.Open("test", t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	cache := NewCache(store)
	ctx := context.Background()

	m := Manifest{ModuleType: "logic.not", ModuleConfig: map[string]any{}}
	va, _ := canon.HashOf("value-a")
	vy, _ := canon.HashOf("value-y")
	manifestHash, inputsHash, jobHash, err := Build(m, map[string]canon.Digest{"a": va})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if _, ok, err := cache.Lookup(ctx, jobHash); err != nil || ok {
		t.Fatalf("expected cache miss, got ok=%v err=%v", ok, err)
	}

	now := time.Now().UTC()
	rec := Record{
		JobHash:      jobHash,
		ManifestHash: manifestHash,
		ModuleType:   m.ModuleType,
		ModuleConfig: m.ModuleConfig,
		Inputs:       map[string]canon.Digest{"a": va},
		Outputs:      map[string]canon.Digest{"y": vy},
		StartedAt:    now,
		FinishedAt:   now,
		Comment:      "",
	}
	_ = inputsHash
	if err := cache.Record(ctx, rec); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, ok, err := cache.Lookup(ctx, jobHash)
	if err != nil || !ok {
		t.Fatalf("expected cache hit, got ok=%v err=%v", ok, err)
	}
	if !got.Outputs["y"].Equal(vy) {
		t.Fatalf("unexpected cached output hash")
	}
}
