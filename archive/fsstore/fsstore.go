// Package fsstore implements the content-addressed filesystem archive
// and store backend (component D): one directory per value hash, an
// append-only bbolt-backed alias log, and one CBOR file per job hash.
// Directory layout is sharded by hash prefix so no single directory ever
// holds an unbounded number of entries, following the same root-relative
// path-resolution discipline as the teacher's store/local_storage.go.
package fsstore

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/GoCodeAlone/pipeforge/archive"
	"github.com/GoCodeAlone/pipeforge/canon"
)

var aliasesBucket = []byte("aliases")
var aliasHistoryBucket = []byte("alias_history")

// Store is a filesystem-backed archive.Store rooted at a directory.
type Store struct {
	id   string
	root string
	cfg  map[string]any

	mu sync.Mutex // single-writer discipline (§5): held only across a write boundary

	db *bbolt.DB
}

// Open creates (if needed) the directory layout under root and returns a
// ready Store. Orphaned temp files from a prior crash are garbage
// collected on open.
func Open(id, root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("fsstore: resolve root: %w", err)
	}
	for _, sub := range []string{"values", "jobs", "tmp"} {
		if err := os.MkdirAll(filepath.Join(abs, sub), 0o755); err != nil {
			return nil, fmt.Errorf("fsstore: create %s: %w", sub, err)
		}
	}

	db, err := bbolt.Open(filepath.Join(abs, "aliases.db"), 0o644, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("fsstore: open alias index: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(aliasesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(aliasHistoryBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("fsstore: init alias buckets: %w", err)
	}

	s := &Store{id: id, root: abs, cfg: map[string]any{"root": abs}, db: db}
	if err := s.gcOrphanTemp(); err != nil {
		return nil, err
	}
	return s, nil
}

// gcOrphanTemp removes stale temp files left behind by a crash between
// writing a temp file and renaming it into place.
func (s *Store) gcOrphanTemp() error {
	tmpDir := filepath.Join(s.root, "tmp")
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return fmt.Errorf("fsstore: list tmp: %w", err)
	}
	for _, e := range entries {
		_ = os.Remove(filepath.Join(tmpDir, e.Name()))
	}
	return nil
}

func (s *Store) ArchiveID() string        { return s.id }
func (s *Store) Config() map[string]any   { return s.cfg }

// shard returns the two-level sharded directory for a hash string, e.g.
// "ab/cd" for a hash beginning "abcd...".
func shard(hashStr string) string {
	clean := strings.TrimPrefix(hashStr, "z") // strip base58 prefix noise defensively
	if len(clean) < 4 {
		return filepath.Join("xx", "xx")
	}
	return filepath.Join(clean[0:2], clean[2:4])
}

func (s *Store) valueDir(h canon.Digest) string {
	hs := h.String()
	return filepath.Join(s.root, "values", shard(hs), hs)
}

func (s *Store) jobPath(h canon.Digest) string {
	hs := h.String()
	if len(hs) < 2 {
		hs = "00" + hs
	}
	return filepath.Join(s.root, "jobs", hs[0:2], hs+".cbor")
}

func (s *Store) Contains(_ context.Context, h canon.Digest) (bool, error) {
	_, err := os.Stat(filepath.Join(s.valueDir(h), "payload.bin"))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *Store) LoadValue(_ context.Context, h canon.Digest) (*archive.StoredValue, error) {
	dir := s.valueDir(h)
	meta, err := os.ReadFile(filepath.Join(dir, "meta.cbor"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, archive.ErrNotFound
		}
		return nil, fmt.Errorf("fsstore: read meta: %w", err)
	}
	var sv archive.StoredValue
	if err := canonUnmarshal(meta, &sv); err != nil {
		return nil, fmt.Errorf("fsstore: decode meta: %w", err)
	}
	payload, err := os.ReadFile(filepath.Join(dir, "payload.bin"))
	if err != nil {
		return nil, fmt.Errorf("fsstore: read payload: %w", err)
	}
	sv.Payload = payload
	return &sv, nil
}

func (s *Store) IterValues(ctx context.Context) iter.Seq2[*archive.StoredValue, error] {
	return func(yield func(*archive.StoredValue, error) bool) {
		root := filepath.Join(s.root, "values")
		_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				if !yield(nil, err) {
					return filepath.SkipAll
				}
				return nil
			}
			if d.IsDir() || d.Name() != "payload.bin" {
				return nil
			}
			dir := filepath.Dir(path)
			meta, rerr := os.ReadFile(filepath.Join(dir, "meta.cbor"))
			if rerr != nil {
				if !yield(nil, rerr) {
					return filepath.SkipAll
				}
				return nil
			}
			var sv archive.StoredValue
			if derr := canonUnmarshal(meta, &sv); derr != nil {
				if !yield(nil, derr) {
					return filepath.SkipAll
				}
				return nil
			}
			payload, perr := os.ReadFile(path)
			if perr != nil {
				if !yield(nil, perr) {
					return filepath.SkipAll
				}
				return nil
			}
			sv.Payload = payload
			if !yield(&sv, nil) {
				return filepath.SkipAll
			}
			select {
			case <-ctx.Done():
				return filepath.SkipAll
			default:
				return nil
			}
		})
	}
}

// WriteValue persists a value by staging its payload and metadata to a
// temp file and atomically renaming both into place. Idempotent: a value
// hash already present is a no-op.
func (s *Store) WriteValue(_ context.Context, v *archive.StoredValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.valueDir(v.Hash)
	if _, err := os.Stat(filepath.Join(dir, "payload.bin")); err == nil {
		return nil // idempotent no-op
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fsstore: mkdir value dir: %w", err)
	}

	if err := s.atomicWrite(filepath.Join(dir, "payload.bin"), v.Payload); err != nil {
		return err
	}
	meta, err := canonMarshal(v)
	if err != nil {
		return fmt.Errorf("fsstore: encode meta: %w", err)
	}
	if err := s.atomicWrite(filepath.Join(dir, "meta.cbor"), meta); err != nil {
		return err
	}
	return nil
}

// atomicWrite stages data to a temp file under root/tmp and renames it
// into place, the same crash-safety discipline named in spec.md §4.D.
func (s *Store) atomicWrite(finalPath string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Join(s.root, "tmp"), "write-*")
	if err != nil {
		return fmt.Errorf("fsstore: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsstore: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("fsstore: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("fsstore: rename into place: %w", err)
	}
	return nil
}

func (s *Store) WriteAlias(_ context.Context, name string, valueID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		ab := tx.Bucket(aliasesBucket)
		if err := ab.Put([]byte(name), []byte(valueID.String())); err != nil {
			return err
		}
		hb := tx.Bucket(aliasHistoryBucket)
		histKey := []byte(name)
		existing := hb.Get(histKey)
		entry := archive.AliasHistoryEntry{ValueID: valueID, UpdatedAt: time.Now().UTC()}
		encoded, err := canonMarshal(entry)
		if err != nil {
			return err
		}
		var history [][]byte
		if existing != nil {
			if err := canonUnmarshal(existing, &history); err != nil {
				return err
			}
		}
		history = append(history, encoded)
		historyBytes, err := canonMarshal(history)
		if err != nil {
			return err
		}
		return hb.Put(histKey, historyBytes)
	})
}

func (s *Store) LookupAlias(_ context.Context, name string) (uuid.UUID, bool, error) {
	var id uuid.UUID
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(aliasesBucket).Get([]byte(name))
		if v == nil {
			return nil
		}
		parsed, err := uuid.Parse(string(v))
		if err != nil {
			return err
		}
		id = parsed
		found = true
		return nil
	})
	return id, found, err
}

func (s *Store) AliasHistory(_ context.Context, name string) ([]archive.AliasHistoryEntry, error) {
	var out []archive.AliasHistoryEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(aliasHistoryBucket).Get([]byte(name))
		if raw == nil {
			return nil
		}
		var encodedEntries [][]byte
		if err := canonUnmarshal(raw, &encodedEntries); err != nil {
			return err
		}
		for _, eb := range encodedEntries {
			var e archive.AliasHistoryEntry
			if err := canonUnmarshal(eb, &e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (s *Store) ListAliases(_ context.Context) ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(aliasesBucket).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

func (s *Store) WriteJob(_ context.Context, j *archive.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.jobPath(j.JobHash)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("fsstore: mkdir job dir: %w", err)
	}
	encoded, err := canonMarshal(j)
	if err != nil {
		return fmt.Errorf("fsstore: encode job: %w", err)
	}
	return s.atomicWrite(path, encoded)
}

func (s *Store) LookupJob(_ context.Context, h canon.Digest) (*archive.JobRecord, error) {
	raw, err := os.ReadFile(s.jobPath(h))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, archive.ErrNotFound
		}
		return nil, fmt.Errorf("fsstore: read job: %w", err)
	}
	var j archive.JobRecord
	if err := canonUnmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("fsstore: decode job: %w", err)
	}
	return &j, nil
}

func (s *Store) RetainJobComment(ctx context.Context, jobHash canon.Digest, comment string) error {
	j, err := s.LookupJob(ctx, jobHash)
	if err != nil {
		return err
	}
	j.Comment = comment
	return s.WriteJob(ctx, j)
}

func (s *Store) Close() error {
	return s.db.Close()
}

var (
	_ archive.Store = (*Store)(nil)
)
