// Package sqlstore implements the embedded relational archive and store
// backend (component D): a single modernc.org/sqlite file with tables
// for values, aliases (versioned), jobs, and metadata. Schema migrations
// are numbered and applied on Open; an on-disk version newer than this
// binary's highest known migration is fatal, following the same
// fail-fast posture as the teacher's store package's SQLite-backed
// stores (store/idempotency.go, store/event_store.go).
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/GoCodeAlone/pipeforge/archive"
	"github.com/GoCodeAlone/pipeforge/canon"
)

// schemaVersion is the highest migration this binary understands.
const schemaVersion = 5

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL PRIMARY KEY, applied_at TEXT NOT NULL);`,
	`CREATE TABLE IF NOT EXISTS values_tbl (
		value_hash   TEXT PRIMARY KEY,
		id           TEXT NOT NULL,
		schema       BLOB NOT NULL,
		data_config  BLOB,
		payload      BLOB NOT NULL,
		size         INTEGER NOT NULL,
		origin       BLOB NOT NULL,
		metadata     BLOB,
		created_at   TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS aliases (
		name        TEXT NOT NULL,
		value_id    TEXT NOT NULL,
		updated_at  TEXT NOT NULL,
		is_current  INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_aliases_name ON aliases(name);`,
	`CREATE TABLE IF NOT EXISTS jobs (
		job_hash     TEXT PRIMARY KEY,
		manifest_hash TEXT NOT NULL,
		module_type  TEXT NOT NULL,
		module_config BLOB,
		inputs       BLOB NOT NULL,
		outputs      BLOB NOT NULL,
		started_at   TEXT NOT NULL,
		finished_at  TEXT NOT NULL,
		runtime_ms   INTEGER NOT NULL,
		comment      TEXT,
		status       TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS metadata (key TEXT PRIMARY KEY, value BLOB);`,
}

// Store is a modernc.org/sqlite-backed archive.Store.
type Store struct {
	id  string
	cfg map[string]any

	mu sync.Mutex // single-writer discipline (§5)
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite file at path and applies
// any pending migrations.
func Open(id, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer; sqlite serializes anyway

	s := &Store{id: id, cfg: map[string]any{"path": path}, db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	var current int
	row := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err := row.Scan(&current); err != nil {
		// Table doesn't exist yet; that's fine, current stays 0 and
		// migration 0 below creates it.
		current = 0
	}

	if current > schemaVersion {
		return &archive.IncompatibleArchiveError{ArchiveID: s.id, OnDiskVersion: current, MaxKnown: schemaVersion}
	}

	for v := current; v < len(migrations); v++ {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("sqlstore: begin migration %d: %w", v, err)
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlstore: apply migration %d: %w", v, err)
		}
		if _, err := tx.Exec(`INSERT OR REPLACE INTO schema_migrations(version, applied_at) VALUES (?, ?)`, v+1, time.Now().UTC().Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlstore: record migration %d: %w", v, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("sqlstore: commit migration %d: %w", v, err)
		}
	}
	return nil
}

func (s *Store) ArchiveID() string      { return s.id }
func (s *Store) Config() map[string]any { return s.cfg }

func (s *Store) Contains(ctx context.Context, h canon.Digest) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM values_tbl WHERE value_hash = ?`, h.String()).Scan(&n)
	return n > 0, err
}

func (s *Store) LoadValue(ctx context.Context, h canon.Digest) (*archive.StoredValue, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, schema, data_config, payload, size, origin, metadata, created_at FROM values_tbl WHERE value_hash = ?`, h.String())
	sv, err := scanValue(row, h)
	if err == sql.ErrNoRows {
		return nil, archive.ErrNotFound
	}
	return sv, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanValue(row rowScanner, h canon.Digest) (*archive.StoredValue, error) {
	var (
		idStr                          string
		schemaB, dataConfigB, originB  []byte
		metadataB                      []byte
		payload                        []byte
		size                           int
		createdAtStr                   string
	)
	if err := row.Scan(&idStr, &schemaB, &dataConfigB, &payload, &size, &originB, &metadataB, &createdAtStr); err != nil {
		return nil, err
	}
	sv := &archive.StoredValue{Hash: h, Payload: payload, Size: size}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: parse value id: %w", err)
	}
	sv.ID = id
	if err := canon.Decode(schemaB, &sv.Schema); err != nil {
		return nil, fmt.Errorf("sqlstore: decode schema: %w", err)
	}
	if len(dataConfigB) > 0 {
		if err := canon.Decode(dataConfigB, &sv.DataConfig); err != nil {
			return nil, fmt.Errorf("sqlstore: decode data_config: %w", err)
		}
	}
	if err := canon.Decode(originB, &sv.Origin); err != nil {
		return nil, fmt.Errorf("sqlstore: decode origin: %w", err)
	}
	if len(metadataB) > 0 {
		if err := canon.Decode(metadataB, &sv.Metadata); err != nil {
			return nil, fmt.Errorf("sqlstore: decode metadata: %w", err)
		}
	}
	createdAt, err := time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: parse created_at: %w", err)
	}
	sv.CreatedAt = createdAt
	return sv, nil
}

func (s *Store) IterValues(ctx context.Context) iter.Seq2[*archive.StoredValue, error] {
	return func(yield func(*archive.StoredValue, error) bool) {
		rows, err := s.db.QueryContext(ctx, `SELECT value_hash, id, schema, data_config, payload, size, origin, metadata, created_at FROM values_tbl`)
		if err != nil {
			yield(nil, err)
			return
		}
		defer rows.Close()
		for rows.Next() {
			var hashStr string
			var idStr string
			var schemaB, dataConfigB, originB, metadataB, payload []byte
			var size int
			var createdAtStr string
			if err := rows.Scan(&hashStr, &idStr, &schemaB, &dataConfigB, &payload, &size, &originB, &metadataB, &createdAtStr); err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			h, err := canon.ParseDigestString(hashStr)
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			sv, err := scanValue(fixedRow{idStr, schemaB, dataConfigB, payload, size, originB, metadataB, createdAtStr}, h)
			if !yield(sv, err) {
				return
			}
		}
	}
}

// fixedRow adapts already-scanned column values to the rowScanner
// interface so IterValues can reuse scanValue's decoding logic.
type fixedRow struct {
	idStr                         string
	schemaB, dataConfigB, payload []byte
	size                          int
	originB, metadataB            []byte
	createdAtStr                  string
}

func (f fixedRow) Scan(dest ...any) error {
	*(dest[0].(*string)) = f.idStr
	*(dest[1].(*[]byte)) = f.schemaB
	*(dest[2].(*[]byte)) = f.dataConfigB
	*(dest[3].(*[]byte)) = f.payload
	*(dest[4].(*int)) = f.size
	*(dest[5].(*[]byte)) = f.originB
	*(dest[6].(*[]byte)) = f.metadataB
	*(dest[7].(*string)) = f.createdAtStr
	return nil
}

func (s *Store) WriteValue(ctx context.Context, v *archive.StoredValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.Contains(ctx, v.Hash)
	if err != nil {
		return err
	}
	if exists {
		return nil // idempotent no-op
	}

	schemaB, err := canon.Encode(v.Schema)
	if err != nil {
		return err
	}
	var dataConfigB []byte
	if v.DataConfig != nil {
		dataConfigB, err = canon.Encode(v.DataConfig)
		if err != nil {
			return err
		}
	}
	originB, err := canon.Encode(v.Origin)
	if err != nil {
		return err
	}
	var metadataB []byte
	if v.Metadata != nil {
		metadataB, err = canon.Encode(v.Metadata)
		if err != nil {
			return err
		}
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO values_tbl (value_hash, id, schema, data_config, payload, size, origin, metadata, created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		v.Hash.String(), v.ID.String(), schemaB, dataConfigB, v.Payload, v.Size, originB, metadataB, v.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

func (s *Store) WriteAlias(ctx context.Context, name string, valueID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE aliases SET is_current = 0 WHERE name = ?`, name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO aliases (name, value_id, updated_at, is_current) VALUES (?, ?, ?, 1)`,
		name, valueID.String(), time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) LookupAlias(ctx context.Context, name string) (uuid.UUID, bool, error) {
	var idStr string
	err := s.db.QueryRowContext(ctx, `SELECT value_id FROM aliases WHERE name = ? AND is_current = 1`, name).Scan(&idStr)
	if err == sql.ErrNoRows {
		return uuid.UUID{}, false, nil
	}
	if err != nil {
		return uuid.UUID{}, false, err
	}
	id, err := uuid.Parse(idStr)
	return id, err == nil, err
}

func (s *Store) AliasHistory(ctx context.Context, name string) ([]archive.AliasHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT value_id, updated_at FROM aliases WHERE name = ? ORDER BY updated_at ASC`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []archive.AliasHistoryEntry
	for rows.Next() {
		var idStr, updatedAtStr string
		if err := rows.Scan(&idStr, &updatedAtStr); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, err
		}
		updatedAt, err := time.Parse(time.RFC3339, updatedAtStr)
		if err != nil {
			return nil, err
		}
		out = append(out, archive.AliasHistoryEntry{ValueID: id, UpdatedAt: updatedAt})
	}
	return out, nil
}

func (s *Store) ListAliases(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT name FROM aliases`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, nil
}

func (s *Store) WriteJob(ctx context.Context, j *archive.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	configB, err := canon.Encode(j.ModuleConfig)
	if err != nil {
		return err
	}
	inputsB, err := canon.Encode(j.Inputs)
	if err != nil {
		return err
	}
	outputsB, err := canon.Encode(j.Outputs)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO jobs (job_hash, manifest_hash, module_type, module_config, inputs, outputs, started_at, finished_at, runtime_ms, comment, status)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		j.JobHash.String(), j.ManifestHash.String(), j.ModuleType, configB, inputsB, outputsB,
		j.StartedAt.UTC().Format(time.RFC3339), j.FinishedAt.UTC().Format(time.RFC3339), j.RuntimeMilliseconds, j.Comment, j.Status)
	return err
}

func (s *Store) LookupJob(ctx context.Context, h canon.Digest) (*archive.JobRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT job_hash, manifest_hash, module_type, module_config, inputs, outputs, started_at, finished_at, runtime_ms, comment, status FROM jobs WHERE job_hash = ?`, h.String())
	var (
		jobHashStr, manifestHashStr, moduleType, startedAtStr, finishedAtStr, comment, status string
		configB, inputsB, outputsB                                                             []byte
		runtimeMs                                                                              int64
	)
	if err := row.Scan(&jobHashStr, &manifestHashStr, &moduleType, &configB, &inputsB, &outputsB, &startedAtStr, &finishedAtStr, &runtimeMs, &comment, &status); err != nil {
		if err == sql.ErrNoRows {
			return nil, archive.ErrNotFound
		}
		return nil, err
	}
	jobHash, err := canon.ParseDigestString(jobHashStr)
	if err != nil {
		return nil, err
	}
	manifestHash, err := canon.ParseDigestString(manifestHashStr)
	if err != nil {
		return nil, err
	}
	j := &archive.JobRecord{JobHash: jobHash, ManifestHash: manifestHash, ModuleType: moduleType, Comment: comment, Status: status, RuntimeMilliseconds: runtimeMs}
	if err := canon.Decode(configB, &j.ModuleConfig); err != nil {
		return nil, err
	}
	if err := canon.Decode(inputsB, &j.Inputs); err != nil {
		return nil, err
	}
	if err := canon.Decode(outputsB, &j.Outputs); err != nil {
		return nil, err
	}
	j.StartedAt, err = time.Parse(time.RFC3339, startedAtStr)
	if err != nil {
		return nil, err
	}
	j.FinishedAt, err = time.Parse(time.RFC3339, finishedAtStr)
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (s *Store) RetainJobComment(ctx context.Context, jobHash canon.Digest, comment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET comment = ? WHERE job_hash = ?`, comment, jobHash.String())
	return err
}

func (s *Store) Close() error { return s.db.Close() }

var _ archive.Store = (*Store)(nil)
