// Package memory implements an in-process Store, used for tests and as the
// "memory" storage.type backend for local development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vectos/avro-schema-registry/internal/storage"
)

type schemaRow struct {
	id          int64
	fingerprint string
	json        string
	createdAt   time.Time
	deletedAt   *time.Time
}

type versionRow struct {
	subjectID int64
	schemaID  int64
	version   int32
}

// conflictError signals a unique-constraint-style conflict to the
// registration retry loop, mirroring the Postgres backend's classification
// of 23505/40001 errors.
type conflictError struct{ msg string }

func (e *conflictError) Error() string  { return e.msg }
func (e *conflictError) Conflict() bool { return true }

// Store is an in-memory Store guarded by a single mutex. Correctness here
// comes from the mutex, not from a simulated transaction log; the
// AtomicRegister conflict path still exercises the same caller contract the
// Postgres backend does.
type Store struct {
	mu sync.Mutex

	nextSubjectID int64
	nextSchemaID  int64

	subjectsByName map[string]*storage.Subject
	subjectsByID   map[int64]*storage.Subject
	subjectOrder   []int64

	schemas  map[int64]*schemaRow
	versions []versionRow // insertion order; filtered per query

	// configs keyed by subject id; global row keyed by 0.
	configs map[int64]*storage.Config
}

const globalConfigKey = 0

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		nextSubjectID:  1,
		nextSchemaID:   1,
		subjectsByName: make(map[string]*storage.Subject),
		subjectsByID:   make(map[int64]*storage.Subject),
		schemas:        make(map[int64]*schemaRow),
		configs:        make(map[int64]*storage.Config),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) IsHealthy(_ context.Context) bool { return true }

func (s *Store) SubjectCreate(_ context.Context, name string) (*storage.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.subjectsByName[name]; ok {
		return sub, nil
	}

	sub := &storage.Subject{ID: s.nextSubjectID, Name: name}
	s.nextSubjectID++
	s.subjectsByName[name] = sub
	s.subjectsByID[sub.ID] = sub
	s.subjectOrder = append(s.subjectOrder, sub.ID)
	return sub, nil
}

func (s *Store) SubjectFind(_ context.Context, name string) (*storage.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subjectsByName[name]
	if !ok {
		return nil, storage.ErrSubjectNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *Store) SubjectAll(_ context.Context) ([]storage.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]storage.Subject, 0, len(s.subjectOrder))
	for _, id := range s.subjectOrder {
		out = append(out, *s.subjectsByID[id])
	}
	return out, nil
}

func (s *Store) liveVersionsLocked(subjectID int64) []versionRow {
	var rows []versionRow
	for _, v := range s.versions {
		if v.subjectID != subjectID {
			continue
		}
		if row, ok := s.schemas[v.schemaID]; ok && row.deletedAt == nil {
			rows = append(rows, v)
		}
	}
	return rows
}

func (s *Store) SubjectVersions(_ context.Context, subject string) ([]int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subjectsByName[subject]
	if !ok {
		return nil, storage.ErrSubjectNotFound
	}

	rows := s.liveVersionsLocked(sub.ID)
	out := make([]int32, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.version)
	}
	sortInt32Asc(out)
	return out, nil
}

func (s *Store) SubjectSchemas(_ context.Context, subject string) ([]storage.VersionedSchema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subjectsByName[subject]
	if !ok {
		return nil, storage.ErrSubjectNotFound
	}

	rows := s.liveVersionsLocked(sub.ID)
	out := make([]storage.VersionedSchema, 0, len(rows))
	for _, r := range rows {
		schema := s.schemas[r.schemaID]
		out = append(out, storage.VersionedSchema{
			Subject: subject,
			Version: r.version,
			ID:      schema.id,
			JSON:    schema.json,
		})
	}
	sortVersionedSchemasDesc(out)
	return out, nil
}

func (s *Store) MaxVersion(_ context.Context, subject string) (*int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subjectsByName[subject]
	if !ok {
		return nil, storage.ErrSubjectNotFound
	}

	rows := s.liveVersionsLocked(sub.ID)
	if len(rows) == 0 {
		return nil, nil
	}
	max := rows[0].version
	for _, r := range rows[1:] {
		if r.version > max {
			max = r.version
		}
	}
	return &max, nil
}

func (s *Store) SchemaFindByID(_ context.Context, id int64) (*storage.Schema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.schemas[id]
	if !ok || row.deletedAt != nil {
		return nil, storage.ErrSchemaNotFound
	}
	return &storage.Schema{
		ID:          row.id,
		Fingerprint: row.fingerprint,
		JSON:        row.json,
		CreatedAt:   row.createdAt,
		DeletedAt:   row.deletedAt,
	}, nil
}

func (s *Store) SchemaFindByVersion(_ context.Context, subject string, version int32) (*storage.VersionedSchema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subjectsByName[subject]
	if !ok {
		return nil, storage.ErrSubjectNotFound
	}

	for _, v := range s.liveVersionsLocked(sub.ID) {
		if v.version == version {
			schema := s.schemas[v.schemaID]
			return &storage.VersionedSchema{Subject: subject, Version: version, ID: schema.id, JSON: schema.json}, nil
		}
	}
	return nil, storage.ErrVersionNotFound
}

func (s *Store) SchemaFindByFingerprint(_ context.Context, subject, fingerprint string) (*storage.VersionedSchema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subjectsByName[subject]
	if !ok {
		return nil, storage.ErrSubjectNotFound
	}

	for _, v := range s.liveVersionsLocked(sub.ID) {
		schema := s.schemas[v.schemaID]
		if schema.fingerprint == fingerprint {
			return &storage.VersionedSchema{Subject: subject, Version: v.version, ID: schema.id, JSON: schema.json}, nil
		}
	}
	return nil, storage.ErrSchemaNotFound
}

func (s *Store) AtomicRegister(_ context.Context, fingerprint, json string, subjectID int64, nextVersion int32) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range s.liveVersionsLocked(subjectID) {
		if v.version == nextVersion {
			return 0, &conflictError{msg: "version already claimed by a concurrent registrant"}
		}
		if s.schemas[v.schemaID].fingerprint == fingerprint {
			return 0, &conflictError{msg: "fingerprint already claimed by a concurrent registrant"}
		}
	}

	id := s.nextSchemaID
	s.nextSchemaID++
	s.schemas[id] = &schemaRow{id: id, fingerprint: fingerprint, json: json, createdAt: time.Now()}
	s.versions = append(s.versions, versionRow{subjectID: subjectID, schemaID: id, version: nextVersion})
	return id, nil
}

func (s *Store) SchemaSoftDelete(_ context.Context, schemaID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.schemas[schemaID]
	if !ok || row.deletedAt != nil {
		return 0, nil
	}
	now := time.Now()
	row.deletedAt = &now

	kept := s.versions[:0]
	for _, v := range s.versions {
		if v.schemaID != schemaID {
			kept = append(kept, v)
		}
	}
	s.versions = kept

	return 1, nil
}

func (s *Store) configKey(subjectID *int64) int64 {
	if subjectID == nil {
		return globalConfigKey
	}
	return *subjectID
}

func (s *Store) ConfigGet(_ context.Context, subjectID *int64) (*storage.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.configs[s.configKey(subjectID)]
	if !ok {
		return nil, nil
	}
	cp := *cfg
	return &cp, nil
}

func (s *Store) ConfigSet(_ context.Context, subjectID *int64, policy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.configs[s.configKey(subjectID)] = &storage.Config{
		SubjectID:     subjectID,
		Compatibility: policy,
		UpdatedAt:     time.Now(),
	}
	return nil
}

var _ storage.Store = (*Store)(nil)
