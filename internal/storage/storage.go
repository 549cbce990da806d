// Package storage defines the persistence contract: abstract, transactional
// operations over the registry's four entities (Subjects, Schemas,
// SchemaVersions, Configs). This is the single capability boundary the
// engine depends on; the only production implementation is the Postgres
// backend in ./postgres, and tests substitute the in-memory double in
// ./memory.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Store methods. The registry translates these
// via errors.Is into its own error taxonomy, which the wire adapter maps to
// HTTP status and error_code; internal callers never need to inspect an
// error's dynamic type.
var (
	ErrSubjectNotFound = errors.New("subject not found")
	ErrSchemaNotFound  = errors.New("schema not found")
	ErrVersionNotFound = errors.New("version not found")
	ErrSchemaExists    = errors.New("schema already exists for subject")
)

// Subject is a named lineage of schema versions.
type Subject struct {
	ID   int64
	Name string
}

// Schema is a stored Avro schema, content-addressed by fingerprint within a
// subject.
type Schema struct {
	ID          int64
	Fingerprint string
	JSON        string
	CreatedAt   time.Time
	DeletedAt   *time.Time
}

// VersionedSchema binds a Schema into a Subject's history at a specific
// version.
type VersionedSchema struct {
	Subject string
	Version int32
	ID      int64
	JSON    string
}

// Config is the resolved (or overridden) compatibility policy for a subject,
// or the global default when SubjectID is nil.
type Config struct {
	SubjectID     *int64
	Compatibility string
	UpdatedAt     time.Time
}

// Store is the persistence contract. Every write-combining method is
// atomic: all-or-nothing, isolation at least Read Committed, Serializable
// recommended for AtomicRegister.
type Store interface {
	// SchemaFindByID returns the raw schema JSON for a globally unique
	// schema id, regardless of subject.
	SchemaFindByID(ctx context.Context, id int64) (*Schema, error)

	// SchemaFindByVersion returns the live schema bound to (subject, version).
	SchemaFindByVersion(ctx context.Context, subject string, version int32) (*VersionedSchema, error)

	// SchemaFindByFingerprint returns the live schema in subject whose
	// canonical fingerprint matches fp, joining through schema_versions.
	SchemaFindByFingerprint(ctx context.Context, subject, fingerprint string) (*VersionedSchema, error)

	// SubjectFind looks up a subject by name.
	SubjectFind(ctx context.Context, name string) (*Subject, error)

	// SubjectAll lists every subject, ordered by id.
	SubjectAll(ctx context.Context) ([]Subject, error)

	// SubjectVersions lists a subject's live version numbers, ascending.
	SubjectVersions(ctx context.Context, subject string) ([]int32, error)

	// SubjectSchemas lists a subject's live schemas ordered descending by
	// version. The compatibility engine and the registration service's
	// next-version allocation both depend on this ordering.
	SubjectSchemas(ctx context.Context, subject string) ([]VersionedSchema, error)

	// MaxVersion returns the highest live version for subject, or nil if the
	// subject has no versions.
	MaxVersion(ctx context.Context, subject string) (*int32, error)

	// ConfigGet returns the configured policy for subjectID, or for the
	// global row when subjectID is nil.
	ConfigGet(ctx context.Context, subjectID *int64) (*Config, error)

	// ConfigSet upserts the configured policy for subjectID (nil means the
	// global row), keyed as a distinct row even when subjectID is nil.
	ConfigSet(ctx context.Context, subjectID *int64, policy string) error

	// AtomicRegister inserts a Schema row and binds it to subjectID at
	// nextVersion within a single transaction. If a concurrent registrant
	// already claimed nextVersion, or already holds a live row for this
	// fingerprint under the subject, this returns a conflict error the
	// caller recognizes via IsConflict and retries against freshly read
	// history.
	AtomicRegister(ctx context.Context, fingerprint, json string, subjectID int64, nextVersion int32) (schemaID int64, err error)

	// SubjectCreate creates a new subject row, used when auto-create is
	// enabled.
	SubjectCreate(ctx context.Context, name string) (*Subject, error)

	// SchemaSoftDelete marks a schema row deleted and removes its
	// schema_versions bindings, within one transaction.
	SchemaSoftDelete(ctx context.Context, schemaID int64) (rowsAffected int64, err error)

	// Close releases any underlying resources (connection pool, etc).
	Close() error

	// IsHealthy reports whether the backing store is reachable.
	IsHealthy(ctx context.Context) bool
}

// IsConflict reports whether err represents a transaction abort caused by a
// concurrent registrant winning the same version or fingerprint — the only
// condition the registration service retries on.
func IsConflict(err error) bool {
	var c interface{ Conflict() bool }
	if errors.As(err, &c) {
		return c.Conflict()
	}
	return false
}
