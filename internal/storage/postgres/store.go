// Package postgres implements storage.Store against PostgreSQL, the
// production backend for the schema-evolution registry's four-entity
// persistence contract.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vectos/avro-schema-registry/internal/storage"
)

// Config holds PostgreSQL connection configuration. URL, when set, is used
// verbatim as the connection string and the individual fields are ignored.
type Config struct {
	URL             string        `json:"url" yaml:"url"`
	Host            string        `json:"host" yaml:"host"`
	Port            int           `json:"port" yaml:"port"`
	Database        string        `json:"database" yaml:"database"`
	User            string        `json:"user" yaml:"user"`
	Password        string        `json:"password" yaml:"password"`
	SSLMode         string        `json:"ssl_mode" yaml:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            5432,
		Database:        "schema_registry",
		User:            "postgres",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DSN returns the driver connection string.
func (c Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.User, c.Password, c.SSLMode,
	)
}

// Store implements storage.Store on top of *sql.DB and the lib/pq driver.
type Store struct {
	db *sql.DB
}

// NewStore opens a connection pool, verifies connectivity, and runs the
// embedded migrations.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Migrate brings the schema up to date. Safe to call repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) IsHealthy(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(pingCtx) == nil
}

func (s *Store) SubjectCreate(ctx context.Context, name string) (*storage.Subject, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO subjects (name) VALUES ($1)
		 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`, name).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("create subject: %w", err)
	}
	return &storage.Subject{ID: id, Name: name}, nil
}

func (s *Store) SubjectFind(ctx context.Context, name string) (*storage.Subject, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM subjects WHERE name = $1`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrSubjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find subject: %w", err)
	}
	return &storage.Subject{ID: id, Name: name}, nil
}

func (s *Store) SubjectAll(ctx context.Context) ([]storage.Subject, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM subjects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()

	var out []storage.Subject
	for rows.Next() {
		var sub storage.Subject
		if err := rows.Scan(&sub.ID, &sub.Name); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) SubjectVersions(ctx context.Context, subject string) ([]int32, error) {
	if _, err := s.SubjectFind(ctx, subject); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sv.version FROM schema_versions sv
		INNER JOIN subjects sub ON sub.id = sv.subject_id
		INNER JOIN schemas sch ON sch.id = sv.schema_id
		WHERE sub.name = $1 AND sch.deleted_at IS NULL
		ORDER BY sv.version ASC`, subject)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []int32
	for rows.Next() {
		var v int32
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SubjectSchemas returns live schemas ordered descending by version — the
// ordering the compatibility engine and the max-version allocator depend on.
func (s *Store) SubjectSchemas(ctx context.Context, subject string) ([]storage.VersionedSchema, error) {
	if _, err := s.SubjectFind(ctx, subject); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sv.version, sch.id, sch.json FROM schemas sch
		INNER JOIN schema_versions sv ON sch.id = sv.schema_id
		INNER JOIN subjects sub ON sv.subject_id = sub.id
		WHERE sch.deleted_at IS NULL AND sub.name = $1
		ORDER BY sv.version DESC`, subject)
	if err != nil {
		return nil, fmt.Errorf("list subject schemas: %w", err)
	}
	defer rows.Close()

	var out []storage.VersionedSchema
	for rows.Next() {
		row := storage.VersionedSchema{Subject: subject}
		if err := rows.Scan(&row.Version, &row.ID, &row.JSON); err != nil {
			return nil, fmt.Errorf("scan subject schema: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) MaxVersion(ctx context.Context, subject string) (*int32, error) {
	if _, err := s.SubjectFind(ctx, subject); err != nil {
		return nil, err
	}

	var max sql.NullInt32
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(sv.version) FROM schema_versions sv
		INNER JOIN subjects sub ON sv.subject_id = sub.id
		INNER JOIN schemas sch ON sch.id = sv.schema_id
		WHERE sub.name = $1 AND sch.deleted_at IS NULL`, subject).Scan(&max)
	if err != nil {
		return nil, fmt.Errorf("max version: %w", err)
	}
	if !max.Valid {
		return nil, nil
	}
	v := max.Int32
	return &v, nil
}

func (s *Store) SchemaFindByID(ctx context.Context, id int64) (*storage.Schema, error) {
	schema := &storage.Schema{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, json, created_at, deleted_at FROM schemas WHERE id = $1`, id,
	).Scan(&schema.Fingerprint, &schema.JSON, &schema.CreatedAt, &schema.DeletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrSchemaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find schema by id: %w", err)
	}
	if schema.DeletedAt != nil {
		return nil, storage.ErrSchemaNotFound
	}
	return schema, nil
}

func (s *Store) SchemaFindByVersion(ctx context.Context, subject string, version int32) (*storage.VersionedSchema, error) {
	if _, err := s.SubjectFind(ctx, subject); err != nil {
		return nil, err
	}

	row := storage.VersionedSchema{Subject: subject, Version: version}
	err := s.db.QueryRowContext(ctx, `
		SELECT sch.id, sch.json FROM schemas sch
		INNER JOIN schema_versions sv ON sch.id = sv.schema_id
		INNER JOIN subjects sub ON sv.subject_id = sub.id
		WHERE sch.deleted_at IS NULL AND sv.version = $1 AND sub.name = $2`,
		version, subject,
	).Scan(&row.ID, &row.JSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find schema by version: %w", err)
	}
	return &row, nil
}

func (s *Store) SchemaFindByFingerprint(ctx context.Context, subject, fingerprint string) (*storage.VersionedSchema, error) {
	if _, err := s.SubjectFind(ctx, subject); err != nil {
		return nil, err
	}

	var row storage.VersionedSchema
	row.Subject = subject
	err := s.db.QueryRowContext(ctx, `
		SELECT sv.version, sch.id, sch.json FROM schemas sch
		INNER JOIN schema_versions sv ON sch.id = sv.schema_id
		INNER JOIN subjects sub ON sv.subject_id = sub.id
		WHERE sch.deleted_at IS NULL AND sch.fingerprint = $1 AND sub.name = $2`,
		fingerprint, subject,
	).Scan(&row.Version, &row.ID, &row.JSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrSchemaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find schema by fingerprint: %w", err)
	}
	return &row, nil
}

// conflictError signals a unique-constraint or serialization conflict to the
// registration retry loop.
type conflictError struct{ cause error }

func (e *conflictError) Error() string  { return fmt.Sprintf("registration conflict: %s", e.cause) }
func (e *conflictError) Unwrap() error  { return e.cause }
func (e *conflictError) Conflict() bool { return true }

// AtomicRegister inserts a Schema row and binds it to subjectID at
// nextVersion within a single transaction. It makes exactly one attempt: a
// unique-violation or serialization failure is reported as a conflict and
// left to the service layer, which re-fetches history and recomputes
// nextVersion before trying again. Retrying here against the same
// nextVersion could only repeat the identical conflict.
func (s *Store) AtomicRegister(ctx context.Context, fingerprint, json string, subjectID int64, nextVersion int32) (int64, error) {
	id, err := s.atomicRegisterAttempt(ctx, fingerprint, json, subjectID, nextVersion)
	if err == nil {
		return id, nil
	}
	if isRetriable(err) {
		return 0, &conflictError{cause: err}
	}
	return 0, err
}

func (s *Store) atomicRegisterAttempt(ctx context.Context, fingerprint, schemaJSON string, subjectID int64, nextVersion int32) (int64, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var fingerprintTaken bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM schemas sch
		INNER JOIN schema_versions sv ON sch.id = sv.schema_id
		WHERE sv.subject_id = $1 AND sch.fingerprint = $2 AND sch.deleted_at IS NULL)`,
		subjectID, fingerprint,
	).Scan(&fingerprintTaken); err != nil {
		return 0, fmt.Errorf("check fingerprint: %w", err)
	}
	if fingerprintTaken {
		return 0, &conflictError{cause: errors.New("fingerprint already registered under subject")}
	}

	var schemaID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO schemas (fingerprint, json, created_at) VALUES ($1, $2, NOW()) RETURNING id`,
		fingerprint, schemaJSON,
	).Scan(&schemaID)
	if err != nil {
		return 0, fmt.Errorf("insert schema: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_versions (subject_id, schema_id, version) VALUES ($1, $2, $3)`,
		subjectID, schemaID, nextVersion,
	); err != nil {
		return 0, fmt.Errorf("insert schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	return schemaID, nil
}

func (s *Store) SchemaSoftDelete(ctx context.Context, schemaID int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE schemas SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, schemaID)
	if err != nil {
		return 0, fmt.Errorf("soft delete schema: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM schema_versions WHERE schema_id = $1`, schemaID); err != nil {
		return 0, fmt.Errorf("delete schema versions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return affected, nil
}

func (s *Store) ConfigGet(ctx context.Context, subjectID *int64) (*storage.Config, error) {
	cfg := &storage.Config{SubjectID: subjectID}
	var query string
	var args []interface{}
	if subjectID == nil {
		query = `SELECT compatibility, updated_at FROM configs WHERE subject_id IS NULL`
	} else {
		query = `SELECT compatibility, updated_at FROM configs WHERE subject_id = $1`
		args = append(args, *subjectID)
	}

	err := s.db.QueryRowContext(ctx, query, args...).Scan(&cfg.Compatibility, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}
	return cfg, nil
}

func (s *Store) ConfigSet(ctx context.Context, subjectID *int64, policy string) error {
	if subjectID == nil {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO configs (subject_id, compatibility, updated_at) VALUES (NULL, $1, NOW())
			ON CONFLICT ((1)) WHERE subject_id IS NULL
			DO UPDATE SET compatibility = EXCLUDED.compatibility, updated_at = NOW()`, policy)
		if err != nil {
			return fmt.Errorf("set global config: %w", err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO configs (subject_id, compatibility, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (subject_id) DO UPDATE SET compatibility = EXCLUDED.compatibility, updated_at = NOW()`,
		*subjectID, policy)
	if err != nil {
		return fmt.Errorf("set subject config: %w", err)
	}
	return nil
}

// isRetriable classifies a Postgres error by SQLSTATE rather than by
// matching substrings in the error message: 23505 unique_violation, 40001
// serialization_failure, 40P01 deadlock_detected.
func isRetriable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505", "40001", "40P01":
			return true
		}
	}
	return false
}

var _ storage.Store = (*Store)(nil)
