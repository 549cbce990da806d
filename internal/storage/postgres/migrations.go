package postgres

// migrations are the embedded SQL statements that bring a fresh database up
// to the persisted schema: subjects, schemas, schema_versions, configs.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS subjects (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL UNIQUE
	)`,

	`CREATE TABLE IF NOT EXISTS schemas (
		id BIGSERIAL PRIMARY KEY,
		fingerprint VARCHAR(64) NOT NULL,
		json TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		deleted_at TIMESTAMP WITH TIME ZONE
	)`,

	`CREATE INDEX IF NOT EXISTS idx_schemas_fingerprint ON schemas(fingerprint)`,

	`CREATE TABLE IF NOT EXISTS schema_versions (
		subject_id BIGINT NOT NULL REFERENCES subjects(id),
		schema_id BIGINT NOT NULL REFERENCES schemas(id),
		version INTEGER NOT NULL,
		UNIQUE (subject_id, version),
		UNIQUE (subject_id, schema_id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_schema_versions_subject ON schema_versions(subject_id)`,

	// subject_id is nullable; the global config row is the single NULL-keyed
	// singleton. A partial unique index enforces that singleton since a
	// plain UNIQUE constraint does not treat NULL as a key.
	`CREATE TABLE IF NOT EXISTS configs (
		subject_id BIGINT REFERENCES subjects(id),
		compatibility VARCHAR(50) NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS idx_configs_subject ON configs(subject_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_configs_global ON configs((1)) WHERE subject_id IS NULL`,
}
