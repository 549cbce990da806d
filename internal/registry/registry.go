// Package registry hosts the core schema registry service: the
// registration state machine, the version and config resolvers, and the
// read-side query operations. It orchestrates the fingerprinter, the
// compatibility engine, and a storage.Store; it holds no state of its own
// beyond what those collaborators provide.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/hamba/avro/v2"

	"github.com/vectos/avro-schema-registry/internal/compatibility"
	"github.com/vectos/avro-schema-registry/internal/fingerprint"
	"github.com/vectos/avro-schema-registry/internal/metrics"
	"github.com/vectos/avro-schema-registry/internal/storage"
)

// maxRegisterAttempts bounds the retry loop on a concurrent registrant
// winning the same version or fingerprint.
const maxRegisterAttempts = 8

// Options configures registration-service behavior left to the deployer.
type Options struct {
	// AutoCreateSubjects: when false (the default, matching the source),
	// RegisterSchema requires a pre-existing subject and returns
	// ErrSubjectNotFound otherwise. When true, the subject is created as
	// part of the registration.
	AutoCreateSubjects bool

	// DefaultCompatibility is the policy used when neither a subject nor a
	// global config row exists. Defaults to compatibility.Backward.
	DefaultCompatibility compatibility.Policy
}

// Registry is the core schema registry service.
type Registry struct {
	store   storage.Store
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Registry over store. m is nil-safe: a nil metrics.Metrics
// gets a private instance, matching the logger's nil-default convention,
// but a caller wanting the registry's domain counters exposed on the same
// /metrics endpoint as the HTTP server should share one Metrics instance
// between registry.New and api.NewServer.
func New(store storage.Store, opts Options, logger *slog.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Registry{store: store, opts: opts, logger: logger, metrics: m}
}

func (r *Registry) defaultCompatibility() compatibility.Policy {
	if r.opts.DefaultCompatibility != "" {
		return r.opts.DefaultCompatibility
	}
	return compatibility.Backward
}

// IsHealthy reports whether the backing store is reachable.
func (r *Registry) IsHealthy(ctx context.Context) bool {
	return r.store.IsHealthy(ctx)
}

// VersionID is either the sentinel Latest or a positive integer.
type VersionID struct {
	Latest bool
	N      int32
}

// LatestVersion is the "latest" sentinel.
func LatestVersion() VersionID { return VersionID{Latest: true} }

// ParseVersionID parses the {version} path token: the literal "latest" or a
// positive decimal integer. Any other token, or a non-positive integer, is
// ErrInvalidVersion.
func ParseVersionID(token string) (VersionID, error) {
	if token == "latest" {
		return LatestVersion(), nil
	}
	n, err := strconv.ParseInt(token, 10, 32)
	if err != nil || n <= 0 {
		return VersionID{}, ErrInvalidVersion
	}
	return VersionID{N: int32(n)}, nil
}

// mapStorageNotFound translates storage's sentinel errors into the
// registry's terminal taxonomy; SchemaNotFound and VersionNotFound both
// surface as ErrSchemaNotFound (error_code 40402) since the wire
// contract does not distinguish "no such version" from "no such schema".
func mapStorageNotFound(err error) error {
	switch {
	case errors.Is(err, storage.ErrSubjectNotFound):
		return ErrSubjectNotFound
	case errors.Is(err, storage.ErrSchemaNotFound), errors.Is(err, storage.ErrVersionNotFound):
		return ErrSchemaNotFound
	default:
		return fmt.Errorf("storage: %w", err)
	}
}

// resolveVersion: Latest consults MaxVersion; a concrete N passes through
// unchecked, since the subsequent read determines existence.
func (r *Registry) resolveVersion(ctx context.Context, subject string, v VersionID) (int32, error) {
	if !v.Latest {
		return v.N, nil
	}
	max, err := r.store.MaxVersion(ctx, subject)
	if err != nil {
		return 0, mapStorageNotFound(err)
	}
	if max == nil {
		return 0, ErrSchemaNotFound
	}
	return *max, nil
}

// resolveCompatibility: subject override, then global override, then
// Options.DefaultCompatibility (BACKWARD when that is empty). subjectID nil
// skips straight to the global lookup.
func (r *Registry) resolveCompatibility(ctx context.Context, subjectID *int64) (compatibility.Policy, error) {
	if subjectID != nil {
		cfg, err := r.store.ConfigGet(ctx, subjectID)
		if err != nil {
			return "", fmt.Errorf("resolve subject config: %w", err)
		}
		if cfg != nil {
			return compatibility.Policy(cfg.Compatibility), nil
		}
	}
	cfg, err := r.store.ConfigGet(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("resolve global config: %w", err)
	}
	if cfg != nil {
		return compatibility.Policy(cfg.Compatibility), nil
	}
	return r.defaultCompatibility(), nil
}

// subjectIDOrNil looks up a subject by name, returning a nil id (not an
// error) when absent. Config operations fold a missing subject into the
// global key, which is why GET/PUT /config/{subject} never returns a
// not-found error.
func (r *Registry) subjectIDOrNil(ctx context.Context, subject string) (*int64, error) {
	sub, err := r.store.SubjectFind(ctx, subject)
	if err != nil {
		if errors.Is(err, storage.ErrSubjectNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find subject: %w", err)
	}
	return &sub.ID, nil
}

// GlobalConfig returns the global default policy. When no global row is
// stored it returns Options.DefaultCompatibility, which is BACKWARD when
// that option is empty.
func (r *Registry) GlobalConfig(ctx context.Context) (compatibility.Policy, error) {
	cfg, err := r.store.ConfigGet(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("get global config: %w", err)
	}
	if cfg == nil {
		return r.defaultCompatibility(), nil
	}
	return compatibility.Policy(cfg.Compatibility), nil
}

// SetGlobalConfig upserts the global policy.
func (r *Registry) SetGlobalConfig(ctx context.Context, policy compatibility.Policy) error {
	if !policy.IsValid() {
		return ErrInvalidCompatibility
	}
	if err := r.store.ConfigSet(ctx, nil, string(policy)); err != nil {
		return fmt.Errorf("set global config: %w", err)
	}
	return nil
}

// SubjectConfig resolves the effective policy for subject.
func (r *Registry) SubjectConfig(ctx context.Context, subject string) (compatibility.Policy, error) {
	id, err := r.subjectIDOrNil(ctx, subject)
	if err != nil {
		return "", err
	}
	return r.resolveCompatibility(ctx, id)
}

// SetSubjectConfig upserts subject's override.
func (r *Registry) SetSubjectConfig(ctx context.Context, subject string, policy compatibility.Policy) error {
	if !policy.IsValid() {
		return ErrInvalidCompatibility
	}
	id, err := r.subjectIDOrNil(ctx, subject)
	if err != nil {
		return err
	}
	if err := r.store.ConfigSet(ctx, id, string(policy)); err != nil {
		return fmt.Errorf("set subject config: %w", err)
	}
	return nil
}

// ListSubjects returns every subject name.
func (r *Registry) ListSubjects(ctx context.Context) ([]string, error) {
	subs, err := r.store.SubjectAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	names := make([]string, len(subs))
	for i, s := range subs {
		names[i] = s.Name
	}
	r.metrics.UpdateSubjectCount(float64(len(names)))
	return names, nil
}

// ListVersions returns subject's live version numbers, ascending.
func (r *Registry) ListVersions(ctx context.Context, subject string) ([]int32, error) {
	versions, err := r.store.SubjectVersions(ctx, subject)
	if err != nil {
		return nil, mapStorageNotFound(err)
	}
	r.metrics.UpdateSchemaVersions(subject, float64(len(versions)))
	return versions, nil
}

// GetSchemaByID returns the raw schema text for a globally unique schema id.
func (r *Registry) GetSchemaByID(ctx context.Context, id int64) (string, error) {
	schema, err := r.store.SchemaFindByID(ctx, id)
	if err != nil {
		return "", mapStorageNotFound(err)
	}
	return schema.JSON, nil
}

// GetSchemaByVersion resolves versionID against subject and returns the
// bound VersionedSchema.
func (r *Registry) GetSchemaByVersion(ctx context.Context, subject string, v VersionID) (*storage.VersionedSchema, error) {
	version, err := r.resolveVersion(ctx, subject, v)
	if err != nil {
		return nil, err
	}
	vs, err := r.store.SchemaFindByVersion(ctx, subject, version)
	if err != nil {
		return nil, mapStorageNotFound(err)
	}
	return vs, nil
}

// GetSchemaByText fingerprints schemaText and looks it up under subject —
// the "is this schema already registered" query behind POST /subjects/{subject}.
func (r *Registry) GetSchemaByText(ctx context.Context, subject, schemaText string) (*storage.VersionedSchema, error) {
	parsed, err := fingerprint.Parse(schemaText)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAvro, err)
	}
	vs, err := r.store.SchemaFindByFingerprint(ctx, subject, parsed.Fingerprint())
	if err != nil {
		return nil, mapStorageNotFound(err)
	}
	return vs, nil
}

// RegisterSchema runs the registration state machine: parse and
// fingerprint, dedup against the subject's existing rows, resolve the
// effective policy, check compatibility against history, and atomically
// bind a new version — retrying a bounded number of times when a
// concurrent registrant wins the race on the next version or fingerprint.
func (r *Registry) RegisterSchema(ctx context.Context, subject, schemaText string) (int64, error) {
	parsed, err := fingerprint.Parse(schemaText)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrAvro, err)
	}

	// attemptID correlates every retry of this one logical registration
	// across the Debug log lines below.
	attemptID := uuid.NewString()

	for attempt := 0; attempt < maxRegisterAttempts; attempt++ {
		id, done, err := r.tryRegister(ctx, subject, parsed)
		if err != nil {
			r.metrics.RecordSchemaRegistration(false)
			return 0, err
		}
		if done {
			r.metrics.RecordSchemaRegistration(true)
			return id, nil
		}
		r.logger.Debug("registration conflict, retrying",
			slog.String("subject", subject), slog.String("attempt_id", attemptID), slog.Int("attempt", attempt))
	}
	r.metrics.RecordSchemaRegistration(false)
	return 0, fmt.Errorf("registration: exhausted %d attempts for subject %q", maxRegisterAttempts, subject)
}

// tryRegister runs one pass of the state machine. done=false means the
// atomic insert lost a race and the caller should retry from a fresh read.
func (r *Registry) tryRegister(ctx context.Context, subject string, parsed *fingerprint.Schema) (id int64, done bool, err error) {
	// Deduplicated: a live row for this (subject, fingerprint) already
	// exists. No compatibility check, no new version.
	existing, err := r.store.SchemaFindByFingerprint(ctx, subject, parsed.Fingerprint())
	if err == nil {
		return existing.ID, true, nil
	}
	if !errors.Is(err, storage.ErrSchemaNotFound) && !errors.Is(err, storage.ErrSubjectNotFound) {
		return 0, false, fmt.Errorf("lookup schema by fingerprint: %w", err)
	}

	// Authorized: the subject must already exist unless auto-create is on.
	subjectRow, err := r.store.SubjectFind(ctx, subject)
	if err != nil {
		if !errors.Is(err, storage.ErrSubjectNotFound) {
			return 0, false, fmt.Errorf("find subject: %w", err)
		}
		if !r.opts.AutoCreateSubjects {
			return 0, false, ErrSubjectNotFound
		}
		subjectRow, err = r.store.SubjectCreate(ctx, subject)
		if err != nil {
			return 0, false, fmt.Errorf("create subject: %w", err)
		}
	}

	// Checked: load history (newest-first), resolve policy, run the engine.
	history, err := r.store.SubjectSchemas(ctx, subject)
	if err != nil && !errors.Is(err, storage.ErrSubjectNotFound) {
		return 0, false, fmt.Errorf("load subject history: %w", err)
	}

	policy, err := r.resolveCompatibility(ctx, &subjectRow.ID)
	if err != nil {
		return 0, false, err
	}

	avroHistory := make([]avro.Schema, 0, len(history))
	for _, h := range history {
		historical, parseErr := avro.Parse(h.JSON)
		if parseErr != nil {
			r.metrics.RecordCompatibilityError(string(policy))
			return 0, false, fmt.Errorf("parse historical schema %d: %w", h.ID, parseErr)
		}
		avroHistory = append(avroHistory, historical)
	}

	result := compatibility.Check(avroHistory, parsed.Avro(), policy)
	r.metrics.RecordCompatibilityCheck(string(policy), result.Compatible)
	if !result.Compatible {
		r.logger.Debug("incompatible schema",
			slog.String("subject", subject), slog.String("policy", string(policy)))
		return 0, false, fmt.Errorf("%w: %s", ErrIncompatibleSchema, strings.Join(result.Messages, "; "))
	}

	// Persisted: allocate the next version and insert atomically.
	var nextVersion int32 = 1
	if len(history) > 0 {
		nextVersion = history[0].Version + 1
	}

	schemaID, err := r.store.AtomicRegister(ctx, parsed.Fingerprint(), parsed.Text(), subjectRow.ID, nextVersion)
	if err != nil {
		if storage.IsConflict(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("atomic register: %w", err)
	}
	return schemaID, true, nil
}

// CompatibilityProbe is the diagnostic operation: independent of the
// configured policy and of registration, it reports the strongest
// Policy the stored schema at v and candidateText mutually satisfy.
func (r *Registry) CompatibilityProbe(ctx context.Context, subject string, v VersionID, candidateText string) (compatibility.Policy, error) {
	vs, err := r.GetSchemaByVersion(ctx, subject, v)
	if err != nil {
		return "", err
	}
	existing, err := avro.Parse(vs.JSON)
	if err != nil {
		return "", fmt.Errorf("parse stored schema: %w", err)
	}
	candidate, err := fingerprint.Parse(candidateText)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrAvro, err)
	}
	return compatibility.Probe(existing, candidate.Avro()), nil
}
