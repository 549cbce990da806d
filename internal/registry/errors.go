package registry

import "errors"

// Terminal error taxonomy. The wire adapter maps each of these to an HTTP
// status and error_code via errors.Is; every other error propagates as an
// opaque storage error mapped to 500.
var (
	// ErrSubjectNotFound is returned when an operation is subject-scoped and
	// no subject with that name exists.
	ErrSubjectNotFound = errors.New("subject not found")

	// ErrSchemaNotFound is returned when the subject exists but the
	// requested schema/version/id does not.
	ErrSchemaNotFound = errors.New("schema not found")

	// ErrInvalidVersion is returned by the version-token parser for a
	// non-positive integer or a token that is neither "latest" nor a
	// decimal integer.
	ErrInvalidVersion = errors.New("invalid version")

	// ErrIncompatibleSchema is returned when the compatibility engine
	// rejects a candidate against the subject's history.
	ErrIncompatibleSchema = errors.New("incompatible schema")

	// ErrAvro is returned when the submitted schema text fails to parse.
	ErrAvro = errors.New("invalid avro schema")

	// ErrBadRequest is returned for a malformed request (missing schema
	// field, invalid JSON body).
	ErrBadRequest = errors.New("bad request")

	// ErrInvalidCompatibility is returned when a config write names a
	// token outside the seven named policies.
	ErrInvalidCompatibility = errors.New("invalid compatibility level")
)
