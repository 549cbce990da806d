// Package fingerprint parses Avro schema text and derives its canonical
// content-identity fingerprint.
package fingerprint

import (
	"encoding/hex"
	"fmt"

	"github.com/hamba/avro/v2"
)

// ErrInvalidSchema is returned when the supplied text is not a well-formed
// Avro schema.
var ErrInvalidSchema = fmt.Errorf("invalid avro schema")

// Schema is a parsed Avro schema paired with its fingerprint and original text.
type Schema struct {
	raw         avro.Schema
	text        string
	fingerprint string
}

// Parse parses raw Avro schema JSON and computes its SHA-256 fingerprint over
// the Avro Parsing Canonical Form. The fingerprint is the sole content-identity
// key used by the registry: two schemas with identical fingerprint are
// treated as identical regardless of surface whitespace or field order.
func Parse(text string) (*Schema, error) {
	parsed, err := avro.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSchema, err)
	}

	sum := parsed.Fingerprint()

	return &Schema{
		raw:         parsed,
		text:        text,
		fingerprint: hex.EncodeToString(sum[:]),
	}, nil
}

// Fingerprint returns the 64-hex-character lowercase SHA-256 fingerprint.
func (s *Schema) Fingerprint() string { return s.fingerprint }

// Text returns the original schema text as submitted.
func (s *Schema) Text() string { return s.text }

// Avro returns the parsed hamba/avro schema handle, for use by the
// compatibility engine's can_read calls.
func (s *Schema) Avro() avro.Schema { return s.raw }
