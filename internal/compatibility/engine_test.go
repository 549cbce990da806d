package compatibility

import (
	"testing"

	"github.com/hamba/avro/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) avro.Schema {
	t.Helper()
	schema, err := avro.Parse(s)
	require.NoError(t, err)
	return schema
}

const recordV1 = `{"type":"record","name":"O","fields":[{"name":"a","type":"int"}]}`
const recordV2AddOptional = `{"type":"record","name":"O","fields":[{"name":"a","type":"int"},{"name":"b","type":["null","string"],"default":null}]}`
const recordV3DropRequired = `{"type":"record","name":"O","fields":[]}`

func TestCheck_NoneAlwaysCompatible(t *testing.T) {
	history := []avro.Schema{mustParse(t, recordV1)}
	candidate := mustParse(t, recordV3DropRequired)

	result := Check(history, candidate, None)
	assert.True(t, result.Compatible)
}

func TestCheck_EmptyHistoryAlwaysCompatible(t *testing.T) {
	candidate := mustParse(t, recordV1)
	for _, p := range []Policy{Backward, BackwardTransitive, Forward, ForwardTransitive, Full, FullTransitive} {
		result := Check(nil, candidate, p)
		assert.Truef(t, result.Compatible, "policy %s should accept empty history", p)
	}
}

func TestCheck_BackwardAcceptsOptionalFieldAddition(t *testing.T) {
	history := []avro.Schema{mustParse(t, recordV1)}
	candidate := mustParse(t, recordV2AddOptional)

	result := Check(history, candidate, Backward)
	assert.True(t, result.Compatible)
}

func TestCheck_BackwardRejectsDroppingRequiredField(t *testing.T) {
	history := []avro.Schema{mustParse(t, recordV1)}
	candidate := mustParse(t, recordV3DropRequired)

	result := Check(history, candidate, Backward)
	assert.False(t, result.Compatible)
	assert.NotEmpty(t, result.Messages)
}

func TestCheck_BackwardTransitiveChecksEveryVersion(t *testing.T) {
	// newest-first: v2 (has optional b) then v1 (no b)
	history := []avro.Schema{mustParse(t, recordV2AddOptional), mustParse(t, recordV1)}
	candidate := mustParse(t, recordV3DropRequired)

	result := Check(history, candidate, BackwardTransitive)
	assert.False(t, result.Compatible)
}

func TestCheck_FullRequiresBothDirections(t *testing.T) {
	history := []avro.Schema{mustParse(t, recordV1)}
	candidate := mustParse(t, recordV2AddOptional)

	result := Check(history, candidate, Full)
	// Adding a defaulted optional field holds in both directions: new
	// readers fill "b" from its default, old readers skip it.
	assert.True(t, result.Compatible)
}

func TestProbe_StrongestResult(t *testing.T) {
	v1 := mustParse(t, recordV1)
	v2 := mustParse(t, recordV2AddOptional)

	assert.Equal(t, Full, Probe(v1, v2))
}

func TestProbe_NotFullWhenRequiredFieldDropped(t *testing.T) {
	v1 := mustParse(t, recordV1)
	v3 := mustParse(t, recordV3DropRequired)

	policy := Probe(v1, v3)
	assert.Contains(t, []Policy{Backward, Forward, None}, policy)
}
