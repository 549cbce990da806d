package compatibility

import (
	"github.com/hamba/avro/v2"
)

// canRead reports whether data written with writer can be decoded by reader,
// Avro's can_read(writer, reader) resolution predicate. The engine uses only
// this primitive; it never inspects schema structure itself.
func canRead(writer, reader avro.Schema) (bool, string) {
	if err := avro.NewSchemaCompatibility().Compatible(reader, writer); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// Check decides whether candidate may be registered against a subject's
// version history under the given policy. history must be ordered
// newest-first (version descending) — the engine relies on this order for
// both the non-transitive checks and for choosing the short-circuit order
// of the transitive ones.
func Check(history []avro.Schema, candidate avro.Schema, policy Policy) *Result {
	switch policy {
	case None:
		return compatibleResult()
	case Backward:
		return checkOne(history, candidate, false)
	case BackwardTransitive:
		return checkAll(history, candidate, false)
	case Forward:
		return checkOne(history, candidate, true)
	case ForwardTransitive:
		return checkAll(history, candidate, true)
	case Full:
		result := checkOne(history, candidate, false)
		result.merge(checkOne(history, candidate, true))
		return result
	case FullTransitive:
		result := checkAll(history, candidate, false)
		result.merge(checkAll(history, candidate, true))
		return result
	default:
		result := compatibleResult()
		result.fail("unknown compatibility policy: %s", policy)
		return result
	}
}

// checkOne checks the candidate against only the latest historical schema
// (history[0]). Empty history is always compatible.
func checkOne(history []avro.Schema, candidate avro.Schema, forward bool) *Result {
	if len(history) == 0 {
		return compatibleResult()
	}
	return probe(history[0], candidate, forward, 1)
}

// checkAll checks the candidate against every historical schema, short
// circuiting on the first counterexample.
func checkAll(history []avro.Schema, candidate avro.Schema, forward bool) *Result {
	result := compatibleResult()
	for i, h := range history {
		probeResult := probe(h, candidate, forward, i+1)
		if !probeResult.Compatible {
			return probeResult
		}
	}
	return result
}

// probe runs a single can_read direction. forward=false is BACKWARD (the
// candidate reads data written by the historical schema); forward=true is
// FORWARD (the historical schema reads data written by the candidate).
func probe(historical, candidate avro.Schema, forward bool, position int) *Result {
	var ok bool
	var reason string
	var direction string
	if forward {
		ok, reason = canRead(candidate, historical)
		direction = "FORWARD"
	} else {
		ok, reason = canRead(historical, candidate)
		direction = "BACKWARD"
	}

	if ok {
		return compatibleResult()
	}

	result := compatibleResult()
	result.fail("%s compatibility check failed against version -%d: %s", direction, position, reason)
	return result
}

func (r *Result) merge(other *Result) {
	if !other.Compatible {
		r.Compatible = false
		r.Messages = append(r.Messages, other.Messages...)
	}
}

// Probe is the diagnostic compatibility-probe operation: it runs can_read in
// both directions between two schemas, independent of any configured
// policy, and returns the strongest Policy the pair satisfies.
func Probe(existing, candidate avro.Schema) Policy {
	backward, _ := canRead(existing, candidate)
	forward, _ := canRead(candidate, existing)

	switch {
	case backward && forward:
		return Full
	case backward:
		return Backward
	case forward:
		return Forward
	default:
		return None
	}
}
