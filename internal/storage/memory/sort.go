package memory

import (
	"sort"

	"github.com/vectos/avro-schema-registry/internal/storage"
)

func sortInt32Asc(xs []int32) {
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
}

func sortVersionedSchemasDesc(xs []storage.VersionedSchema) {
	sort.Slice(xs, func(i, j int) bool { return xs[i].Version > xs[j].Version })
}
