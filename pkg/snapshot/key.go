package snapshot

import (
	"strings"

	"github.com/Sternrassler/aircall-connector/pkg/dataset"
)

// KeyPrefix is the namespace of every snapshot key.
const KeyPrefix = "aircall:snapshot"

// Key identifies a stored snapshot.
type Key struct {
	// Dataset is the dataset the table belongs to.
	Dataset dataset.Dataset

	// RunID selects one run. Empty selects the latest run.
	RunID string
}

// String generates the Redis key.
// Format: aircall:snapshot:<dataset>[:<run_id>]
//
// Example:
//
//	aircall:snapshot:calls:6f1c2a4e-0d6b-4c53-9f5e-6f3f1b0c2a11
func (k Key) String() string {
	parts := []string{KeyPrefix, strings.ToLower(k.Dataset.String())}
	if k.RunID != "" {
		parts = append(parts, k.RunID)
	}
	return strings.Join(parts, ":")
}

// Latest returns the key of the dataset's latest snapshot.
func (k Key) Latest() Key {
	return Key{Dataset: k.Dataset}
}
