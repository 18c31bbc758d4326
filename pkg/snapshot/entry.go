package snapshot

import (
	"time"

	"github.com/Sternrassler/aircall-connector/pkg/connector"
	"github.com/Sternrassler/aircall-connector/pkg/dataset"
	"github.com/Sternrassler/aircall-connector/pkg/table"
)

// Entry is a published table.
type Entry struct {
	// RunID is the connector run that produced the table.
	RunID string `json:"run_id"`

	// Dataset names the table's schema.
	Dataset dataset.Dataset `json:"dataset"`

	// Table is the assembled table. Timestamps come back as RFC 3339 strings.
	Table *table.Table `json:"table"`

	// Pages is the number of dataset pages the run fetched.
	Pages int `json:"pages"`

	// CreatedAt is when the snapshot was saved.
	CreatedAt time.Time `json:"created_at"`
}

// FromResult builds an entry from a connector result.
func FromResult(res *connector.Result) *Entry {
	return &Entry{
		RunID:   res.RunID,
		Dataset: res.Dataset,
		Table:   res.Table,
		Pages:   res.Pages,
	}
}

// Key returns the run-specific key of the entry.
func (e *Entry) Key() Key {
	return Key{Dataset: e.Dataset, RunID: e.RunID}
}

// Age returns how long ago the snapshot was saved.
func (e *Entry) Age() time.Duration {
	if e.CreatedAt.IsZero() {
		return 0
	}
	return time.Since(e.CreatedAt)
}
