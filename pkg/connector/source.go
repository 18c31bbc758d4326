package connector

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"sort"

	"github.com/Sternrassler/aircall-connector/pkg/dataset"
	"github.com/Sternrassler/aircall-connector/pkg/pagination"
	"gopkg.in/yaml.v3"
)

// DefaultLimit is the page limit used when a data source does not set one.
const DefaultLimit = 10

// ErrUnknownParameter is returned when a query references an undefined parameter.
var ErrUnknownParameter = errors.New("unknown query parameter")

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// DataSource describes one dataset extraction.
type DataSource struct {
	// Dataset selects calls, tags or users. Empty selects users.
	Dataset dataset.Dataset `yaml:"dataset" json:"dataset"`

	// Limit is the maximum number of pages per walk. Nil selects
	// DefaultLimit; an explicit value must be at least 1.
	Limit *int `yaml:"limit" json:"limit,omitempty"`

	// Query holds extra list filters for the dataset endpoint (for example
	// from, to, order). Values may reference Parameters as {{ name }}.
	Query map[string]string `yaml:"query" json:"query,omitempty"`

	// Parameters are substituted into Query before any request is made.
	Parameters map[string]any `yaml:"parameters" json:"parameters,omitempty"`
}

// Validate normalizes defaults and rejects invalid settings before any
// network activity.
func (ds *DataSource) Validate() error {
	d, err := dataset.Parse(string(ds.Dataset))
	if err != nil {
		return err
	}
	ds.Dataset = d

	if ds.Limit == nil {
		ds.Limit = Limit(DefaultLimit)
	}
	if *ds.Limit < 1 {
		return fmt.Errorf("%w (got %d)", pagination.ErrInvalidLimit, *ds.Limit)
	}

	_, err = ds.RenderQuery()
	return err
}

// Limit returns a page limit for DataSource.Limit.
func Limit(n int) *int {
	return &n
}

// PageLimit returns the configured page limit, or DefaultLimit when unset.
func (ds *DataSource) PageLimit() int {
	if ds.Limit == nil {
		return DefaultLimit
	}
	return *ds.Limit
}

// RenderQuery substitutes parameters into the query and returns it as URL
// values. Keys are processed in sorted order so errors are deterministic.
func (ds *DataSource) RenderQuery() (url.Values, error) {
	if len(ds.Query) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(ds.Query))
	for k := range ds.Query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := url.Values{}
	for _, k := range keys {
		v, err := ApplyParameters(ds.Query[k], ds.Parameters)
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", k, err)
		}
		out.Set(k, v)
	}
	return out, nil
}

// ApplyParameters replaces every {{ name }} in s with the printed value of
// params[name].
func ApplyParameters(s string, params map[string]any) (string, error) {
	var missing error
	out := placeholder.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		v, ok := params[name]
		if !ok {
			if missing == nil {
				missing = fmt.Errorf("%w: %s", ErrUnknownParameter, name)
			}
			return m
		}
		return fmt.Sprint(v)
	})
	if missing != nil {
		return "", missing
	}
	return out, nil
}

// LoadDataSource reads and validates a YAML data source file.
func LoadDataSource(path string) (DataSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DataSource{}, fmt.Errorf("read data source: %w", err)
	}

	var ds DataSource
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return DataSource{}, fmt.Errorf("parse data source %s: %w", path, err)
	}
	if err := ds.Validate(); err != nil {
		return DataSource{}, fmt.Errorf("invalid data source %s: %w", path, err)
	}
	return ds, nil
}
