// Package dataset defines the datasets the connector can produce and their
// fixed output schemas.
package dataset

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownDataset is returned for any name other than calls, tags or users.
var ErrUnknownDataset = errors.New("unknown dataset")

// Dataset selects the gateway resource and the output schema.
type Dataset string

const (
	Calls Dataset = "calls"
	Tags  Dataset = "tags"
	Users Dataset = "users"
)

// Default is the dataset used when none is configured.
const Default = Users

// TeamsResource is the auxiliary stream joined with calls and users.
const TeamsResource = "teams"

var columns = map[Dataset][]string{
	Calls: {
		"id",
		"direction",
		"duration",
		"answered_at",
		"ended_at",
		"raw_digits",
		"user_id",
		"tags",
		"user_name",
		"team",
		"day",
	},
	Tags: {
		"id",
		"name",
		"color",
		"description",
	},
	Users: {
		"team",
		"user_id",
		"user_name",
		"user_created_at",
	},
}

// TeamColumns are the fields produced by the teams stream.
var TeamColumns = []string{"team", "user_id", "user_name", "user_created_at"}

// TeamJoinColumns are the team fields kept when teams are joined onto calls.
var TeamJoinColumns = []string{"team", "user_id"}

// All lists the datasets in a stable order.
func All() []Dataset {
	return []Dataset{Calls, Tags, Users}
}

// Parse validates a dataset name. An empty name selects Default.
func Parse(name string) (Dataset, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Default, nil
	}
	d := Dataset(name)
	if !d.Valid() {
		return "", fmt.Errorf("%w: %q (want one of calls, tags, users)", ErrUnknownDataset, name)
	}
	return d, nil
}

// Valid reports whether d is a known dataset.
func (d Dataset) Valid() bool {
	_, ok := columns[d]
	return ok
}

// Columns returns a copy of the dataset's ordered output schema.
func (d Dataset) Columns() []string {
	cols := columns[d]
	out := make([]string, len(cols))
	copy(out, cols)
	return out
}

// NeedsTeams reports whether the dataset is joined with the teams stream.
func (d Dataset) NeedsTeams() bool {
	return d == Calls || d == Users
}

// Resource is the gateway path segment of the dataset.
func (d Dataset) Resource() string {
	return string(d)
}

func (d Dataset) String() string {
	return string(d)
}
