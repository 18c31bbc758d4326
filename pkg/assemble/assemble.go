// Package assemble merges transformed record sets into the final table of a
// dataset. Every result starts from the dataset's empty-schema placeholder,
// so the columns and their order never depend on how many rows matched.
package assemble

import (
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/aircall-connector/pkg/dataset"
	"github.com/Sternrassler/aircall-connector/pkg/table"
)

// ErrInvalidTimestamp is returned when an epoch field holds a non-integer value.
var ErrInvalidTimestamp = errors.New("invalid epoch timestamp")

// DayFormat is the layout of the derived day column and of truncated dates.
const DayFormat = "2006-01-02"

// Build assembles the table of d. teams is ignored for tags.
func Build(d dataset.Dataset, teams, records []table.Record) (*table.Table, error) {
	switch d {
	case dataset.Users:
		return Users(teams, records), nil
	case dataset.Calls:
		return Calls(teams, records)
	case dataset.Tags:
		return Tags(records), nil
	default:
		return nil, fmt.Errorf("%w: %q", dataset.ErrUnknownDataset, string(d))
	}
}

// Users concatenates team memberships before user records, keeps the first
// row per user_id (so team-derived rows win) and cuts user_created_at down to
// its date.
func Users(teams, users []table.Record) *table.Table {
	out := table.New(dataset.Users.Columns())

	for _, r := range table.DedupFirst(table.Concat(teams, users), "user_id") {
		row := r.Clone()
		if s, ok := row["user_created_at"].(string); ok && len(s) > len(DayFormat) {
			row["user_created_at"] = s[:len(DayFormat)]
		}
		out.Append(row)
	}

	return out
}

// Calls right-joins team memberships onto call records by user_id. Only the
// team name is taken from the team side; user_name stays the call's own.
// answered_at and ended_at become UTC timestamps and day is ended_at's date.
func Calls(teams, calls []table.Record) (*table.Table, error) {
	teamSide := make([]table.Record, len(teams))
	for i, r := range teams {
		teamSide[i] = r.Project(dataset.TeamJoinColumns)
	}

	out := table.New(dataset.Calls.Columns())

	for i, r := range table.RightJoin(teamSide, calls, "user_id") {
		answered, err := epoch(r["answered_at"])
		if err != nil {
			return nil, fmt.Errorf("call row %d answered_at: %w", i, err)
		}
		ended, err := epoch(r["ended_at"])
		if err != nil {
			return nil, fmt.Errorf("call row %d ended_at: %w", i, err)
		}

		r["answered_at"] = answered
		r["ended_at"] = ended
		r["day"] = nil
		if t, ok := ended.(time.Time); ok {
			r["day"] = t.Format(DayFormat)
		}

		out.Append(r)
	}

	return out, nil
}

// Tags projects tag records onto the tags schema. No dedup, no normalization.
func Tags(tags []table.Record) *table.Table {
	return table.New(dataset.Tags.Columns()).Append(tags...)
}

// epoch converts epoch seconds to a UTC time. Nil stays nil.
func epoch(v any) (any, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case int64:
		return time.Unix(s, 0).UTC(), nil
	case int:
		return time.Unix(int64(s), 0).UTC(), nil
	case float64:
		if s != float64(int64(s)) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTimestamp, s)
		}
		return time.Unix(int64(s), 0).UTC(), nil
	case time.Time:
		return s.UTC(), nil
	default:
		return nil, fmt.Errorf("%w: %T %v", ErrInvalidTimestamp, v, v)
	}
}
