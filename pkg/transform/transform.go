// Package transform reshapes raw gateway pages into flat records.
//
// Each dataset has one pure function over the pages of a walk, applied in
// fetch order. The functions only project and rename: every entity present
// in the payload yields a record. Leaf fields that are missing or null become
// nil cells; a missing or null collection (the array a page is supposed to
// carry) fails the whole reshape with ErrMalformedPage.
package transform

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/aircall-connector/pkg/dataset"
	"github.com/Sternrassler/aircall-connector/pkg/pagination"
	"github.com/Sternrassler/aircall-connector/pkg/table"
	"github.com/goccy/go-json"
)

// ErrMalformedPage is returned when a page lacks the structure a reshape needs.
var ErrMalformedPage = errors.New("malformed page")

// Spec maps the pages of one walk to records.
type Spec func(pages []pagination.Page) ([]table.Record, error)

// For returns the reshape of a dataset.
func For(d dataset.Dataset) (Spec, error) {
	switch d {
	case dataset.Calls:
		return Calls, nil
	case dataset.Tags:
		return Tags, nil
	case dataset.Users:
		return Users, nil
	default:
		return nil, fmt.Errorf("%w: %q", dataset.ErrUnknownDataset, string(d))
	}
}

type userJSON struct {
	ID        *int64  `json:"id"`
	Name      *string `json:"name"`
	CreatedAt *string `json:"created_at"`
}

type teamJSON struct {
	Name  *string     `json:"name"`
	Users *[]userJSON `json:"users"`
}

type callUserJSON struct {
	ID   *int64  `json:"id"`
	Name *string `json:"name"`
}

type callTagJSON struct {
	Name *string `json:"name"`
}

type callJSON struct {
	ID         *int64         `json:"id"`
	Direction  *string        `json:"direction"`
	Duration   *int64         `json:"duration"`
	AnsweredAt *int64         `json:"answered_at"`
	EndedAt    *int64         `json:"ended_at"`
	RawDigits  *string        `json:"raw_digits"`
	User       *callUserJSON  `json:"user"`
	Tags       *[]callTagJSON `json:"tags"`
}

type tagJSON struct {
	ID          *int64  `json:"id"`
	Name        *string `json:"name"`
	Color       *string `json:"color"`
	Description *string `json:"description"`
}

// Teams flattens teams[].users[] into one record per membership:
// {team, user_id, user_name, user_created_at}.
func Teams(pages []pagination.Page) ([]table.Record, error) {
	var out []table.Record
	for i, p := range pages {
		var body struct {
			Teams *[]teamJSON `json:"teams"`
		}
		if err := decode(p, i, &body); err != nil {
			return nil, err
		}
		if body.Teams == nil {
			return nil, missing(i, "teams")
		}

		for j, team := range *body.Teams {
			if team.Users == nil {
				return nil, missing(i, fmt.Sprintf("teams[%d].users", j))
			}
			for _, u := range *team.Users {
				out = append(out, table.Record{
					"team":            value(team.Name),
					"user_id":         value(u.ID),
					"user_name":       value(u.Name),
					"user_created_at": value(u.CreatedAt),
				}.Project(dataset.TeamColumns))
			}
		}
	}
	return orEmpty(out), nil
}

// Users maps users[] to {user_id, user_name, user_created_at}.
func Users(pages []pagination.Page) ([]table.Record, error) {
	var out []table.Record
	for i, p := range pages {
		var body struct {
			Users *[]userJSON `json:"users"`
		}
		if err := decode(p, i, &body); err != nil {
			return nil, err
		}
		if body.Users == nil {
			return nil, missing(i, "users")
		}

		for _, u := range *body.Users {
			out = append(out, table.Record{
				"user_id":         value(u.ID),
				"user_name":       value(u.Name),
				"user_created_at": value(u.CreatedAt),
			})
		}
	}
	return orEmpty(out), nil
}

// Calls maps calls[] to flat call records. user.id and user.name become
// user_id and user_name; tags collapse to [{name}]. A call without a user
// keeps nil user fields.
func Calls(pages []pagination.Page) ([]table.Record, error) {
	var out []table.Record
	for i, p := range pages {
		var body struct {
			Calls *[]callJSON `json:"calls"`
		}
		if err := decode(p, i, &body); err != nil {
			return nil, err
		}
		if body.Calls == nil {
			return nil, missing(i, "calls")
		}

		for j, c := range *body.Calls {
			if c.Tags == nil {
				return nil, missing(i, fmt.Sprintf("calls[%d].tags", j))
			}

			tags := make([]map[string]any, 0, len(*c.Tags))
			for _, t := range *c.Tags {
				tags = append(tags, map[string]any{"name": value(t.Name)})
			}

			var userID, userName any
			if c.User != nil {
				userID = value(c.User.ID)
				userName = value(c.User.Name)
			}

			out = append(out, table.Record{
				"id":          value(c.ID),
				"direction":   value(c.Direction),
				"duration":    value(c.Duration),
				"answered_at": value(c.AnsweredAt),
				"ended_at":    value(c.EndedAt),
				"raw_digits":  value(c.RawDigits),
				"user_id":     userID,
				"tags":        tags,
				"user_name":   userName,
			})
		}
	}
	return orEmpty(out), nil
}

// Tags maps tags[] to {id, name, color, description}.
func Tags(pages []pagination.Page) ([]table.Record, error) {
	var out []table.Record
	for i, p := range pages {
		var body struct {
			Tags *[]tagJSON `json:"tags"`
		}
		if err := decode(p, i, &body); err != nil {
			return nil, err
		}
		if body.Tags == nil {
			return nil, missing(i, "tags")
		}

		for _, t := range *body.Tags {
			out = append(out, table.Record{
				"id":          value(t.ID),
				"name":        value(t.Name),
				"color":       value(t.Color),
				"description": value(t.Description),
			})
		}
	}
	return orEmpty(out), nil
}

func decode(p pagination.Page, index int, v any) error {
	if err := json.Unmarshal(p.Body, v); err != nil {
		return fmt.Errorf("%w: page %d: %v", ErrMalformedPage, index+1, err)
	}
	return nil
}

func missing(index int, field string) error {
	return fmt.Errorf("%w: page %d: %s is missing or null", ErrMalformedPage, index+1, field)
}

// value dereferences an optional leaf, keeping absent leaves as untyped nil.
func value[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func orEmpty(records []table.Record) []table.Record {
	if records == nil {
		return []table.Record{}
	}
	return records
}
