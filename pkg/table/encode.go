package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// TimeFormat is used for timestamp cells in CSV output.
const TimeFormat = time.RFC3339

// WriteJSON writes t as {"columns": [...], "data": [[...], ...]}, which keeps
// the column order that a JSON object would lose.
func WriteJSON(w io.Writer, t *Table) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(t); err != nil {
		return fmt.Errorf("encode table: %w", err)
	}
	return nil
}

// ReadJSON decodes a table written by WriteJSON.
func ReadJSON(data []byte) (*Table, error) {
	var t Table
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode table: %w", err)
	}
	if t.Rows == nil {
		t.Rows = [][]any{}
	}
	return &t, nil
}

// WriteCSV writes a header line followed by one line per row.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	line := make([]string, len(t.Columns))
	for i, row := range t.Rows {
		for j, cell := range row {
			s, err := FormatCell(cell)
			if err != nil {
				return fmt.Errorf("row %d column %s: %w", i, t.Columns[j], err)
			}
			line[j] = s
		}
		if err := cw.Write(line); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// FormatCell renders one cell as text. Nil is empty, timestamps are RFC 3339
// in UTC, and nested values are JSON.
func FormatCell(v any) (string, error) {
	switch c := v.(type) {
	case nil:
		return "", nil
	case string:
		return c, nil
	case int64:
		return strconv.FormatInt(c, 10), nil
	case int:
		return strconv.Itoa(c), nil
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(c), nil
	case time.Time:
		return c.UTC().Format(TimeFormat), nil
	default:
		b, err := json.Marshal(c)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
