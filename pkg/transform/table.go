package transform

import (
	"encoding/csv"
	"fmt"
	"io"
)

// TableOptions controls how a delimited text table is read.
type TableOptions struct {
	Sep      rune
	SkipRows int      // rows discarded before the header (or the data, when Names is set)
	Names    []string // explicit column names; when empty the first kept row is the header
}

// Table is a row-oriented delimited table with named columns. Empty cells are
// replaced with "none" so that no missing value is ever persisted.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Col returns the index of a named column.
func (t *Table) Col(name string) (int, error) {
	for i, c := range t.Columns {
		if c == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("column %q not found", name)
}

// ReadTable parses delimited text with a configurable separator, optional
// skipped rows, and optional explicit column names.
func ReadTable(r io.Reader, opts TableOptions) (*Table, error) {

	sep := opts.Sep
	if sep == 0 {
		sep = '\t'
	}

	cr := csv.NewReader(r)
	cr.Comma = sep
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	for i := 0; i < opts.SkipRows; i++ {
		if _, err := cr.Read(); err != nil {
			return nil, fmt.Errorf("skipping %d rows: %w", opts.SkipRows, err)
		}
	}

	table := &Table{Columns: opts.Names}

	if len(table.Columns) == 0 {
		header, err := cr.Read()
		if err != nil {
			return nil, fmt.Errorf("reading header: %w", err)
		}
		table.Columns = header
	}

	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		if len(row) > len(table.Columns) {
			return nil, fmt.Errorf("row %d has %d fields, expected %d",
				len(table.Rows)+1, len(row), len(table.Columns))
		}

		// Pad short rows and blank out empty cells, the same way the
		// upstream tables replace missing values before storage.
		full := make([]string, len(table.Columns))
		for i := range full {
			if i < len(row) && row[i] != "" {
				full[i] = row[i]
			} else {
				full[i] = "none"
			}
		}

		table.Rows = append(table.Rows, full)
	}

	return table, nil
}
