package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// Table is a header row plus records in header order.
type Table struct {
	Headers []string
	Rows    [][]string
}

// RenderCSV encodes the table as CSV. Rows shorter than the header are padded.
func RenderCSV(table Table) ([]byte, error) {
	if len(table.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(table.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for i, row := range table.Rows {
		if len(row) > len(table.Headers) {
			return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(row), len(table.Headers))
		}
		record := make([]string, len(table.Headers))
		copy(record, row)
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
