package features

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"agripredict/series"
)

var tableHeader = append([]string{"County", "Date", "Price"}, NumericColumns...)

// WriteCSV writes the table in the published column layout.
func WriteCSV(w io.Writer, t *Table) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(tableHeader); err != nil {
		return err
	}

	format := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, r := range t.Rows {
		record := []string{r.Region, r.Date.Format(series.DateLayout), format(r.Price)}
		for _, lag := range r.Lags {
			record = append(record, format(lag))
		}
		record = append(record, format(r.RollingMean), strconv.Itoa(r.Month))
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadCSV parses a table written by WriteCSV. asOf is not stored in the file
// and is left for the caller to fill in.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(tableHeader)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read feature table header: %w", err)
	}
	for i, name := range tableHeader {
		if header[i] != name {
			return nil, fmt.Errorf("unexpected feature table column %d: got %q, want %q", i, header[i], name)
		}
	}

	table := &Table{}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read feature table line %d: %w", line, err)
		}

		row, err := parseRow(record)
		if err != nil {
			return nil, fmt.Errorf("feature table line %d: %w", line, err)
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

func parseRow(record []string) (Row, error) {
	date, err := time.Parse(series.DateLayout, record[1])
	if err != nil {
		return Row{}, fmt.Errorf("invalid date %q: %w", record[1], err)
	}

	values := make([]float64, 0, 1+len(NumericColumns))
	for i := 2; i < len(record); i++ {
		v, err := strconv.ParseFloat(record[i], 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return Row{}, fmt.Errorf("invalid %s value %q", tableHeader[i], record[i])
		}
		values = append(values, v)
	}

	row := Row{
		Region:      record[0],
		Date:        date,
		Price:       values[0],
		RollingMean: values[1+LagDepth],
		Month:       int(values[2+LagDepth]),
	}
	copy(row.Lags[:], values[1:1+LagDepth])
	return row, nil
}
