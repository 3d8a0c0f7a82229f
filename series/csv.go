package series

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrNoRows is returned when a CSV carries a header but no observations.
var ErrNoRows = errors.New("series has no observations")

// ParseError describes a malformed CSV input
type ParseError struct {
	Line   int
	Column string
	Reason string
}

// Error implements the error interface
func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed series at line %d (%s): %s", e.Line, e.Column, e.Reason)
	}
	return fmt.Sprintf("malformed series: %s", e.Reason)
}

var columnAliases = map[string][]string{
	"region": {"county", "region", "market", "area"},
	"date":   {"date", "week", "period"},
	"price":  {"price", "value", "retail_price"},
}

var dateLayouts = []string{
	DateLayout,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02",
	"02/01/2006",
}

func parseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", v)
}

// Parse reads a CSV series. Any unreadable row makes the whole input
// malformed; duplicates are resolved by Normalize.
func Parse(r io.Reader) (Series, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, &ParseError{Reason: "empty input"}
	}
	if err != nil {
		return nil, &ParseError{Reason: err.Error()}
	}

	cols, err := resolveColumns(header)
	if err != nil {
		return nil, err
	}

	var obs []Observation
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, &ParseError{Line: line, Reason: err.Error()}
		}
		if isBlank(record) {
			continue
		}

		o, perr := parseRecord(record, cols, line)
		if perr != nil {
			return nil, perr
		}
		obs = append(obs, o)
	}

	if len(obs) == 0 {
		return nil, ErrNoRows
	}

	s, _ := Normalize(obs)
	return s, nil
}

func resolveColumns(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(columnAliases))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		for field, aliases := range columnAliases {
			if _, done := cols[field]; done {
				continue
			}
			for _, alias := range aliases {
				if name == alias {
					cols[field] = i
					break
				}
			}
		}
	}

	for _, field := range []string{"region", "date", "price"} {
		if _, ok := cols[field]; !ok {
			return nil, &ParseError{Column: field, Reason: fmt.Sprintf("missing %s column in header %v", field, header)}
		}
	}
	return cols, nil
}

func parseRecord(record []string, cols map[string]int, line int) (Observation, error) {
	get := func(field string) (string, error) {
		i := cols[field]
		if i >= len(record) {
			return "", &ParseError{Line: line, Column: field, Reason: "missing value"}
		}
		return strings.TrimSpace(record[i]), nil
	}

	region, err := get("region")
	if err != nil {
		return Observation{}, err
	}
	if region == "" {
		return Observation{}, &ParseError{Line: line, Column: "region", Reason: "empty region"}
	}

	rawDate, err := get("date")
	if err != nil {
		return Observation{}, err
	}
	date, derr := parseDate(rawDate)
	if derr != nil {
		return Observation{}, &ParseError{Line: line, Column: "date", Reason: derr.Error()}
	}

	rawPrice, err := get("price")
	if err != nil {
		return Observation{}, err
	}
	price, perr := strconv.ParseFloat(rawPrice, 64)
	if perr != nil || math.IsNaN(price) || math.IsInf(price, 0) {
		return Observation{}, &ParseError{Line: line, Column: "price", Reason: fmt.Sprintf("invalid price %q", rawPrice)}
	}
	if price <= 0 {
		return Observation{}, &ParseError{Line: line, Column: "price", Reason: fmt.Sprintf("non-positive price %v", price)}
	}

	return Observation{Region: region, Date: date, Price: price}, nil
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// Encode writes s in the canonical County,Date,Price form. The output is a
// deterministic function of the series, so re-encoding a parsed copy yields
// identical bytes.
func Encode(w io.Writer, s Series) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"County", "Date", "Price"}); err != nil {
		return err
	}
	for _, o := range s {
		if err := writer.Write([]string{
			o.Region,
			o.Date.Format(DateLayout),
			strconv.FormatFloat(o.Price, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
