// Package features turns a raw price series into the supervised-learning
// table the trainer consumes: per-region lag prices, a trailing rolling mean
// and the calendar month, restricted to a recent window.
package features

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"agripredict/series"
)

const (
	// WindowMonths bounds training data to the most recent months before asOf.
	WindowMonths = 6
	// LagDepth is the number of prior prices carried as lag features.
	LagDepth = 4
	// RollingWindow is the trailing window, current observation included.
	RollingWindow = 4
)

// ErrEmptyTable matches any EmptyTableError.
var ErrEmptyTable = errors.New("feature table is empty")

// EmptyTableError reports that no row survived the recency filter and the
// history requirement. Training must not proceed.
type EmptyTableError struct {
	AsOf         time.Time
	Cutoff       time.Time
	Observations int
	Recent       int
}

// Error implements the error interface
func (e *EmptyTableError) Error() string {
	return fmt.Sprintf("%v: %d of %d observations since %s, none with %d prior prices",
		ErrEmptyTable, e.Recent, e.Observations, e.Cutoff.Format(series.DateLayout), LagDepth)
}

// Is reports whether target is ErrEmptyTable
func (e *EmptyTableError) Is(target error) bool {
	return target == ErrEmptyTable
}

// Row is one training example. Lags[0] is the previous observed price of the
// same region, Lags[3] the fourth previous.
type Row struct {
	Region      string            `json:"region"`
	Date        time.Time         `json:"date"`
	Price       float64           `json:"price"`
	Lags        [LagDepth]float64 `json:"lags"`
	RollingMean float64           `json:"rolling_mean"`
	Month       int               `json:"month"`
}

// NumericColumns names the numeric inputs of a row in Inputs order.
var NumericColumns = []string{
	"lag_price_1",
	"lag_price_2",
	"lag_price_3",
	"lag_price_4",
	"rolling_mean_4",
	"month",
}

// Inputs returns the numeric model inputs (everything except the label and
// the region, which is encoded separately).
func (r Row) Inputs() []float64 {
	out := make([]float64, 0, len(NumericColumns))
	out = append(out, r.Lags[:]...)
	out = append(out, r.RollingMean, float64(r.Month))
	return out
}

// Table is the feature table built for one cycle.
type Table struct {
	AsOf time.Time
	Rows []Row
}

// Regions returns the distinct regions in the table, sorted.
func (t *Table) Regions() []string {
	seen := make(map[string]struct{})
	for _, r := range t.Rows {
		seen[r.Region] = struct{}{}
	}
	regions := make([]string, 0, len(seen))
	for r := range seen {
		regions = append(regions, r)
	}
	sort.Strings(regions)
	return regions
}

// Latest returns the most recent row for region.
func (t *Table) Latest(region string) (Row, bool) {
	var (
		latest Row
		found  bool
	)
	for _, r := range t.Rows {
		if r.Region != region {
			continue
		}
		if !found || r.Date.After(latest.Date) {
			latest = r
			found = true
		}
	}
	return latest, found
}

// History returns the region's rows in date order.
func (t *Table) History(region string) []Row {
	var out []Row
	for _, r := range t.Rows {
		if r.Region == region {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// Cutoff returns the earliest date kept for a table built as of asOf. A day
// past the end of the target month clamps to its last day (Aug 31 -> Feb 29).
func Cutoff(asOf time.Time) time.Time {
	y, m, d := series.Day(asOf).Date()
	first := time.Date(y, m-WindowMonths, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	return time.Date(first.Year(), first.Month(), min(d, last), 0, 0, 0, 0, time.UTC)
}

// Build derives the feature table from s as of the given date. Rows lacking
// a full lag history are dropped, never imputed; an empty result is an error.
func Build(s series.Series, asOf time.Time) (*Table, error) {
	cutoff := Cutoff(asOf)
	recent := s.Since(cutoff)

	byRegion := make(map[string][]series.Observation)
	for _, o := range recent {
		byRegion[o.Region] = append(byRegion[o.Region], o)
	}

	regions := make([]string, 0, len(byRegion))
	for region := range byRegion {
		regions = append(regions, region)
	}
	sort.Strings(regions)

	table := &Table{AsOf: series.Day(asOf)}
	for _, region := range regions {
		obs := byRegion[region]
		sort.SliceStable(obs, func(i, j int) bool { return obs[i].Date.Before(obs[j].Date) })
		table.Rows = append(table.Rows, regionRows(region, obs)...)
	}

	if len(table.Rows) == 0 {
		return nil, &EmptyTableError{
			AsOf:         table.AsOf,
			Cutoff:       cutoff,
			Observations: len(s),
			Recent:       len(recent),
		}
	}
	return table, nil
}

// regionRows emits rows for positions that have LagDepth prior prices. The
// rolling window is shorter than the lag depth, so it is always defined there.
func regionRows(region string, obs []series.Observation) []Row {
	if len(obs) <= LagDepth {
		return nil
	}

	rows := make([]Row, 0, len(obs)-LagDepth)
	for i := LagDepth; i < len(obs); i++ {
		row := Row{
			Region: region,
			Date:   obs[i].Date,
			Price:  obs[i].Price,
			Month:  int(obs[i].Date.Month()),
		}
		for k := 1; k <= LagDepth; k++ {
			row.Lags[k-1] = obs[i-k].Price
		}

		var sum float64
		for j := i - RollingWindow + 1; j <= i; j++ {
			sum += obs[j].Price
		}
		row.RollingMean = sum / RollingWindow

		rows = append(rows, row)
	}
	return rows
}
