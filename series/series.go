// Package series holds the raw price observations and their tabular (CSV) form.
//
// The same CSV shape is used for the remote feed and the local backup copy:
//
//	County,Date,Price
//	Nairobi,2024-01-01,42.5
//
// Header names are matched case-insensitively and a few aliases are accepted
// for each column. Extra columns are ignored.
package series

import (
	"sort"
	"time"
)

// DateLayout is the canonical date encoding used when writing series and tables.
const DateLayout = "2006-01-02"

// Observation is one price reading for a region on a calendar date.
type Observation struct {
	Region string
	Date   time.Time
	Price  float64
}

// Series is a date-ordered set of observations, at most one per (region, date).
type Series []Observation

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type key struct {
	region string
	date   time.Time
}

// Normalize removes duplicate (region, date) readings, keeping the last one
// seen, and orders the result by date then region.
func Normalize(obs []Observation) (Series, int) {
	index := make(map[key]int, len(obs))
	out := make(Series, 0, len(obs))
	dropped := 0

	for _, o := range obs {
		o.Date = Day(o.Date)
		k := key{o.Region, o.Date}
		if i, ok := index[k]; ok {
			out[i] = o
			dropped++
			continue
		}
		index[k] = len(out)
		out = append(out, o)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Region < out[j].Region
	})
	return out, dropped
}

// Regions returns the distinct region names in ascending order.
func (s Series) Regions() []string {
	seen := make(map[string]struct{})
	for _, o := range s {
		seen[o.Region] = struct{}{}
	}
	regions := make([]string, 0, len(seen))
	for r := range seen {
		regions = append(regions, r)
	}
	sort.Strings(regions)
	return regions
}

// Span returns the first and last dates in the series.
func (s Series) Span() (first, last time.Time) {
	if len(s) == 0 {
		return time.Time{}, time.Time{}
	}
	return s[0].Date, s[len(s)-1].Date
}

// Since returns the observations dated on or after cutoff.
func (s Series) Since(cutoff time.Time) Series {
	cutoff = Day(cutoff)
	out := make(Series, 0, len(s))
	for _, o := range s {
		if !o.Date.Before(cutoff) {
			out = append(out, o)
		}
	}
	return out
}
