package series

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParseAcceptsAliasesAndOrdersByDate(t *testing.T) {
	input := "\ufeffmarket , WEEK ,retail_price,extra\n" +
		"Nakuru,2024-01-08,36,x\n" +
		"Nairobi,08/01/2024,41,y\n" +
		"Nairobi,2024-01-01T00:00:00Z,40,z\n" +
		"\n"

	s, err := Parse(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, Series{
		{Region: "Nairobi", Date: date(2024, 1, 1), Price: 40},
		{Region: "Nairobi", Date: date(2024, 1, 8), Price: 41},
		{Region: "Nakuru", Date: date(2024, 1, 8), Price: 36},
	}, s)
}

func TestParseRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"missing price column", "County,Date\nA,2024-01-01\n"},
		{"bad date", "County,Date,Price\nA,yesterday,10\n"},
		{"zero price", "County,Date,Price\nA,2024-01-01,0\n"},
		{"negative price", "County,Date,Price\nA,2024-01-01,-3\n"},
		{"empty region", "County,Date,Price\n,2024-01-01,3\n"},
		{"short row", "County,Date,Price\nA,2024-01-01\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			var perr *ParseError
			require.Error(t, err)
			assert.True(t, errors.As(err, &perr), "expected ParseError, got %v", err)
		})
	}
}

func TestParseHeaderOnly(t *testing.T) {
	_, err := Parse(strings.NewReader("County,Date,Price\n"))
	assert.ErrorIs(t, err, ErrNoRows)
}

func TestNormalizeKeepsLastDuplicate(t *testing.T) {
	s, dropped := Normalize([]Observation{
		{Region: "A", Date: date(2024, 1, 8), Price: 11},
		{Region: "A", Date: date(2024, 1, 1).Add(5 * time.Hour), Price: 10},
		{Region: "A", Date: date(2024, 1, 8), Price: 12},
	})

	assert.Equal(t, 1, dropped)
	assert.Equal(t, Series{
		{Region: "A", Date: date(2024, 1, 1), Price: 10},
		{Region: "A", Date: date(2024, 1, 8), Price: 12},
	}, s)
}

func TestEncodeIsStable(t *testing.T) {
	s := Series{
		{Region: "Nairobi, West", Date: date(2024, 1, 1), Price: 40.125},
		{Region: "Nakuru", Date: date(2024, 1, 8), Price: 36},
	}

	var first bytes.Buffer
	require.NoError(t, Encode(&first, s))
	assert.Equal(t, "County,Date,Price\n\"Nairobi, West\",2024-01-01,40.125\nNakuru,2024-01-08,36\n", first.String())

	parsed, err := Parse(bytes.NewReader(first.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, s, parsed)

	var second bytes.Buffer
	require.NoError(t, Encode(&second, parsed))
	assert.Equal(t, first.Bytes(), second.Bytes())
}

func TestSinceIsInclusive(t *testing.T) {
	s := Series{
		{Region: "A", Date: date(2024, 1, 1), Price: 1},
		{Region: "A", Date: date(2024, 2, 1), Price: 2},
		{Region: "A", Date: date(2024, 3, 1), Price: 3},
	}

	got := s.Since(date(2024, 2, 1).Add(13 * time.Hour))
	assert.Len(t, got, 2)
	assert.Equal(t, 2.0, got[0].Price)
}
