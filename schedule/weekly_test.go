package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWeekly(t *testing.T) {
	tests := []struct {
		in      string
		want    Weekly
		wantErr bool
	}{
		{in: "monday 08:00", want: Weekly{Day: time.Monday, Hour: 8, Loc: time.UTC}},
		{in: "  Fri 17:30 ", want: Weekly{Day: time.Friday, Hour: 17, Minute: 30, Loc: time.UTC}},
		{in: "sunday", want: Weekly{Day: time.Sunday, Loc: time.UTC}},
		{in: "", wantErr: true},
		{in: "someday 08:00", wantErr: true},
		{in: "monday 24:00", wantErr: true},
		{in: "monday 08:7", wantErr: true},
		{in: "monday 0800", wantErr: true},
		{in: "monday 08:00 extra", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseWeekly(tt.in, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWeeklyNext(t *testing.T) {
	w, err := ParseWeekly("monday 08:00", time.UTC)
	require.NoError(t, err)

	// Wednesday 2024-06-05
	assert.Equal(t, time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC), w.Next(time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)))
	// Monday before the trigger
	assert.Equal(t, time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC), w.Next(time.Date(2024, 6, 3, 7, 59, 0, 0, time.UTC)))
	// exactly at the trigger: strictly after, so next week
	assert.Equal(t, time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC), w.Next(time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)))
	assert.Equal(t, "monday 08:00", w.String())
}

func TestWeeklyNextInZone(t *testing.T) {
	nairobi := time.FixedZone("EAT", 3*60*60)
	w, err := ParseWeekly("monday 08:00", nairobi)
	require.NoError(t, err)

	// Sunday 23:00 UTC is already Monday 02:00 in Nairobi
	next := w.Next(time.Date(2024, 6, 2, 23, 0, 0, 0, time.UTC))
	assert.True(t, next.Equal(time.Date(2024, 6, 3, 5, 0, 0, 0, time.UTC)))
}
