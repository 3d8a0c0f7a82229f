package helpers

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		name     string
		amount   float64
		currency string
		want     string
	}{
		{"small", 42.5, "KES", "KES 42.50"},
		{"thousands", 4250.5, "KES", "KES 4,250.50"},
		{"millions", 1234567.891, "KES", "KES 1,234,567.89"},
		{"negative", -1500, "KES", "KES -1,500.00"},
		{"rounding carry", 999.999, "", "1,000.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatPrice(tt.amount, tt.currency))
		})
	}
}

func TestFormatDelta(t *testing.T) {
	assert.Equal(t, "+KES 1.25", FormatDelta(1.25, "KES"))
	assert.Equal(t, "KES -0.75", FormatDelta(-0.75, "KES"))
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.txt")

	err := WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		_, err := io.WriteString(w, "first")
		return err
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	// A failing render must leave the previous content in place
	err = WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		_, _ = io.WriteString(w, "partial")
		return errors.New("boom")
	})
	require.Error(t, err)

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}
