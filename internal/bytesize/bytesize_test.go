package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input    string
		expected ByteSize
	}{
		{"1024", 1024},
		{"500MB", 500 * MB},
		{"500mb", 500 * MB},
		{"1Gi", GiB},
		{"2GiB", 2 * GiB},
		{"128Ki", 128 * KiB},
		{"1.5Gi", ByteSize(1.5 * float64(GiB))},
		{"  64 mb ", 64 * MB},
		{"0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, input := range []string{"", "   ", "abc", "12XB", "-5MB"} {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			assert.Error(t, err)
		})
	}
}

func TestUnmarshalText(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("500MB")))
	assert.Equal(t, 500*MB, b)

	assert.Error(t, b.UnmarshalText([]byte("nonsense")))
}

func TestString(t *testing.T) {
	assert.Equal(t, "500B", ByteSize(500).String())
	assert.Equal(t, "1.00GiB", GiB.String())
	assert.Equal(t, "2.00KiB", (2 * KiB).String())
}
