package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeNumber(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   any
		want float64
	}{
		{"19.99 USD", 19.99},
		{"$1,299.00", 1299},
		{"19,99 €", 19.99},
		{"1.299,50 EUR", 1299.5},
		{"1 299,00 €", 1299},
		{"1,299", 1299},
		{"Price: 42", 42},
		{"  7  ", 7},
		{"19.99 - 29.99", 19.99},
		{"-3.5", -3.5},
		{"2.500.000", 2500000},
		{[]byte("12.5"), 12.5},
		{19.99, 19.99},
		{int64(20), 20},
		{float32(1.5), 1.5},
	}
	for _, tc := range cases {
		got, err := NormalizeNumber(tc.in)
		require.NoError(t, err, "%v", tc.in)
		require.InDelta(t, tc.want, got, 1e-9, "%v", tc.in)
	}
}

func TestNormalizeNumberRejects(t *testing.T) {
	t.Parallel()

	for _, in := range []any{nil, "", "free", "USD", true, map[string]any{"a": 1}} {
		_, err := NormalizeNumber(in)
		require.Error(t, err, "%v", in)
	}
}

func TestNormalizeString(t *testing.T) {
	t.Parallel()

	got, err := normalizeString("  Red \n\t Shoe ")
	require.NoError(t, err)
	require.Equal(t, "Red Shoe", got)

	got, err = normalizeString(42)
	require.NoError(t, err)
	require.Equal(t, "42", got)
}
