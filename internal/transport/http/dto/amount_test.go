package dto

import "testing"

func TestNewAmountRendersSixDecimals(t *testing.T) {
	testCases := []struct {
		units int64
		want  string
	}{
		{units: 0, want: "0.000000"},
		{units: 1, want: "0.000001"},
		{units: 9_500_000, want: "9.500000"},
		{units: 316_667, want: "0.316667"},
		{units: 100_000_000, want: "100.000000"},
	}
	for _, tc := range testCases {
		got := NewAmount(tc.units)
		if got.Units != tc.units || got.Display != tc.want {
			t.Fatalf("NewAmount(%d) = %+v, want display %q", tc.units, got, tc.want)
		}
	}
}
