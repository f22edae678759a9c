package testutil

import (
	"math"
	"testing"
)

func TestAlmostEqual(t *testing.T) {
	cases := []struct {
		a, b, tol float64
		want      bool
	}{
		{1, 1 + 1e-10, 1e-9, true},
		{1, 1.1, 1e-9, false},
		{math.NaN(), math.NaN(), 0, true},
		{math.NaN(), 1, 1, false},
	}
	for _, c := range cases {
		if got := AlmostEqual(c.a, c.b, c.tol); got != c.want {
			t.Fatalf("AlmostEqual(%v, %v, %v) = %v", c.a, c.b, c.tol, got)
		}
	}
}

func TestWriteAndReadCSV(t *testing.T) {
	path := WriteFile(t, t.TempDir(), "x.csv", "a,b\n1,2,3\n")
	rows := ReadCSV(t, path)
	if len(rows) != 2 || len(rows[1]) != 3 || rows[1][2] != "3" {
		t.Fatalf("unexpected rows %v", rows)
	}
}
