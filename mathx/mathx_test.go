package mathx_test

import (
	"testing"

	"github.jpl.nasa.gov/bdube/ivtrace/mathx"
)

func TestRoundToTenth(t *testing.T) {
	out := mathx.Round(1.26, 0.1)
	if out < 1.29 || out > 1.31 {
		t.Errorf("expected 1.26 rounded to tenths to be 1.3, got %f", out)
	}
}

func TestRoundToWholeUnit(t *testing.T) {
	out := mathx.Round(2.4, 1)
	if out != 2 {
		t.Errorf("expected 2.4 rounded to units to be 2, got %f", out)
	}
}

func TestMean(t *testing.T) {
	out := mathx.Mean([]float64{1, 1, 4})
	if out != 2 {
		t.Errorf("expected mean of {1,1,4} to be 2, got %f", out)
	}
}

func TestMedianOdd(t *testing.T) {
	out := mathx.Median([]float64{4, 1, 1})
	if out != 1 {
		t.Errorf("expected median of {4,1,1} to be 1, got %f", out)
	}
}

func TestMedianEven(t *testing.T) {
	out := mathx.Median([]float64{1, 3, 2, 4})
	if out != 2.5 {
		t.Errorf("expected median of {1,2,3,4} to be 2.5, got %f", out)
	}
}

func TestMedianDoesNotMutate(t *testing.T) {
	in := []float64{3, 1, 2}
	mathx.Median(in)
	if in[0] != 3 || in[1] != 1 || in[2] != 2 {
		t.Errorf("median mutated its input: %v", in)
	}
}
