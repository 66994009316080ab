package quant

import "testing"

func TestToPriceMicros(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want PriceMicros
	}{
		{"Whole", 100.0, 100000000},
		{"Fraction", 1.23, 1230000},
		{"Negative", -0.5, -500000},
		{"Zero", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToPriceMicros(tt.in); got != tt.want {
				t.Errorf("ToPriceMicros(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestRoundPrice(t *testing.T) {
	tests := []struct {
		name      string
		in        float64
		precision int
		want      float64
	}{
		{"RoundDown", 99.80195, 2, 99.80},
		{"RoundUp", 100.198, 2, 100.20},
		{"ZeroPrecision", 100.6, 0, 101},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoundPrice(tt.in, tt.precision); got != tt.want {
				t.Errorf("RoundPrice(%v, %d) = %v, want %v", tt.in, tt.precision, got, tt.want)
			}
		})
	}
}

func TestFloorAmount(t *testing.T) {
	tests := []struct {
		name      string
		in        float64
		precision int
		want      float64
	}{
		{"TruncatesNeverUp", 0.019999, 2, 0.01},
		{"Exact", 0.5, 4, 0.5},
		{"Zero", 0, 8, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FloorAmount(tt.in, tt.precision); got != tt.want {
				t.Errorf("FloorAmount(%v, %d) = %v, want %v", tt.in, tt.precision, got, tt.want)
			}
		})
	}
}
