package version

import "testing"

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.0", 0},
		{"1.0", "2.0", -1},
		{"2.0", "1.0", 1},
		{"1.10", "1.9", 1},
		{"1.010", "1.10", 0},
		{"1.0", "1.0.1", -1},
		{"1.0a", "1.0", 1},
		{"1.0a", "1.0.1", -1},
		{"1a", "1.1", -1},
		{"a", "1", -1},
		{"2.0~rc1", "2.0", -1},
		{"2.0~rc1", "2.0~rc2", -1},
		{"2.0^git1", "2.0", 1},
		{"2.0^git1", "2.0.1", -1},
		{"1_0", "1.0", 0},
		{"1:0.1", "9.9", 1},
		{"0:2.0", "2.0", 0},
		{"2.0-1", "2.0-2", -1},
		{"2.0", "2.0-2", 0},
		{"10.0.0-1", "9.99-99", 1},
	}

	for _, tt := range tests {
		if got := Compare(tt.a, tt.b); got != tt.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		if got := Compare(tt.b, tt.a); got != -tt.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tt.b, tt.a, got, -tt.want)
		}
	}
}

func TestRange_Check(t *testing.T) {
	inclusive := Range{Min: "1.0", Max: "2.0"}
	strict := Range{Min: "1.0", Max: "2.0", MinStrict: true, MaxStrict: true}

	tests := []struct {
		name string
		r    Range
		v    string
		want Bound
	}{
		{"inside", inclusive, "1.5", BoundNone},
		{"inclusive min", inclusive, "1.0", BoundNone},
		{"inclusive max", inclusive, "2.0", BoundNone},
		{"strict min", strict, "1.0", BoundMin},
		{"strict max", strict, "2.0", BoundMax},
		{"below", inclusive, "0.9", BoundMin},
		{"above", inclusive, "2.0.1", BoundMax},
		{"unbounded", Range{}, "100", BoundNone},
		{"only min", Range{Min: "3"}, "100", BoundNone},
		{"only max", Range{Max: "3"}, "100", BoundMax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.Check(tt.v); got != tt.want {
				t.Errorf("Check(%q) = %d, want %d", tt.v, got, tt.want)
			}
			if got := tt.r.Contains(tt.v); got != (tt.want == BoundNone) {
				t.Errorf("Contains(%q) = %v", tt.v, got)
			}
		})
	}
}
