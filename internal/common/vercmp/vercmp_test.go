package vercmp

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		v1, v2   string
		expected int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0", "1.0.0", 0},
		{"1.1.0", "1.0.0", 1},
		{"1.0.0", "1.1.0", -1},
		{"1.10.0", "1.9.0", 1},
		{"19.0.1", "19.0.0", 1},
		{"v2.0.0", "2.0.0", 0},
		{"2.0.0-rc1", "2.0.0", -1},
		{"2.0.0-beta2", "2.0.0-rc1", -1},
		{"2.0.0_rc2", "2.0.0-rc1", 1},
		{"1.0.0-p1", "1.0.0", 1},
		{"1.7.1", "1.7", 1},
		{"0.9", "0.10", -1},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_vs_%s", tt.v1, tt.v2), func(t *testing.T) {
			if got := Compare(tt.v1, tt.v2); got != tt.expected {
				t.Errorf("Compare(%q, %q) = %d, want %d", tt.v1, tt.v2, got, tt.expected)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, expected string
	}{
		{"1.2.3", "1.2.3"},
		{"v1.2.3", "1.2.3"},
		{"  V19.0.1\n", "19.0.1"},
		{"1_2_0", "1.2.0"},
		{"2.0-RC1", "2.0-rc1"},
		{"1.2.3.4-rc.2", "1.2.3.4-rc2"},
		{"Release 19.0.1 (2024)", "19.0.1"},
		{"nightly", "nightly"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.expected {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.expected)
			}
		})
	}
}

func TestIsDotted(t *testing.T) {
	valid := []string{"1", "1.2", "1.2.3", "10.20.30.40"}
	invalid := []string{"", "1.", ".1", "1..2", "v1.2", "1.2-rc1", "abc"}

	for _, v := range valid {
		if !IsDotted(v) {
			t.Errorf("IsDotted(%q) = false, want true", v)
		}
	}
	for _, v := range invalid {
		if IsDotted(v) {
			t.Errorf("IsDotted(%q) = true, want false", v)
		}
	}
}

func TestMax(t *testing.T) {
	if got := Max(nil); got != "" {
		t.Errorf("Max(nil) = %q, want empty", got)
	}
	if got := Max([]string{"1.0.0", "1.10.0", "1.9.9"}); got != "1.10.0" {
		t.Errorf("Max = %q, want 1.10.0", got)
	}
	if got := Max([]string{"2.0", "2.0.0"}); got != "2.0" {
		t.Errorf("Max should keep the first of equal versions, got %q", got)
	}
}

// genDotted generates four-component dotted numeric versions
func genDotted() gopter.Gen {
	return gen.SliceOfN(4, gen.IntRange(0, 30)).Map(func(parts []int) string {
		if len(parts) == 0 {
			return "0"
		}
		s := fmt.Sprintf("%d", parts[0])
		for _, p := range parts[1:] {
			s += fmt.Sprintf(".%d", p)
		}
		return s
	})
}

// TestCompareProperties checks ordering laws over generated versions
func TestCompareProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("Compare is reflexive", prop.ForAll(
		func(v string) bool {
			return Compare(v, v) == 0
		},
		genDotted(),
	))

	properties.Property("Compare is antisymmetric", prop.ForAll(
		func(a, b string) bool {
			return Compare(a, b) == -Compare(b, a)
		},
		genDotted(),
		genDotted(),
	))

	properties.Property("Trailing zero components do not change ordering", prop.ForAll(
		func(v string) bool {
			return Compare(v, v+".0") == 0 && Compare(v+".0.0", v) == 0
		},
		genDotted(),
	))

	properties.Property("Max is not lower than any element", prop.ForAll(
		func(a, b, c string) bool {
			m := Max([]string{a, b, c})
			return Compare(m, a) >= 0 && Compare(m, b) >= 0 && Compare(m, c) >= 0
		},
		genDotted(),
		genDotted(),
		genDotted(),
	))

	properties.TestingRun(t)
}
