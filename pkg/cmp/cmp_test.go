package cmp_test

import (
	"testing"

	"github.com/opst/importexec/pkg/cmp"
)

func TestSliceContentEq(t *testing.T) {
	type When struct {
		a, b []int
	}
	theory := func(when When, then bool) func(*testing.T) {
		return func(t *testing.T) {
			if got := cmp.SliceContentEq(when.a, when.b); got != then {
				t.Errorf("SliceContentEq(%v, %v) = %v, want %v", when.a, when.b, got, then)
			}
		}
	}

	t.Run("empty slices", theory(When{a: []int{}, b: nil}, true))
	t.Run("same order", theory(When{a: []int{1, 2, 3}, b: []int{1, 2, 3}}, true))
	t.Run("different order", theory(When{a: []int{1, 2, 2}, b: []int{2, 1, 2}}, true))
	t.Run("different multiplicity", theory(When{a: []int{1, 2, 2}, b: []int{1, 1, 2}}, false))
	t.Run("different length", theory(When{a: []int{1, 2}, b: []int{1, 2, 3}}, false))
}
