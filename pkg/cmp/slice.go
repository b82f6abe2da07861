// Package cmp compares collections where the standard slices and maps fall short.
package cmp

// SliceContentEq tells whether a and b hold the same elements, ignoring their order.
//
// Multiplicity counts:
//
//	SliceContentEq([]int{1, 2, 2}, []int{2, 1, 2}) // => true
//	SliceContentEq([]int{1, 2, 2}, []int{1, 1, 2}) // => false
//
// Use it for file listings and artifacts which are produced concurrently.
func SliceContentEq[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	rest := make(map[T]int, len(a))
	for _, x := range a {
		rest[x]++
	}
	for _, y := range b {
		if rest[y] == 0 {
			return false
		}
		rest[y]--
	}
	return true
}
