//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// SortSlices detects the sort package helpers and suggests the generic
// slices functions.
//
// Old patterns:
//
//	sort.Strings(ids)
//	sort.Slice(frames, func(i, j int) bool { return frames[i] < frames[j] })
//
// New pattern (Go 1.21+):
//
//	slices.Sort(ids)
//	slices.Sort(frames)
//
// See: https://pkg.go.dev/slices#Sort
func SortSlices(m dsl.Matcher) {
	m.Match(`sort.Ints($s)`, `sort.Strings($s)`, `sort.Float64s($s)`).
		Report("use slices.Sort($s) instead (Go 1.21+)").
		Suggest("slices.Sort($s)")

	m.Match(`sort.Slice($s, func($i, $j int) bool { return $s[$i] < $s[$j] })`).
		Report("use slices.Sort($s) instead of sort.Slice with a plain less-than (Go 1.21+)").
		Suggest("slices.Sort($s)")

	m.Match(`sort.Slice($s, $less)`).
		Report("use slices.SortFunc($s, cmp) instead of sort.Slice (Go 1.21+)")
}

// SlicesClone detects manual slice cloning and suggests slices.Clone.
//
// See: https://pkg.go.dev/slices#Clone
func SlicesClone(m dsl.Matcher) {
	m.Match(
		`append([]$typ(nil), $s...)`,
		`append([]$typ{}, $s...)`,
	).
		Report("use slices.Clone($s) instead of append([]$typ(nil), $s...) (Go 1.21+)")

	m.Match(`append($s[:0:0], $s...)`).
		Report("use slices.Clone($s) instead of append($s[:0:0], $s...) (Go 1.21+)")
}
