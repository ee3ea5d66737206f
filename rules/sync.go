//go:build ruleguard

// Package gorules contains custom linting rules for golangci-lint via ruleguard.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// WaitGroupGo detects the manual Add/Done goroutine pattern and suggests
// wg.Go (Go 1.25+).
//
// Old pattern:
//
//	wg.Add(1)
//	go func() {
//	    defer wg.Done()
//	    doSomething()
//	}()
//
// New pattern:
//
//	wg.Go(func() {
//	    doSomething()
//	})
//
// See: https://pkg.go.dev/sync#WaitGroup.Go
func WaitGroupGo(m dsl.Matcher) {
	m.Match(
		`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`,
	).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { $body }) instead of manual Add/Done pattern (Go 1.25+)").
		Suggest("$wg.Go(func() { $body })")

	m.Match(`go func() { defer $wg.Done(); $*_ }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup")).
		Report("use $wg.Go(func() { ... }) instead of go func() { defer $wg.Done(); ... }() (Go 1.25+)")
}

// MutexUnlockInLockedHelper flags explicit unlocks inside helpers whose name
// ends in Locked. Those run with the caller's lock held and must leave it
// held; commitLocked is the one helper allowed to release it.
func MutexUnlockInLockedHelper(m dsl.Matcher) {
	m.Match(`func ($r $_) $name($*_) $*_ { $*_; $r.mu.Unlock(); $*_ }`).
		Where(m["name"].Text.Matches(`Locked$`) && !m["name"].Text.Matches(`^commitLocked$`)).
		Report("$name runs with mu held and must not unlock it")
}
