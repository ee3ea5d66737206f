//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// EnhancedErrors detects bare fmt.Errorf returns in the capture backends and
// the scenario runner. Errors leaving those packages carry a component and
// category so telemetry can group them.
//
// Old pattern:
//
//	return fmt.Errorf("unknown stream %s", id)
//
// New pattern:
//
//	return errors.New(fmt.Errorf("%w: %s", ErrUnknownStream, id)).
//	    Component(componentSim).
//	    Build()
func EnhancedErrors(m dsl.Matcher) {
	m.Match(
		`return fmt.Errorf($*args)`,
		`return $_, fmt.Errorf($*args)`,
	).
		Where(m.File().PkgPath.Matches(`internal/(backend|scenario)`)).
		Report("wrap with errors.New(...).Build() so the error carries component and category")
}

// ErrorsIsForSentinels detects equality comparisons against sentinel errors.
// Sentinels are returned wrapped, so only errors.Is matches them.
func ErrorsIsForSentinels(m dsl.Matcher) {
	m.Match(`$err == $sentinel`, `$err != $sentinel`).
		Where(m["err"].Type.Implements("error") &&
			m["sentinel"].Text.Matches(`^(\w+\.)?Err[A-Z]\w*$`)).
		Report("compare sentinel errors with errors.Is($err, $sentinel)")
}
