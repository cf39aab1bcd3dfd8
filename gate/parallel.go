package gate

import (
	"context"

	"golang.org/x/sync/errgroup"

	migration "github.com/scriptautomation123/oracle-table-migration"
)

// Check is one gate invocation, typically a closure over an Engine method.
type Check func(ctx context.Context) (migration.GateResult, error)

// RunAll issues independent checks concurrently against the database and
// joins their results in call order. Gates are pure reads, so fan-out needs
// no shared state; no mutating step proceeds until all results are in. If
// any check errors, the first error is returned and the results are
// discarded.
func RunAll(ctx context.Context, checks ...Check) ([]migration.GateResult, error) {
	results := make([]migration.GateResult, len(checks))

	g, ctx := errgroup.WithContext(ctx)
	for i, check := range checks {
		g.Go(func() error {
			r, err := check(ctx)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// FirstFailure returns the first FAIL result, if any.
func FirstFailure(results []migration.GateResult) (migration.GateResult, bool) {
	for _, r := range results {
		if r.Verdict == migration.GateFail {
			return r, true
		}
	}
	return migration.GateResult{}, false
}
