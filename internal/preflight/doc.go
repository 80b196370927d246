// Package preflight checks that the machine, the configured source and the
// embedding model are usable before a sync or server run.
//
//	checker := preflight.New(cfg, preflight.WithEmbedder(emb))
//	results := checker.RunAll(ctx)
//	if checker.HasCriticalFailures(results) {
//	    // refuse to start
//	}
package preflight
