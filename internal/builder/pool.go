package builder

import (
	"context"
	"fmt"
	"sync"

	"github.com/abogani/inau/internal/catalog"
)

// Pool is the Builder Pool: one job queue per catalog Builder host,
// grouped by Platform, with shortest-queue dispatch within a platform
// and SIGHUP-triggered reconciliation against the catalog's builders
// table. This generalizes inau-dispatcher.py's allbuilders global
// (platform_id -> []Builder, each backed by a multiprocessing Queue +
// Process) into goroutines + channels, and is driven by
// cmd/inaud wiring SIGHUP to Reconcile the way inau-dispatcher.py wires
// SIGUSR1 to signalHandler/reconcile.
type Pool struct {
	mu       sync.Mutex
	deps     Deps
	workers  map[int64][]*worker // platformID -> workers
}

func NewPool(deps Deps) *Pool {
	return &Pool{deps: deps, workers: make(map[int64][]*worker)}
}

// Reconcile re-reads the catalog's builders table and swaps in a fresh
// worker set per platform, draining and terminating the previous set
// only after the new one is live — the supervisor/swap pattern
// reconcile() uses (newbuilders built first, allbuilders swapped,
// oldbuilders drained last).
func (p *Pool) Reconcile(ctx context.Context) error {
	platforms, err := p.deps.Catalog.ListPlatforms(ctx)
	if err != nil {
		return err
	}

	newWorkers := make(map[int64][]*worker, len(platforms))
	for _, plat := range platforms {
		builders, err := p.deps.Catalog.ListBuilders(ctx, plat.ID)
		if err != nil {
			return err
		}
		ws := make([]*worker, 0, len(builders))
		for _, b := range builders {
			w := newWorker(b.Hostname, b.Environment, p.deps)
			go w.run()
			ws = append(ws, w)
		}
		if len(ws) > 0 {
			newWorkers[plat.ID] = ws
		}
	}

	p.mu.Lock()
	old := p.workers
	p.workers = newWorkers
	p.mu.Unlock()

	for _, ws := range old {
		for _, w := range ws {
			w.jobs <- Job{Kind: KindTerminate}
		}
	}
	return nil
}

// Dispatch assigns job to the Builder with the shortest pending queue
// for job's platform, the Go equivalent of
// `min(builders, key=lambda x: x.queue.qsize())`.
func (p *Pool) Dispatch(job Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	ws := p.workers[job.Build.PlatformID]
	if len(ws) == 0 {
		return false
	}
	shortest := ws[0]
	for _, w := range ws[1:] {
		if len(w.jobs) < len(shortest.jobs) {
			shortest = w
		}
	}
	shortest.jobs <- job
	return true
}

// Stop terminates every worker across every platform, used on daemon
// shutdown.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ws := range p.workers {
		for _, w := range ws {
			w.jobs <- Job{Kind: KindTerminate}
		}
	}
	p.workers = make(map[int64][]*worker)
}

// RecoverStaleBuilds closes out every build left RUNNING in the catalog
// by a prior crash, marking each FAILED with a diagnostic. This is a
// supplemented availability feature, not a state-machine change:
// spec.md §4.2.4 forbids auto-*retrying* a crashed RUNNING build (no
// new job is ever dispatched here, matching the teacher's own
// apps/daemon/internal/cli/daemon/daemon.go leaving its analogous
// ListStaleBuilds call commented out for the same reason), but a fresh
// daemon process has no worker anywhere still attempting that attempt —
// leaving the row RUNNING forever would violate the Build state
// machine's "terminal" expectation for dashboards and the Installer's
// SUCCESS-only lookups. Called once at startup, before Reconcile
// populates the worker set.
func (p *Pool) RecoverStaleBuilds(ctx context.Context) error {
	stale, err := p.deps.Catalog.ListStaleBuilds(ctx)
	if err != nil {
		return err
	}
	for _, b := range stale {
		msg := "build left RUNNING by a prior daemon crash or restart; not auto-retried, operator decision required"
		if err := p.deps.Catalog.UpdateBuildStatus(ctx, b.ID, catalog.BuildFailed, msg); err != nil {
			p.deps.Log.Error(fmt.Sprintf("recover stale build %d", b.ID), err)
			continue
		}
		p.deps.Log.Warn(fmt.Sprintf("build %d for repository %d marked FAILED on startup recovery", b.ID, b.RepositoryID))
	}
	return nil
}

// PlatformIDs reports which platforms currently have at least one live
// worker, used by health/status reporting.
func (p *Pool) PlatformIDs() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]int64, 0, len(p.workers))
	for id := range p.workers {
		ids = append(ids, id)
	}
	return ids
}
