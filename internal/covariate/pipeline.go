package covariate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/mkhalitova/climate-covariates/internal/cache"
	"github.com/mkhalitova/climate-covariates/internal/checkpoint"
	"github.com/mkhalitova/climate-covariates/internal/grid"
	"github.com/mkhalitova/climate-covariates/internal/metrics"
)

// BackendPlan binds one provider to its cache, resolution, and
// scheduling parameters. Workers=1 degrades to the fully sequential
// model; higher values dispatch a batch's cache misses concurrently.
type BackendPlan struct {
	Provider      Provider
	Cache         *cache.Cache
	ResolutionDeg float64
	LatColumn     string // derived quantized-latitude column
	LonColumn     string // derived quantized-longitude column
	BatchSize     int
	Workers       int
	BatchDelay    time.Duration
}

// Pipeline drives the backends over the checkpoint table: dedupe rows
// into unique cells per year, serve cache hits, dispatch misses, merge,
// persist after every batch.
type Pipeline struct {
	table    *checkpoint.Table
	progress *Progress
}

func NewPipeline(table *checkpoint.Table, progress *Progress) *Pipeline {
	return &Pipeline{table: table, progress: progress}
}

// Run processes the plans strictly in order: each backend completes
// fully before the next starts, so the two backends' unrelated rate
// limits never interact. On rate-limit exhaustion or cancellation the
// in-flight batch is abandoned unmerged, everything already merged is
// flushed, and the error is returned for the caller to map to an exit
// code.
func (p *Pipeline) Run(ctx context.Context, plans []*BackendPlan) error {
	p.progress.Update(func(s *Status) {
		s.State = "running"
		s.Records = p.table.Len()
		s.StartedAt = time.Now().UTC()
	})

	for _, plan := range plans {
		if err := p.runBackend(ctx, plan); err != nil {
			p.progress.Update(func(s *Status) { s.State = "aborted" })
			return err
		}
	}

	if err := p.table.Persist(); err != nil {
		return err
	}
	p.progress.Update(func(s *Status) { s.State = "done" })
	return nil
}

// cell is one unique quantized point within a year.
type cell struct {
	lat, lon float64
}

func (p *Pipeline) runBackend(ctx context.Context, plan *BackendPlan) error {
	backend := plan.Provider.Name()
	t := p.table

	t.EnsureColumns(plan.LatColumn, plan.LonColumn)
	t.EnsureColumns(plan.Provider.Variables()...)

	// Quantize every row and group row indexes by (year, cell).
	groups := make(map[int]map[string][]int)
	coords := make(map[string]cell)
	for i := 0; i < t.Len(); i++ {
		lat, err := t.Float(i, ColLat)
		if err != nil {
			return fmt.Errorf("%s: %w", backend, err)
		}
		lon, err := t.Float(i, ColLon)
		if err != nil {
			return fmt.Errorf("%s: %w", backend, err)
		}
		year, err := t.Int(i, ColYear)
		if err != nil {
			return fmt.Errorf("%s: %w", backend, err)
		}

		qlat, qlon := grid.Quantize(lat, lon, plan.ResolutionDeg)
		t.Set(i, plan.LatColumn, FormatCoord(qlat))
		t.Set(i, plan.LonColumn, FormatCoord(qlon))

		key := CellKey{Year: year, Lat: qlat, Lon: qlon}.String()
		if groups[year] == nil {
			groups[year] = make(map[string][]int)
		}
		groups[year][key] = append(groups[year][key], i)
		coords[key] = cell{lat: qlat, lon: qlon}
	}

	years := make([]int, 0, len(groups))
	total := 0
	for year, cells := range groups {
		years = append(years, year)
		total += len(cells)
	}
	// Most recent years first, a deliberate priority choice.
	sort.Sort(sort.Reverse(sort.IntSlice(years)))

	p.progress.Update(func(s *Status) {
		s.Backend = backend
		s.UniqueCells = total
		s.DoneCells = 0
	})
	metrics.CellsRemaining.WithLabelValues(backend).Set(float64(total))
	log.Printf("INFO: %s: %d unique cells across %d years", backend, total, len(years))

	for _, year := range years {
		keys := make([]string, 0, len(groups[year]))
		for k := range groups[year] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		log.Printf("INFO: %s: year %d: %d unique cells", backend, year, len(keys))
		p.progress.Update(func(s *Status) { s.Year = year })

		for start := 0; start < len(keys); start += plan.BatchSize {
			end := start + plan.BatchSize
			if end > len(keys) {
				end = len(keys)
			}
			if err := p.runBatch(ctx, plan, year, keys[start:end], groups[year], coords); err != nil {
				return err
			}

			// Inter-batch delay, a flat rate-limit safety margin.
			if err := waitFor(ctx, plan.BatchDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Pipeline) runBatch(ctx context.Context, plan *BackendPlan, year int, batch []string, rows map[string][]int, coords map[string]cell) error {
	backend := plan.Provider.Name()
	started := time.Now()

	// Cache lookups first; hits broadcast to every row sharing the
	// cell immediately.
	var misses []string
	for _, key := range batch {
		if vals, ok := plan.Cache.Get(key); ok {
			p.apply(plan, rows[key], vals)
			metrics.CacheHitsTotal.WithLabelValues(backend).Inc()
			p.progress.Update(func(s *Status) { s.CacheHits++; s.DoneCells++ })
			continue
		}
		misses = append(misses, key)
	}

	if len(misses) > 0 {
		results, err := p.dispatch(ctx, plan, year, misses, coords)
		if err != nil {
			// The batch is abandoned wholesale; nothing from it is
			// merged, but everything merged before it must survive.
			log.Printf("ERROR: %s: batch abandoned, flushing progress: %v", backend, err)
			if ferr := p.flush(plan); ferr != nil {
				log.Printf("ERROR: %s: flush on abort failed: %v", backend, ferr)
			}
			return err
		}
		for _, key := range misses {
			vals := results[key]
			plan.Cache.Put(key, vals)
			p.apply(plan, rows[key], vals)
			p.progress.Update(func(s *Status) { s.Fetched++; s.DoneCells++ })
		}
	}

	// The per-batch persist is the synchronization barrier: a crash
	// after this point loses at most the next batch.
	if err := p.flush(plan); err != nil {
		return err
	}
	metrics.BatchesTotal.WithLabelValues(backend).Inc()
	metrics.BatchDurationSeconds.WithLabelValues(backend).Observe(time.Since(started).Seconds())
	metrics.CellsRemaining.WithLabelValues(backend).Sub(float64(len(batch)))
	return nil
}

// dispatch fetches every missed cell, up to plan.Workers in flight at
// once. Results merge only after all fetches settle; a rate-limit
// exhaustion or cancellation cancels the remainder and discards the
// whole batch.
func (p *Pipeline) dispatch(ctx context.Context, plan *BackendPlan, year int, misses []string, coords map[string]cell) (map[string]Values, error) {
	backend := plan.Provider.Name()

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := plan.Workers
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		results  = make(map[string]Values, len(misses))
		abortErr error
	)

	for _, key := range misses {
		select {
		case sem <- struct{}{}:
		case <-fetchCtx.Done():
		}
		if fetchCtx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			defer func() { <-sem }()

			c := coords[key]
			vals, err := plan.Provider.Fetch(fetchCtx, c.lat, c.lon, year)
			if err != nil {
				mu.Lock()
				if abortErr == nil {
					abortErr = err
				}
				mu.Unlock()
				cancel()
				return
			}

			metrics.FetchesTotal.WithLabelValues(backend, fetchStatus(vals)).Inc()
			mu.Lock()
			results[key] = vals
			mu.Unlock()
		}(key)
	}
	wg.Wait()

	if abortErr != nil {
		if errors.Is(abortErr, ErrRateLimited) {
			metrics.FetchesTotal.WithLabelValues(backend, "rate_limited").Inc()
		}
		return nil, abortErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// apply broadcasts one cell's values to every row sharing the cell, so
// all such rows end byte-identical.
func (p *Pipeline) apply(plan *BackendPlan, rows []int, vals Values) {
	for _, row := range rows {
		for _, variable := range plan.Provider.Variables() {
			p.table.SetFloat(row, variable, vals[variable])
		}
	}
}

// flush persists the checkpoint and the backend's cache, in that
// order. Called after every batch and on every abort path.
func (p *Pipeline) flush(plan *BackendPlan) error {
	if err := p.table.Persist(); err != nil {
		return err
	}
	return plan.Cache.Flush()
}

func fetchStatus(vals Values) string {
	for _, v := range vals {
		if v != nil {
			return "ok"
		}
	}
	return "absent"
}

func waitFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
