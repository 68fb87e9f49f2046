package xsynth

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jward/xsynth/internal/store"
	"github.com/jward/xsynth/internal/synth"
)

// outcome is a worker's result for one file.
type outcome struct {
	item *workItem
	out  *synth.Output
	err  error
}

// processLevel handles one dependency level in three phases:
//
//	Phase A (serial):   staleness check, forget records of files to rebuild.
//	Phase B (parallel): built-ins, synthesis, and output writing per file.
//	Phase C (serial):   record each synthesized file in the store.
//
// Files in one level never reference each other, so Phase B workers only
// read records committed by earlier levels or earlier runs.
func (e *Engine) processLevel(ctx context.Context, runID string, items []*workItem, report *Report, log *slog.Logger) error {
	// ---- Phase A: Serial preparation ----
	var todo []*workItem
	for _, it := range items {
		skip, err := e.upToDate(ctx, it)
		if err != nil {
			return err
		}
		if skip {
			log.Debug("up to date", "file", it.path)
			report.add(it.result(StatusSkipped))
			continue
		}
		if err := e.store.Forget(ctx, it.path); err != nil {
			return err
		}
		todo = append(todo, it)
	}
	if len(todo) == 0 {
		return nil
	}

	// ---- Phase B: Parallel synthesis ----
	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	results := e.synthesizeAll(workCtx, todo)

	// ---- Phase C: Serial commit ----
	for res := range results {
		if res.err != nil {
			if store.IsStorageError(res.err) || ctx.Err() != nil {
				cancel()
				for range results {
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return res.err
			}
			log.Error("synthesis failed", "file", res.item.path, "error", res.err)
			report.add(res.item.failed(res.err))
			continue
		}

		fr, err := e.commit(ctx, runID, res.item, res.out)
		if err != nil {
			cancel()
			for range results {
			}
			return err
		}
		for _, w := range fr.Warnings {
			log.Warn("directive ignored", "file", w.File, "line", w.Line, "error", w)
		}
		log.Info("synthesized", "file", fr.Path, "output", fr.OutputPath, "symbols", fr.Symbols)
		report.add(fr)
	}
	return nil
}

// synthesizeAll runs synthesize over items and streams the outcomes. In
// serial mode (or for a single item) the work happens on the calling
// goroutine before the channel is returned.
func (e *Engine) synthesizeAll(ctx context.Context, items []*workItem) <-chan outcome {
	resultCh := make(chan outcome, len(items))

	numWorkers := min(e.workers, len(items))
	if !e.parallel || numWorkers <= 1 {
		for _, it := range items {
			out, err := e.synthesize(ctx, it)
			resultCh <- outcome{item: it, out: out, err: err}
		}
		close(resultCh)
		return resultCh
	}

	workCh := make(chan *workItem, len(items))
	for _, it := range items {
		workCh <- it
	}
	close(workCh)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range workCh {
				out, err := e.synthesize(ctx, it)
				resultCh <- outcome{item: it, out: out, err: err}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()
	return resultCh
}
