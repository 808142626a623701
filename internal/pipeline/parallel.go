package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"
)

// ParallelConfig holds configuration for parallel processing.
type ParallelConfig struct {
	MaxWorkers       int              // Number of parallel workers (0 = runtime.NumCPU())
	ContinueOnError  bool             // Keep going after a file fails to load or decode
	ProgressCallback ProgressCallback // Optional progress reporting
	ErrorHandler     func(int, string, error)
}

// DefaultParallelConfig returns sensible defaults for parallel processing.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{MaxWorkers: runtime.NumCPU()}
}

type fileJob struct {
	index int
	path  string
}

type fileResult struct {
	index  int
	result *ImageResult
	err    error
}

// ProcessFilesParallel scans paths on a worker pool and returns results in
// input order. Without ContinueOnError the first failure cancels the
// remaining work; with it, failed entries carry the message in
// ImageResult.Error and the first error is still returned.
func (p *Pipeline) ProcessFilesParallel(ctx context.Context, paths []string, config ParallelConfig) ([]*ImageResult, error) {
	if len(paths) == 0 {
		return nil, errors.New("no images provided")
	}
	if p == nil || p.Backend == nil {
		return nil, errors.New("pipeline not initialized")
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = runtime.NumCPU()
	}
	workers := min(config.MaxWorkers, len(paths))

	if config.ProgressCallback != nil {
		config.ProgressCallback.OnStart(len(paths))
		defer config.ProgressCallback.OnComplete()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan fileJob)
	results := make(chan fileResult, len(paths))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go p.worker(ctx, jobs, results, &wg)
	}

	go func() {
		defer close(jobs)
		for i, path := range paths {
			select {
			case jobs <- fileJob{index: i, path: path}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	ordered := make([]*ImageResult, len(paths))
	var firstErr error
	processed := 0
	for r := range results {
		processed++
		if r.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("image %d (%s): %w", r.index, paths[r.index], r.err)
			}
			if config.ErrorHandler != nil {
				config.ErrorHandler(r.index, paths[r.index], r.err)
			}
			if config.ProgressCallback != nil {
				config.ProgressCallback.OnError(processed, r.err)
			}
			if !config.ContinueOnError {
				cancel()
				continue
			}
			ordered[r.index] = &ImageResult{Source: paths[r.index], Error: r.err.Error()}
		} else {
			ordered[r.index] = r.result
		}
		if config.ProgressCallback != nil {
			config.ProgressCallback.OnProgress(processed, len(paths))
		}
	}

	if firstErr != nil {
		if config.ContinueOnError {
			return ordered, firstErr
		}
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ordered, nil
}

func (p *Pipeline) worker(ctx context.Context, jobs <-chan fileJob, results chan<- fileResult, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case job, ok := <-jobs:
			if !ok {
				return
			}
			res, err := p.ProcessFile(ctx, job.path)
			results <- fileResult{index: job.index, result: res, err: err}
		case <-ctx.Done():
			return
		}
	}
}

// ParallelStats holds statistics about a parallel run.
type ParallelStats struct {
	TotalImages      int           `json:"total_images"`
	WithSymbols      int           `json:"with_symbols"`
	FailedImages     int           `json:"failed_images"`
	WorkerCount      int           `json:"worker_count"`
	TotalDuration    time.Duration `json:"total_duration_ns"`
	AveragePerImage  time.Duration `json:"average_per_image_ns"`
	ThroughputPerSec float64       `json:"throughput_per_sec"`
}

// CalculateParallelStats summarizes results produced in duration.
func CalculateParallelStats(results []*ImageResult, duration time.Duration, workerCount int) ParallelStats {
	stats := ParallelStats{TotalImages: len(results), WorkerCount: workerCount, TotalDuration: duration}
	for _, r := range results {
		switch {
		case r == nil || r.Error != "":
			stats.FailedImages++
		case r.Found():
			stats.WithSymbols++
		}
	}
	if done := stats.TotalImages - stats.FailedImages; done > 0 && duration > 0 {
		stats.AveragePerImage = duration / time.Duration(done)
		stats.ThroughputPerSec = float64(done) / duration.Seconds()
	}
	return stats
}
