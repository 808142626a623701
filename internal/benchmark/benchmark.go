// Package benchmark measures decode throughput and compares the barcode
// backends on the same images.
package benchmark

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"maps"
	"math"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Tech/qrlens/internal/barcode"
	"github.com/MeKo-Tech/qrlens/internal/common"
	"github.com/MeKo-Tech/qrlens/internal/qrerr"
	"github.com/MeKo-Tech/qrlens/internal/utils"
)

// MemoryStats holds memory usage statistics.
type MemoryStats struct {
	AllocBytes      uint64
	TotalAllocBytes uint64
	SysBytes        uint64
	NumGC           uint32
	GCCPUFraction   float64
}

// GetMemoryStats returns current memory statistics.
func GetMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{
		AllocBytes:      m.Alloc,
		TotalAllocBytes: m.TotalAlloc,
		SysBytes:        m.Sys,
		NumGC:           m.NumGC,
		GCCPUFraction:   m.GCCPUFraction,
	}
}

func (m MemoryStats) String() string {
	return fmt.Sprintf("Alloc: %d KB, Total: %d KB, Sys: %d KB, GC: %d (%.2f%% CPU)",
		m.AllocBytes/1024, m.TotalAllocBytes/1024, m.SysBytes/1024, m.NumGC, m.GCCPUFraction*100)
}

// Result is the outcome of running one benchmark function.
type Result struct {
	Name         string
	Duration     time.Duration
	MemoryBefore MemoryStats
	MemoryAfter  MemoryStats
	Iterations   int
	Error        error
}

// Average is the mean duration of one iteration.
func (r Result) Average() time.Duration {
	if r.Iterations == 0 {
		return 0
	}
	return r.Duration / time.Duration(r.Iterations)
}

// TotalAllocKB is the memory allocated during the run, which unlike the
// live heap difference never goes negative.
func (r Result) TotalAllocKB() int64 {
	d := r.MemoryAfter.TotalAllocBytes - r.MemoryBefore.TotalAllocBytes
	if d > math.MaxInt64 {
		return math.MaxInt64 / 1024
	}
	return int64(d) / 1024
}

func (r Result) String() string {
	if r.Error != nil {
		return fmt.Sprintf("%s: ERROR - %v", r.Name, r.Error)
	}
	return fmt.Sprintf("%s: %d iterations, avg: %v, total: %v, alloc: %d KB",
		r.Name, r.Iterations, r.Average(), r.Duration, r.TotalAllocKB())
}

type entry struct {
	name string
	fn   func() error
}

// Suite runs named benchmark functions.
type Suite struct {
	mu      sync.Mutex
	entries []entry
	results []Result
}

// NewSuite creates an empty suite.
func NewSuite() *Suite {
	return &Suite{}
}

// Add registers fn under name.
func (s *Suite) Add(name string, fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry{name: name, fn: fn})
}

// Run runs the benchmark called name.
func (s *Suite) Run(name string, iterations int) Result {
	s.mu.Lock()
	var found *entry
	for i := range s.entries {
		if s.entries[i].name == name {
			found = &s.entries[i]
			break
		}
	}
	s.mu.Unlock()
	if found == nil {
		return Result{Name: name, Error: fmt.Errorf("benchmark '%s' not found", name)}
	}
	return run(*found, iterations)
}

// RunAll runs every registered benchmark in order.
func (s *Suite) RunAll(iterations int) []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = make([]Result, 0, len(s.entries))
	for _, e := range s.entries {
		s.results = append(s.results, run(e, iterations))
	}
	return s.results
}

// Results returns the results of the last RunAll.
func (s *Suite) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results
}

// Print writes the results of the last RunAll to w.
func (s *Suite) Print(w io.Writer) {
	_, _ = fmt.Fprintln(w, "\nBenchmark Results:")
	_, _ = fmt.Fprintln(w, "==================")
	for _, r := range s.Results() {
		_, _ = fmt.Fprintln(w, r.String())
	}
	_, _ = fmt.Fprintln(w)
}

func run(e entry, iterations int) Result {
	runtime.GC()
	before := GetMemoryStats()

	timer := common.NewNamedTimer(e.name)
	var err error
	for range iterations {
		if err = e.fn(); err != nil {
			break
		}
	}
	duration := timer.Stop()

	return Result{
		Name:         e.name,
		Duration:     duration,
		MemoryBefore: before,
		MemoryAfter:  GetMemoryStats(),
		Iterations:   iterations,
		Error:        err,
	}
}

// Image is a benchmark input with a description.
type Image struct {
	Path        string
	Description string
}

// Comparison is the per-image outcome of running every backend.
type Comparison struct {
	ImagePath string
	ImageSize string
	// Texts maps a backend name to what it decoded, in symbol order.
	Texts   map[string][]string
	Results map[string]Result
}

// Fastest names the backend with the lowest total time. Backends that
// failed are ignored.
func (c Comparison) Fastest() string {
	best := ""
	for name, r := range c.Results {
		if r.Error != nil {
			continue
		}
		if best == "" || r.Duration < c.Results[best].Duration ||
			(r.Duration == c.Results[best].Duration && name < best) {
			best = name
		}
	}
	return best
}

// Agree reports whether every backend decoded the same texts.
func (c Comparison) Agree() bool {
	var ref []string
	first := true
	for _, texts := range c.Texts {
		if first {
			ref, first = texts, false
			continue
		}
		if strings.Join(texts, "\x00") != strings.Join(ref, "\x00") {
			return false
		}
	}
	return true
}

func (c Comparison) String() string {
	names := sortedNames(c.Results)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		r := c.Results[name]
		if r.Error != nil {
			parts = append(parts, fmt.Sprintf("%s: error", name))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %v avg (%d symbols)", name, r.Average(), len(c.Texts[name])))
	}
	return fmt.Sprintf("%s (%s): %s", filepath.Base(c.ImagePath), c.ImageSize, strings.Join(parts, ", "))
}

// BackendComparison decodes the same images with several backends.
type BackendComparison struct {
	backends []barcode.Backend
	opts     barcode.Options
	images   []Image
	results  []Comparison
}

// NewBackendComparison compares the given backends using opts.
func NewBackendComparison(opts barcode.Options, backends ...barcode.Backend) *BackendComparison {
	return &BackendComparison{backends: backends, opts: opts}
}

// AddImage adds an input image.
func (b *BackendComparison) AddImage(path, description string) {
	b.images = append(b.images, Image{Path: path, Description: description})
}

// Run benchmarks every image with every backend. Images that cannot be
// loaded are reported to progress and skipped.
func (b *BackendComparison) Run(ctx context.Context, iterations int, progress io.Writer) ([]Comparison, error) {
	if len(b.backends) == 0 {
		return nil, errors.New("no backends to compare")
	}
	if iterations <= 0 {
		return nil, fmt.Errorf("invalid iterations: %d (must be positive)", iterations)
	}
	b.results = make([]Comparison, 0, len(b.images))

	for _, im := range b.images {
		if err := ctx.Err(); err != nil {
			return b.results, err
		}
		img, _, err := utils.LoadImage(im.Path)
		if err != nil {
			_, _ = fmt.Fprintf(progress, "  Skipping %s: %v\n", im.Path, err)
			continue
		}
		_, _ = fmt.Fprintf(progress, "Benchmarking: %s\n", im.Description)

		cmp := b.compare(ctx, im.Path, img, iterations)
		b.results = append(b.results, cmp)
		_, _ = fmt.Fprintf(progress, "  %s\n", cmp.String())
	}
	return b.results, nil
}

func (b *BackendComparison) compare(ctx context.Context, path string, img image.Image, iterations int) Comparison {
	bounds := img.Bounds()
	cmp := Comparison{
		ImagePath: path,
		ImageSize: fmt.Sprintf("%dx%d (%.1fMP)", bounds.Dx(), bounds.Dy(), float64(bounds.Dx()*bounds.Dy())/1e6),
		Texts:     make(map[string][]string, len(b.backends)),
		Results:   make(map[string]Result, len(b.backends)),
	}

	for _, backend := range b.backends {
		// Warmup, which also records what the backend finds.
		syms, err := backend.Decode(ctx, img, b.opts)
		if err != nil && !qrerr.IsExpected(err) {
			cmp.Results[backend.Name()] = Result{Name: backend.Name(), Error: err}
			continue
		}
		texts := make([]string, 0, len(syms))
		for _, s := range syms {
			texts = append(texts, s.Text)
		}
		cmp.Texts[backend.Name()] = texts

		suite := NewSuite()
		suite.Add(backend.Name(), func() error {
			_, err := backend.Decode(ctx, img, b.opts)
			if qrerr.IsExpected(err) {
				return nil
			}
			return err
		})
		cmp.Results[backend.Name()] = suite.Run(backend.Name(), iterations)
	}
	return cmp
}

// Results returns the comparisons of the last Run.
func (b *BackendComparison) Results() []Comparison {
	return b.results
}

// PrintSummary writes system information, per-image lines and totals.
func (b *BackendComparison) PrintSummary(w io.Writer) {
	if len(b.results) == 0 {
		_, _ = fmt.Fprintln(w, "No benchmark results available")
		return
	}

	_, _ = fmt.Fprintln(w, "\n"+strings.Repeat("=", 72))
	_, _ = fmt.Fprintln(w, "Barcode Backend Benchmark Results")
	_, _ = fmt.Fprintln(w, strings.Repeat("=", 72))
	_, _ = fmt.Fprintf(w, "System: %s/%s, %d CPUs, %s\n\n", runtime.GOOS, runtime.GOARCH, runtime.NumCPU(), runtime.Version())

	totals := make(map[string]time.Duration)
	wins := make(map[string]int)
	disagreements := 0
	for _, c := range b.results {
		_, _ = fmt.Fprintf(w, "• %s\n", c.String())
		for name, r := range c.Results {
			if r.Error == nil {
				totals[name] += r.Duration
			}
		}
		if f := c.Fastest(); f != "" {
			wins[f]++
		}
		if !c.Agree() {
			disagreements++
		}
	}

	_, _ = fmt.Fprintln(w, "\nSummary:")
	for _, name := range sortedNames(totals) {
		_, _ = fmt.Fprintf(w, "  %-8s total %v, fastest on %d/%d images\n", name, totals[name], wins[name], len(b.results))
	}
	_, _ = fmt.Fprintf(w, "  Backends disagreed on %d/%d images\n", disagreements, len(b.results))
}

func sortedNames[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
