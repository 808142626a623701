// Package scanner runs the decode pipeline on a single background worker fed
// by a latest-frame-wins mailbox. Producers such as a camera callback never
// block: a frame that arrives while another is still pending replaces it.
package scanner

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/MeKo-Tech/qrlens/internal/barcode"
	"github.com/MeKo-Tech/qrlens/internal/bitmap"
	"github.com/MeKo-Tech/qrlens/internal/qrcode"
	"github.com/MeKo-Tech/qrlens/internal/qrerr"
)

// KindInternal labels decode attempts that panicked.
const KindInternal = "internal"

// Decoder is the part of qrcode.Decoder the worker needs.
type Decoder interface {
	Decode(ctx context.Context, bm *bitmap.BinaryBitmap) (*qrcode.Result, error)
}

// Observer receives one call per processed frame. Implementations must be
// safe for use from the worker goroutine.
type Observer interface {
	// ObserveDecode reports the outcome of one frame; kind is empty on
	// success.
	ObserveDecode(kind string, elapsed time.Duration, corrected int)
	// ObserveDrop reports a pending frame replaced before it was decoded.
	ObserveDrop()
}

// Frame is one camera frame.
type Frame struct {
	Buffer bitmap.PixelBuffer
}

// Result is a decoded frame as delivered to the caller.
type Result struct {
	Format          barcode.Format `json:"format"`
	Text            string         `json:"text"`
	Sequence        uint64         `json:"sequence"`
	Version         int            `json:"version"`
	ECLevel         string         `json:"ec_level"`
	CorrectedErrors int            `json:"corrected_errors"`
	DecodedAt       time.Time      `json:"decoded_at"`
	Elapsed         time.Duration  `json:"elapsed_ns"`
}

// Stats is a snapshot of the scanner counters.
type Stats struct {
	Submitted uint64            `json:"submitted"`
	Dropped   uint64            `json:"dropped"`
	Decoded   uint64            `json:"decoded"`
	Failed    map[string]uint64 `json:"failed"`
}

// Options configures a Scanner.
type Options struct {
	// SlowDecode is the duration above which a decode is logged at info.
	SlowDecode time.Duration

	Logger   *slog.Logger
	Observer Observer
}

// DefaultOptions returns the default scanner options.
func DefaultOptions() Options {
	return Options{SlowDecode: 250 * time.Millisecond}
}

// slot is the content of the single-entry mailbox.
type slot struct {
	frame Frame
	seq   uint64
	stop  bool
}

// Scanner owns one worker goroutine and its mailbox.
type Scanner struct {
	dec     Decoder
	opts    Options
	log     *slog.Logger
	results *ResultQueue

	mu      sync.Mutex
	cond    *sync.Cond
	pending *slot
	seq     uint64
	stopped bool
	running bool
	done    chan struct{}
	stats   Stats
}

// New returns a scanner decoding with dec. Call Start or Serve to run it.
func New(dec Decoder, opts Options) *Scanner {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Scanner{
		dec:     dec,
		opts:    opts,
		log:     log,
		results: NewResultQueue(),
		done:    make(chan struct{}),
		stats:   Stats{Failed: make(map[string]uint64)},
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start launches the worker goroutine. It is a no-op if the worker is
// already running or the scanner was stopped.
func (s *Scanner) Start() {
	if !s.claim() {
		return
	}
	go s.work(context.Background())
}

// Serve runs the worker in the calling goroutine until ctx is cancelled or
// Stop is called, so the scanner can run under a suture supervisor. After
// Stop it returns suture.ErrDoNotRestart.
func (s *Scanner) Serve(ctx context.Context) error {
	if !s.claim() {
		return suture.ErrDoNotRestart
	}

	unwatch := context.AfterFunc(ctx, s.Stop)
	defer unwatch()

	s.work(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}
	return suture.ErrDoNotRestart
}

func (s *Scanner) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.stopped {
		return false
	}
	s.running = true
	return true
}

// Submit hands frame to the worker without blocking. A frame still waiting
// in the mailbox is replaced and counted as dropped. It returns false once
// the scanner is stopped.
func (s *Scanner) Submit(frame Frame) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	s.seq++
	s.stats.Submitted++
	dropped := s.pending != nil
	if dropped {
		s.stats.Dropped++
	}
	s.pending = &slot{frame: frame, seq: s.seq}
	s.cond.Signal()
	s.mu.Unlock()

	if dropped && s.opts.Observer != nil {
		s.opts.Observer.ObserveDrop()
	}
	return true
}

// TryReceive returns the oldest undelivered result, if any.
func (s *Scanner) TryReceive() (Result, bool) {
	return s.results.TryPop()
}

// Stop discards any pending frame, lets an in-flight decode finish and waits
// for the worker to exit. It is safe to call more than once.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		if s.pending != nil {
			s.stats.Dropped++
		}
		s.pending = &slot{stop: true}
		s.cond.Signal()
	}
	running := s.running
	s.mu.Unlock()

	if running {
		<-s.done
	}
}

// Stats returns a snapshot of the counters.
func (s *Scanner) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	out.Failed = make(map[string]uint64, len(s.stats.Failed))
	for k, v := range s.stats.Failed {
		out.Failed[k] = v
	}
	return out
}

func (s *Scanner) work(ctx context.Context) {
	defer close(s.done)
	s.log.Debug("Scanner worker started")
	for {
		s.mu.Lock()
		for s.pending == nil {
			s.cond.Wait()
		}
		item := s.pending
		s.pending = nil
		s.mu.Unlock()

		if item.stop {
			s.log.Debug("Scanner worker stopped")
			return
		}
		s.process(ctx, item)
	}
}

// process decodes one frame. A panic in the pipeline is logged and counted;
// the worker keeps running.
func (s *Scanner) process(ctx context.Context, item *slot) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Decode panicked", "sequence", item.seq, "panic", r, "stack", string(debug.Stack()))
			s.fail(KindInternal, time.Since(start))
		}
	}()

	bm, err := bitmap.Binarize(item.frame.Buffer)
	var res *qrcode.Result
	if err == nil {
		res, err = s.dec.Decode(ctx, bm)
	}
	elapsed := time.Since(start)

	if s.opts.SlowDecode > 0 && elapsed > s.opts.SlowDecode {
		s.log.Info("Slow decode", "sequence", item.seq, "duration_ms", elapsed.Milliseconds())
	}

	if err != nil {
		kind := qrerr.KindOf(err)
		if qrerr.IsExpected(err) {
			s.log.Debug("No symbol in frame", "sequence", item.seq, "kind", kind, "error", err)
		} else {
			s.log.Warn("Frame rejected", "sequence", item.seq, "kind", kind, "error", err)
		}
		s.fail(kind, elapsed)
		return
	}

	// Queue before counting so a caller that saw Decoded advance can
	// receive the result.
	s.results.Push(Result{
		Format:          barcode.FormatQR,
		Text:            res.Text,
		Sequence:        item.seq,
		Version:         res.Version,
		ECLevel:         res.ECLevel.String(),
		CorrectedErrors: res.CorrectedErrors,
		DecodedAt:       res.DecodedAt,
		Elapsed:         elapsed,
	})

	s.mu.Lock()
	s.stats.Decoded++
	s.mu.Unlock()
	if s.opts.Observer != nil {
		s.opts.Observer.ObserveDecode("", elapsed, res.CorrectedErrors)
	}
}

func (s *Scanner) fail(kind string, elapsed time.Duration) {
	s.mu.Lock()
	s.stats.Failed[kind]++
	s.mu.Unlock()
	if s.opts.Observer != nil {
		s.opts.Observer.ObserveDecode(kind, elapsed, 0)
	}
}
