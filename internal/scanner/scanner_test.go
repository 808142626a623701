package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/suture/v4"

	"github.com/MeKo-Tech/qrlens/internal/barcode"
	"github.com/MeKo-Tech/qrlens/internal/bitmap"
	"github.com/MeKo-Tech/qrlens/internal/qrcode"
	"github.com/MeKo-Tech/qrlens/internal/qrerr"
	"github.com/MeKo-Tech/qrlens/internal/testutil"
)

// fakeDecoder returns "frame-N" for the Nth call. When gate is set every
// call announces itself on entered and waits for gate to be closed.
type fakeDecoder struct {
	calls   atomic.Int32
	entered chan struct{}
	gate    chan struct{}
	panicOn int32
	failOn  int32
}

func (f *fakeDecoder) Decode(_ context.Context, _ *bitmap.BinaryBitmap) (*qrcode.Result, error) {
	n := f.calls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if n == f.panicOn {
		panic("decoder exploded")
	}
	if n == f.failOn {
		return nil, qrerr.New(qrerr.ErrUncorrectableBlock, "rs", "too many errors")
	}
	return &qrcode.Result{Text: fmt.Sprintf("frame-%d", n), Version: 1, DecodedAt: time.Now()}, nil
}

func tinyFrame() Frame {
	return Frame{Buffer: bitmap.PixelBuffer{Pix: make([]uint8, 2*2*3), Width: 2, Height: 2}}
}

func drain(s *Scanner) []Result {
	var out []Result
	for {
		r, ok := s.TryReceive()
		if !ok {
			return out
		}
		out = append(out, r)
	}
}

func TestScanner_LatestFrameWins(t *testing.T) {
	dec := &fakeDecoder{entered: make(chan struct{}, 16), gate: make(chan struct{})}
	s := New(dec, DefaultOptions())
	s.Start()
	defer s.Stop()

	require.True(t, s.Submit(tinyFrame()))
	<-dec.entered

	// The worker is busy; only the last of these survives.
	for i := 0; i < 4; i++ {
		require.True(t, s.Submit(tinyFrame()))
	}
	close(dec.gate)

	assert.Eventually(t, func() bool { return s.Stats().Decoded == 2 }, 2*time.Second, 5*time.Millisecond)

	results := drain(s)
	require.Len(t, results, 2)
	assert.Equal(t, uint64(1), results[0].Sequence)
	assert.Equal(t, uint64(5), results[1].Sequence)
	assert.Equal(t, barcode.FormatQR, results[1].Format)

	stats := s.Stats()
	assert.Equal(t, uint64(5), stats.Submitted)
	assert.Equal(t, uint64(3), stats.Dropped)
}

func TestScanner_StopDiscardsPendingAndWaitsForInFlight(t *testing.T) {
	dec := &fakeDecoder{entered: make(chan struct{}, 4), gate: make(chan struct{})}
	s := New(dec, DefaultOptions())
	s.Start()

	require.True(t, s.Submit(tinyFrame()))
	<-dec.entered
	require.True(t, s.Submit(tinyFrame()))

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a decode was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(dec.gate)
	<-stopped

	results := drain(s)
	require.Len(t, results, 1)
	assert.Equal(t, "frame-1", results[0].Text)
	assert.Equal(t, int32(1), dec.calls.Load())
	assert.Equal(t, uint64(1), s.Stats().Dropped)

	assert.False(t, s.Submit(tinyFrame()))
	s.Stop()
}

func TestScanner_RecoversFromPanics(t *testing.T) {
	dec := &fakeDecoder{panicOn: 1, failOn: 2}
	s := New(dec, DefaultOptions())
	s.Start()
	defer s.Stop()

	for want := 1; want <= 3; want++ {
		require.True(t, s.Submit(tinyFrame()))
		assert.Eventually(t, func() bool { return dec.calls.Load() == int32(want) }, time.Second, time.Millisecond)
	}
	assert.Eventually(t, func() bool { return s.Stats().Decoded == 1 }, time.Second, time.Millisecond)

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Failed[KindInternal])
	assert.Equal(t, uint64(1), stats.Failed[qrerr.KindRS])

	results := drain(s)
	require.Len(t, results, 1)
	assert.Equal(t, "frame-3", results[0].Text)
}

func TestScanner_InvalidFrame(t *testing.T) {
	s := New(&fakeDecoder{}, DefaultOptions())
	s.Start()
	defer s.Stop()

	require.True(t, s.Submit(Frame{Buffer: bitmap.PixelBuffer{Width: 4, Height: 4}}))
	assert.Eventually(t, func() bool { return s.Stats().Failed[qrerr.KindInput] == 1 }, time.Second, time.Millisecond)
}

func TestScanner_DecodesRealFrames(t *testing.T) {
	img := testutil.MustEncodeQR(t, "HELLO", testutil.QROptions{Level: "M"}).Image(4, 4)
	s := New(qrcode.NewDecoder(qrcode.DefaultOptions()), DefaultOptions())
	s.Start()
	defer s.Stop()

	for _, order := range []bitmap.RowOrder{bitmap.TopDown, bitmap.BottomUp} {
		before := s.Stats().Decoded
		require.True(t, s.Submit(Frame{Buffer: bitmap.FromImage(img, order)}))
		assert.Eventually(t, func() bool { return s.Stats().Decoded == before+1 }, 2*time.Second, 5*time.Millisecond)
	}

	results := drain(s)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "HELLO", r.Text)
		assert.Equal(t, "M", r.ECLevel)
	}
}

type countingObserver struct {
	mu      sync.Mutex
	kinds   []string
	dropped int
}

func (o *countingObserver) ObserveDecode(kind string, _ time.Duration, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.kinds = append(o.kinds, kind)
}

func (o *countingObserver) ObserveDrop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped++
}

func TestScanner_Observer(t *testing.T) {
	obs := &countingObserver{}
	dec := &fakeDecoder{entered: make(chan struct{}, 8), gate: make(chan struct{}), failOn: 2}
	opts := DefaultOptions()
	opts.Observer = obs
	s := New(dec, opts)
	s.Start()

	s.Submit(tinyFrame())
	<-dec.entered
	s.Submit(tinyFrame())
	s.Submit(tinyFrame())
	close(dec.gate)
	assert.Eventually(t, func() bool { return dec.calls.Load() == 2 }, time.Second, time.Millisecond)
	s.Stop()

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []string{"", qrerr.KindRS}, obs.kinds)
	assert.Equal(t, 1, obs.dropped)
}

func TestScanner_Serve(t *testing.T) {
	s := New(&fakeDecoder{}, DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx) }()

	require.Eventually(t, func() bool {
		s.Submit(tinyFrame())
		return s.Stats().Decoded > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	assert.False(t, s.Submit(tinyFrame()))
	assert.True(t, errors.Is(s.Serve(context.Background()), suture.ErrDoNotRestart))
}

func TestScanner_StopBeforeStart(t *testing.T) {
	s := New(&fakeDecoder{}, DefaultOptions())
	s.Stop()
	s.Start()
	assert.False(t, s.Submit(tinyFrame()))
	_, ok := s.TryReceive()
	assert.False(t, ok)
}

// TestScanner_FrameAccounting checks that every submitted frame is either
// dropped or decoded exactly once, results never outnumber frames and
// sequences only increase.
func TestScanner_FrameAccounting(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("frames are conserved", prop.ForAll(
		func(n int) bool {
			dec := &fakeDecoder{failOn: 3}
			s := New(dec, DefaultOptions())
			s.Start()
			for i := 0; i < n; i++ {
				s.Submit(tinyFrame())
			}
			s.Stop()

			stats := s.Stats()
			var failed uint64
			for _, v := range stats.Failed {
				failed += v
			}
			if stats.Submitted != uint64(n) || stats.Dropped+stats.Decoded+failed != stats.Submitted {
				return false
			}

			results := drain(s)
			if uint64(len(results)) != stats.Decoded || len(results) > n {
				return false
			}
			for i := 1; i < len(results); i++ {
				if results[i].Sequence <= results[i-1].Sequence {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 200),
	))

	properties.TestingRun(t)
}

func TestResultQueue(t *testing.T) {
	q := NewResultQueue()
	_, ok := q.TryPop()
	assert.False(t, ok)

	// Interleave pushes and pops across several ring growths.
	next := uint64(1)
	for i := uint64(1); i <= 100; i++ {
		q.Push(Result{Sequence: i})
		if i%3 == 0 {
			r, ok := q.TryPop()
			require.True(t, ok)
			assert.Equal(t, next, r.Sequence)
			next++
		}
	}
	assert.Equal(t, 100-33, q.Len())
	for ; next <= 100; next++ {
		r, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, next, r.Sequence)
	}
	assert.Zero(t, q.Len())
}

func TestResultQueue_ConcurrentProducers(t *testing.T) {
	q := NewResultQueue()
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				q.Push(Result{Text: "x"})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 2000, q.Len())
}

func TestDeduper(t *testing.T) {
	var d Deduper
	tests := []struct {
		text     string
		expected bool
	}{
		{"HELLO", true},
		{"HELLO", false},
		{"WORLD", true},
		{"HELLO", true},
		{"", true},
		{"", false},
	}
	for i, tt := range tests {
		assert.Equal(t, tt.expected, d.Accept(Result{Text: tt.text}), "step %d", i)
	}
	d.Reset()
	assert.True(t, d.Accept(Result{Text: ""}))
}
