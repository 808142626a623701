package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/thejerf/suture/v4"
	"golang.org/x/time/rate"

	"github.com/MeKo-Tech/qrlens/internal/bitmap"
	"github.com/MeKo-Tech/qrlens/internal/pipeline"
	"github.com/MeKo-Tech/qrlens/internal/qrcode"
	"github.com/MeKo-Tech/qrlens/internal/scanner"
	"github.com/MeKo-Tech/qrlens/internal/utils"
)

func newFramesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "frames <file|dir>...",
		Short: "Feed an image sequence through the frame scanner",
		Long: `Submit images in order to the background frame scanner, the way a camera
callback would. The scanner keeps only the latest pending frame, so frames
arriving faster than they can be decoded are dropped. Results are printed as
they arrive; with de-duplication a text is printed again only after a
different one was seen.

Examples:
  qrlens frames recording/
  qrlens frames recording/ --fps 15 --format json
  qrlens frames raw/ --row-order bottom_up --no-dedupe`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runFrames(cmd, args)
		},
	}

	cmd.Flags().Float64("fps", 0, "frames submitted per second (0 = as fast as images load)")
	cmd.Flags().StringP("format", "f", "text", "output format (text, json)")
	cmd.Flags().Bool("no-dedupe", false, "print every decoded frame, including repeats")
	cmd.Flags().String("row-order", "", "row order of the submitted buffers (top_down, bottom_up)")
	cmd.Flags().Duration("drain-timeout", 30*time.Second, "how long to wait for the last frames to decode")
	return cmd
}

func (a *app) runFrames(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return errors.New("no input files provided")
	}
	format, _ := cmd.Flags().GetString("format")
	if err := validateFormat(format, pipeline.FormatText, pipeline.FormatJSON); err != nil {
		return err
	}
	fps, _ := cmd.Flags().GetFloat64("fps")
	if fps < 0 {
		return fmt.Errorf("invalid fps: %.2f (must not be negative)", fps)
	}
	order := a.cfg.RowOrder()
	if cmd.Flags().Changed("row-order") {
		s, _ := cmd.Flags().GetString("row-order")
		var err error
		if order, err = bitmap.ParseRowOrder(s); err != nil {
			return err
		}
	}
	var dedupe *scanner.Deduper
	if noDedupe, _ := cmd.Flags().GetBool("no-dedupe"); a.cfg.Scanner.Dedupe && !noDedupe {
		dedupe = &scanner.Deduper{}
	}

	paths, err := utils.ExpandImagePaths(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.New("no supported images found")
	}

	opts := a.cfg.ScannerOptions()
	opts.Logger = a.log
	sc := scanner.New(qrcode.NewDecoder(a.decoderOptions()), opts)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sup := suture.New("frames", suture.Spec{
		EventHook: func(e suture.Event) {
			a.log.Debug("Scanner supervisor event", "event", e.String())
		},
	})
	sup.Add(sc)
	done := sup.ServeBackground(ctx)

	printer := &framePrinter{w: cmd.OutOrStdout(), asJSON: format == pipeline.FormatJSON, dedupe: dedupe}

	limit := rate.Inf
	if fps > 0 {
		limit = rate.Limit(fps)
	}
	limiter := rate.NewLimiter(limit, 1)

	for _, path := range paths {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		img, _, err := utils.LoadImage(path)
		if err != nil {
			a.log.Warn("Skipping frame", "path", path, "error", err)
			continue
		}
		sc.Submit(scanner.Frame{Buffer: bitmap.FromImage(img, order)})
		if err := printer.drain(sc); err != nil {
			return err
		}
	}

	drainTimeout, _ := cmd.Flags().GetDuration("drain-timeout")
	waitIdle(ctx, sc, drainTimeout)
	sc.Stop()
	if err := printer.drain(sc); err != nil {
		return err
	}
	cancel()
	<-done

	st := sc.Stats()
	var failed uint64
	for _, n := range st.Failed {
		failed += n
	}
	_, err = fmt.Fprintf(cmd.ErrOrStderr(), "Frames: %d submitted, %d decoded, %d dropped, %d without symbol, %d printed\n",
		st.Submitted, st.Decoded, st.Dropped, failed, printer.printed)
	if err != nil {
		return err
	}
	return cmd.Context().Err()
}

// waitIdle waits until every submitted frame was decoded, dropped or
// failed, or until timeout.
func waitIdle(ctx context.Context, sc *scanner.Scanner, timeout time.Duration) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()

	for {
		st := sc.Stats()
		settled := st.Decoded + st.Dropped
		for _, n := range st.Failed {
			settled += n
		}
		if settled >= st.Submitted {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-tick.C:
		}
	}
}

// framePrinter writes scanner results as text lines or JSON lines.
type framePrinter struct {
	w       io.Writer
	asJSON  bool
	dedupe  *scanner.Deduper
	printed int
}

func (p *framePrinter) drain(sc *scanner.Scanner) error {
	for {
		res, ok := sc.TryReceive()
		if !ok {
			return nil
		}
		if p.dedupe != nil && !p.dedupe.Accept(res) {
			continue
		}
		var err error
		if p.asJSON {
			err = json.NewEncoder(p.w).Encode(res)
		} else {
			_, err = fmt.Fprintf(p.w, "frame %d: %s\n", res.Sequence, res.Text)
		}
		if err != nil {
			return err
		}
		p.printed++
	}
}
