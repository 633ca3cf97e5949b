package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-blinkwatch/internal/log"
	"github.com/teslashibe/go-blinkwatch/pkg/frame"
	"github.com/teslashibe/go-blinkwatch/pkg/processor"
	"github.com/teslashibe/go-blinkwatch/pkg/store"
	"github.com/teslashibe/go-blinkwatch/pkg/video"
)

// ScanOptions holds flags for the scan command.
type ScanOptions struct {
	Width   int
	Height  int
	FPS     float64
	Skip    int
	Capture bool
	Record  bool
	NoBar   bool
}

var scanOpts ScanOptions

var scanCmd = &cobra.Command{
	Use:   "scan <input>",
	Short: "Count blinks in a video file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd.Context(), args[0], scanOpts)
	},
}

func init() {
	scanCmd.Flags().IntVar(&scanOpts.Width, "width", 640, "Decode width")
	scanCmd.Flags().IntVar(&scanOpts.Height, "height", 480, "Decode height")
	scanCmd.Flags().Float64Var(&scanOpts.FPS, "fps", 0, "Resample to this frame rate (0 keeps the input rate)")
	scanCmd.Flags().IntVarP(&scanOpts.Skip, "nth-frame", "n", 0, "Analyze every Nth frame (overrides processor.frameSkipCount)")
	scanCmd.Flags().BoolVar(&scanOpts.Capture, "capture", false, "Encode a still for every blink")
	scanCmd.Flags().BoolVar(&scanOpts.Record, "record", false, "Write blink events to the configured postgres log")
	scanCmd.Flags().BoolVar(&scanOpts.NoBar, "no-progress", false, "Disable the progress bar")
	rootCmd.AddCommand(scanCmd)
}

// blinkTally accumulates per tracking id counts.
type blinkTally struct {
	events map[int]int
	left   map[int]uint32
	right  map[int]uint32
}

func newBlinkTally() *blinkTally {
	return &blinkTally{events: map[int]int{}, left: map[int]uint32{}, right: map[int]uint32{}}
}

func (t *blinkTally) OnBlink(ev processor.BlinkEvent) {
	t.events[ev.TrackingID]++
	t.left[ev.TrackingID] = max(t.left[ev.TrackingID], ev.LeftBlinkCount)
	t.right[ev.TrackingID] = max(t.right[ev.TrackingID], ev.RightBlinkCount)
}

func (t *blinkTally) ids() []int {
	ids := make([]int, 0, len(t.events))
	for id := range t.events {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func runScan(ctx context.Context, input string, opts ScanOptions) error {
	pcfg := cfg.Processor
	if opts.Skip > 0 {
		pcfg.FrameSkipCount = opts.Skip
	}
	if opts.Capture {
		pcfg.CaptureOnBlink = true
	}

	src, err := video.NewFFmpegSource(video.FFmpegOptions{
		Input:  input,
		Width:  opts.Width,
		Height: opts.Height,
		FPS:    opts.FPS,
	})
	if err != nil {
		return err
	}
	defer src.Close()

	det, err := newDetector(cfg.Detector)
	if err != nil {
		return err
	}
	proc := processor.New(det, processor.WithConfig(pcfg), processor.WithExecutor(processor.Inline))
	defer proc.Dispose()

	tally := newBlinkTally()
	sinks := processor.BlinkSinks{tally}
	if opts.Record {
		if cfg.Sinks.Postgres == nil {
			return errors.New("--record needs sinks.postgres.url or DATABASE_URL")
		}
		st, err := store.New(ctx, cfg.Sinks.Postgres.URL)
		if err != nil {
			return fmt.Errorf("failed to open blink log: %w", err)
		}
		defer closeWithTimeout(func(ctx context.Context) error { st.Close(ctx); return nil })
		sinks = append(sinks, st)
	}
	proc.RegisterBlinkSink(sinks)

	total := -1
	if opts.FPS == 0 {
		total = probeFrameCount(ctx, input)
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Scanning"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetVisibility(!opts.NoBar),
	)

	var failures int
	err = src.Run(ctx, func(f *frame.Frame) {
		bar.Add(1)
		var de *processor.DetectorError
		if err := proc.Process(ctx, f); errors.As(err, &de) {
			failures++
			log.Debug("Detector failed", "frame", de.Frame, "error", de.Err)
		} else if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("Frame not processed", "error", err)
		}
	})
	bar.Finish()
	if err != nil {
		return err
	}

	st := proc.Stats()
	fmt.Fprintf(os.Stderr, "\nScan complete. Analyzed %d of %d frames, %d detector failures.\n",
		st.FramesProcessed, st.FramesSeen, failures)
	printTally(tally)
	return nil
}

func printTally(t *blinkTally) {
	ids := t.ids()
	if len(ids) == 0 {
		fmt.Println("No blinks detected.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "TRACKING ID\tLEFT\tRIGHT\tEVENTS")
	fmt.Fprintln(w, "-----------\t----\t-----\t------")
	for _, id := range ids {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\n", id, t.left[id], t.right[id], t.events[id])
	}
	w.Flush()
}

// probeFrameCount asks ffprobe for the video frame count, -1 when unknown.
func probeFrameCount(ctx context.Context, input string) int {
	out, err := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-count_packets",
		"-show_entries", "stream=nb_read_packets",
		"-of", "csv=p=0",
		input,
	).Output()
	if err != nil {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(string(out)), ",")))
	if err != nil || n <= 0 {
		return -1
	}
	return n
}
