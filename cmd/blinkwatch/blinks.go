package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-blinkwatch/pkg/store"
)

var (
	blinksRecent int
	blinksReset  bool
	blinksYes    bool
)

var blinksCmd = &cobra.Command{
	Use:   "blinks",
	Short: "Show or clear the postgres blink log",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Sinks.Postgres == nil {
			return errors.New("no blink log configured (sinks.postgres.url or DATABASE_URL)")
		}
		ctx := cmd.Context()
		st, err := store.New(ctx, cfg.Sinks.Postgres.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		// Use Background so Close still runs after Ctrl+C.
		defer st.Close(context.Background())

		if blinksReset {
			if !blinksYes && !confirm(bufio.NewReader(os.Stdin), "Delete every logged blink event?") {
				return nil
			}
			if err := st.Reset(ctx); err != nil {
				return fmt.Errorf("failed to reset blink log: %w", err)
			}
			fmt.Println("Blink log cleared.")
			return nil
		}
		if blinksRecent > 0 {
			return listRecent(ctx, st, blinksRecent)
		}
		return listCounts(ctx, st)
	},
}

func init() {
	blinksCmd.Flags().IntVar(&blinksRecent, "recent", 0, "List the N newest events instead of per-face totals")
	blinksCmd.Flags().BoolVar(&blinksReset, "reset", false, "Delete every logged event")
	blinksCmd.Flags().BoolVarP(&blinksYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(blinksCmd)
}

func listCounts(ctx context.Context, st *store.Store) error {
	counts, err := st.Counts(ctx)
	if err != nil {
		return fmt.Errorf("failed to count blinks: %w", err)
	}
	if len(counts) == 0 {
		fmt.Println("No blinks logged.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "TRACKING ID\tLEFT\tRIGHT\tEVENTS")
	fmt.Fprintln(w, "-----------\t----\t-----\t------")
	for _, c := range counts {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\n", c.TrackingID, c.Left, c.Right, c.Events)
	}
	return w.Flush()
}

func listRecent(ctx context.Context, st *store.Store, limit int) error {
	events, err := st.Recent(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list blinks: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "FRAME TIME\tTRACKING ID\tEYE\tLEFT\tRIGHT\tCAPTURE")
	for _, ev := range events {
		capture := "-"
		if ev.CapturedFrame != "" {
			capture = fmt.Sprintf("%d B", len(ev.CapturedFrame))
		}
		fmt.Fprintf(w, "%v\t%d\t%s\t%d\t%d\t%s\n",
			time.Duration(ev.Timestamp).Round(time.Millisecond),
			ev.TrackingID, ev.Eye, ev.LeftBlinkCount, ev.RightBlinkCount, capture)
	}
	return w.Flush()
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	answer, _ := r.ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
